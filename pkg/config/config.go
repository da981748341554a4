package config

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/types"
)

// Defaults for the optional tunables
const (
	DefaultPollInterval   = 1 * time.Second
	DefaultWaitTimeout    = 15 * time.Minute
	DefaultProbeTimeout   = 1 * time.Second
	DefaultStateDir       = "/var/lib/hpc-bootstrap"
	DefaultGatewayIface   = "eth0"
	DefaultClusterIface   = "eth1"
	DefaultSSSDConfigFile = "/opt/configurations/sssd.conf"
)

// Config is the resolved configuration of one bootstrap run.
// It is built once by Load and never mutated afterwards.
type Config struct {
	Role types.NodeRole

	ControllerAddr      string
	ControllerPort      int
	SchedulerConfigFile string
	ServiceUser         string
	InstallPrefix       string

	// DirectoryServer is only set for the controller
	DirectoryServer types.ServiceEndpoint

	PollInterval time.Duration
	WaitTimeout  time.Duration // zero waits without a deadline
	ProbeTimeout time.Duration

	StateDir       string
	MetricsFile    string
	GatewayIface   string
	ClusterIface   string
	SSSDConfigFile string

	Policy Policy
}

// RequiredKeys returns the keys the role's sequence needs, in resolution order
func RequiredKeys(role types.NodeRole) []Key {
	keys := []Key{
		KeyControllerAddr,
		KeyControllerPort,
		KeySchedulerConfigFile,
		KeyServiceUser,
		KeyInstallPrefix,
	}
	if role == types.NodeRoleController {
		keys = append(keys, KeyDirectoryHost, KeyDirectoryPort)
	}
	return keys
}

// Load resolves every key the role needs. It has no side effects, so a
// configuration error always surfaces before anything is installed.
func Load(r *Resolver, role types.NodeRole) (*Config, error) {
	values, err := r.ResolveAll(RequiredKeys(role)...)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Role:                role,
		ControllerAddr:      values[KeyControllerAddr],
		SchedulerConfigFile: values[KeySchedulerConfigFile],
		ServiceUser:         values[KeyServiceUser],
		InstallPrefix:       values[KeyInstallPrefix],
		StateDir:            r.Optional(KeyStateDir, DefaultStateDir),
		MetricsFile:         r.Optional(KeyMetricsFile, ""),
		GatewayIface:        r.Optional(KeyGatewayIface, DefaultGatewayIface),
		ClusterIface:        r.Optional(KeyClusterIface, DefaultClusterIface),
		SSSDConfigFile:      r.Optional(KeySSSDConfigFile, DefaultSSSDConfigFile),
	}

	if cfg.ControllerPort, err = parsePort(KeyControllerPort, values[KeyControllerPort]); err != nil {
		return nil, err
	}

	if role == types.NodeRoleController {
		port, err := parsePort(KeyDirectoryPort, values[KeyDirectoryPort])
		if err != nil {
			return nil, err
		}
		cfg.DirectoryServer = types.ServiceEndpoint{Host: values[KeyDirectoryHost], Port: port}
	}

	if cfg.PollInterval, err = parseDuration(r, KeyPollInterval, DefaultPollInterval, false); err != nil {
		return nil, err
	}
	if cfg.WaitTimeout, err = parseDuration(r, KeyWaitTimeout, DefaultWaitTimeout, true); err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout, err = parseDuration(r, KeyProbeTimeout, DefaultProbeTimeout, false); err != nil {
		return nil, err
	}

	if path := r.Optional(KeyPolicyFile, ""); path != "" {
		if cfg.Policy, err = LoadPolicy(path); err != nil {
			return nil, err
		}
	} else {
		cfg.Policy = DefaultPolicy()
	}

	return cfg, nil
}

// ControllerEndpoint is where workers reach the controller daemon
func (c *Config) ControllerEndpoint() types.ServiceEndpoint {
	return types.ServiceEndpoint{Host: c.ControllerAddr, Port: c.ControllerPort}
}

// DaemonBinary returns <prefix>/sbin/<daemon> for the configured role
func (c *Config) DaemonBinary() string {
	return filepath.Join(c.InstallPrefix, "sbin", c.Role.DaemonName())
}

func parsePort(key Key, value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, &InvalidConfigurationError{Key: key, Value: value, Reason: "not a number"}
	}
	if port < 1 || port > 65535 {
		return 0, &InvalidConfigurationError{Key: key, Value: value, Reason: "port out of range"}
	}
	return port, nil
}

func parseDuration(r *Resolver, key Key, def time.Duration, allowZero bool) (time.Duration, error) {
	raw := r.Optional(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &InvalidConfigurationError{Key: key, Value: raw, Reason: err.Error()}
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, &InvalidConfigurationError{Key: key, Value: raw, Reason: "must be positive"}
	}
	return d, nil
}
