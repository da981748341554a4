package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Key names an environment variable the bootstrapper reads
type Key string

const (
	KeyControllerAddr      Key = "SLURMCTLD_WORKER_IP"
	KeyControllerPort      Key = "SLURMCTLD_PORT"
	KeySchedulerConfigFile Key = "SLURM_CONF"
	KeyServiceUser         Key = "SLURM_USER_NAME"
	KeyInstallPrefix       Key = "SLURM_INSTALL_PREFIX"
	KeyDirectoryHost       Key = "LDAP_SERVER_ADDRESS"
	KeyDirectoryPort       Key = "LDAP_SERVER_PORT"

	// KeyElevationSecret is only read when an elevated command runs
	KeyElevationSecret Key = "SLURM_USER_PASSWORD"
)

// Optional tunables
const (
	KeyEnvFile        Key = "HPC_BOOTSTRAP_ENV_FILE"
	KeyPollInterval   Key = "HPC_BOOTSTRAP_POLL_INTERVAL"
	KeyWaitTimeout    Key = "HPC_BOOTSTRAP_WAIT_TIMEOUT"
	KeyProbeTimeout   Key = "HPC_BOOTSTRAP_PROBE_TIMEOUT"
	KeyStateDir       Key = "HPC_BOOTSTRAP_STATE_DIR"
	KeyMetricsFile    Key = "HPC_BOOTSTRAP_METRICS_FILE"
	KeyPolicyFile     Key = "HPC_BOOTSTRAP_POLICY"
	KeyLogLevel       Key = "HPC_BOOTSTRAP_LOG_LEVEL"
	KeyLogJSON        Key = "HPC_BOOTSTRAP_LOG_JSON"
	KeyGatewayIface   Key = "HPC_BOOTSTRAP_GATEWAY_IFACE"
	KeyClusterIface   Key = "HPC_BOOTSTRAP_CLUSTER_IFACE"
	KeySSSDConfigFile Key = "SSSD_CONFIG_SOURCE"
	KeyElevation      Key = "HPC_BOOTSTRAP_ELEVATION"
)

// MissingConfigurationError reports a required key that is unset or empty
type MissingConfigurationError struct {
	Key Key
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("%s environment variable is not set", e.Key)
}

// InvalidConfigurationError reports a key whose value cannot be used
type InvalidConfigurationError struct {
	Key    Key
	Value  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %s", e.Value, e.Key, e.Reason)
}

// LookupFunc reads one variable, reporting whether it is set
type LookupFunc func(key string) (string, bool)

// Resolver reads configuration keys from an environment
type Resolver struct {
	lookup LookupFunc
}

// NewResolver creates a resolver over lookup
func NewResolver(lookup LookupFunc) *Resolver {
	return &Resolver{lookup: lookup}
}

// FromEnvironment creates a resolver over the process environment
func FromEnvironment() *Resolver {
	return NewResolver(os.LookupEnv)
}

// FromMap creates a resolver over a fixed map
func FromMap(env map[string]string) *Resolver {
	return NewResolver(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
}

// Resolve returns the value of a required key
func (r *Resolver) Resolve(key Key) (string, error) {
	v, ok := r.lookup(string(key))
	if !ok || v == "" {
		return "", &MissingConfigurationError{Key: key}
	}
	return v, nil
}

// ResolveAll resolves keys in order, failing on the first missing one
func (r *Resolver) ResolveAll(keys ...Key) (map[Key]string, error) {
	values := make(map[Key]string, len(keys))
	for _, k := range keys {
		v, err := r.Resolve(k)
		if err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, nil
}

// Optional returns the value of key or def when unset or empty
func (r *Resolver) Optional(key Key, def string) string {
	if v, ok := r.lookup(string(key)); ok && v != "" {
		return v
	}
	return def
}

// Secret returns the elevation secret, resolved on demand
func (r *Resolver) Secret() (string, error) {
	return r.Resolve(KeyElevationSecret)
}

// LoadEnvFile seeds the process environment from a dotenv file.
// Variables already present in the environment are not overridden.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
