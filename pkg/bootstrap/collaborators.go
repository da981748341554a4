package bootstrap

import (
	"context"

	"github.com/cuemby/hpc-bootstrap/pkg/auth"
	"github.com/cuemby/hpc-bootstrap/pkg/build"
	"github.com/cuemby/hpc-bootstrap/pkg/config"
	"github.com/cuemby/hpc-bootstrap/pkg/daemon"
	"github.com/cuemby/hpc-bootstrap/pkg/health"
	"github.com/cuemby/hpc-bootstrap/pkg/network"
	"github.com/cuemby/hpc-bootstrap/pkg/packages"
	"github.com/cuemby/hpc-bootstrap/pkg/provision"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
)

// BinaryBuilder makes sure the scheduler is installed
type BinaryBuilder interface {
	EnsureBinaryPresent(ctx context.Context) (bool, error)
}

// NetworkConfigurer applies the role's network topology
type NetworkConfigurer interface {
	Configure(ctx context.Context, role types.NodeRole) error
}

// AuthIntegrator joins the node to the directory service
type AuthIntegrator interface {
	Integrate(ctx context.Context) error
}

// CredentialService starts the daemon authentication service
type CredentialService interface {
	Start(ctx context.Context) error
}

// DirectoryProvisioner creates the daemon directories
type DirectoryProvisioner interface {
	Ensure(dirs []types.ProvisionedDirectory) error
}

// ReadinessProber checks peers over TCP
type ReadinessProber interface {
	IsReachable(ctx context.Context, endpoint types.ServiceEndpoint) bool
	WaitForEndpoint(ctx context.Context, endpoint types.ServiceEndpoint, waiter *health.Waiter) error
}

// DaemonLauncher runs the scheduler daemon until it exits
type DaemonLauncher interface {
	Run(ctx context.Context, spec daemon.Spec, started func(pid int)) error
}

// Collaborators perform the side effects of each step
type Collaborators struct {
	Builder     BinaryBuilder
	Network     NetworkConfigurer
	Auth        AuthIntegrator
	Credentials CredentialService
	Directories DirectoryProvisioner
	Prober      ReadinessProber
	Launcher    DaemonLauncher
}

// Factory builds the collaborators once the configuration is resolved
type Factory func(cfg *config.Config) (*Collaborators, error)

// DefaultFactory wires the production collaborators around exec
func DefaultFactory(exec runner.Executor) Factory {
	return func(cfg *config.Config) (*Collaborators, error) {
		pkgs := packages.NewInstaller(exec)
		provisioner := provision.New()

		return &Collaborators{
			Builder:     build.NewBuilder(exec, pkgs, cfg.InstallPrefix),
			Network:     network.NewConfigurator(exec, pkgs, cfg.GatewayIface, cfg.ClusterIface, cfg.ControllerAddr),
			Auth:        auth.NewSSSD(exec, pkgs, cfg.SSSDConfigFile, cfg.InstallPrefix),
			Credentials: auth.NewMunge(exec, pkgs, provisioner),
			Directories: provisioner,
			Prober:      health.NewProber(cfg.ProbeTimeout),
			Launcher:    daemon.NewSupervisor(),
		}, nil
	}
}

// DaemonSpec returns the scheduler daemon invocation for the role. The
// controller daemon runs as the service user; the worker daemon keeps the
// orchestrator's root identity and fetches its configuration from the
// controller.
func DaemonSpec(cfg *config.Config) daemon.Spec {
	spec := daemon.Spec{Path: cfg.DaemonBinary()}

	switch cfg.Role {
	case types.NodeRoleController:
		spec.Args = []string{"-D", "-vvv", "-c", "-f", cfg.SchedulerConfigFile}
		spec.User = cfg.ServiceUser
	case types.NodeRoleWorker:
		spec.Args = []string{
			"-c", "-D", "-vvv",
			"--conf-server", cfg.ControllerEndpoint().Address(),
		}
	}
	return spec
}
