package types

import (
	"net"
	"os"
	"strconv"
	"time"
)

// NodeRole defines the role of a node
type NodeRole string

const (
	NodeRoleController NodeRole = "controller"
	NodeRoleWorker     NodeRole = "worker"
)

// String returns the role name
func (r NodeRole) String() string {
	return string(r)
}

// DaemonName returns the scheduler daemon binary for the role
func (r NodeRole) DaemonName() string {
	switch r {
	case NodeRoleController:
		return "slurmctld"
	case NodeRoleWorker:
		return "slurmd"
	}
	return ""
}

// ServiceEndpoint is a host and TCP port used for readiness probes
type ServiceEndpoint struct {
	Host string
	Port int
}

// Address returns the dialable host:port form
func (e ServiceEndpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e ServiceEndpoint) String() string {
	return e.Address()
}

// ProvisionedDirectory is a path with the owner and mode it must carry
type ProvisionedDirectory struct {
	Path  string
	Owner string
	Group string // empty means the owner's primary group
	Mode  os.FileMode
}

// State is a step of the bootstrap state machine
type State string

const (
	StateInit                   State = "init"
	StateRoleResolved           State = "role_resolved"
	StateConfigResolved         State = "config_resolved"
	StateBinaryEnsured          State = "binary_ensured"
	StateNetworkConfigured      State = "network_configured"
	StateAuthIntegrated         State = "auth_integrated"
	StateCredentialServiceUp    State = "credential_service_up"
	StateDirectoriesProvisioned State = "directories_provisioned"
	StateWaitingOnController    State = "waiting_on_controller"
	StateDaemonLaunched         State = "daemon_launched"
	StateTerminal               State = "terminal"
	StateFailed                 State = "failed"
)

// States lists every state in sequence order, Failed last
var States = []State{
	StateInit,
	StateRoleResolved,
	StateConfigResolved,
	StateBinaryEnsured,
	StateNetworkConfigured,
	StateAuthIntegrated,
	StateCredentialServiceUp,
	StateDirectoriesProvisioned,
	StateWaitingOnController,
	StateDaemonLaunched,
	StateTerminal,
	StateFailed,
}

// Ordinal returns the position of the state in States, or -1
func (s State) Ordinal() int {
	for i, st := range States {
		if st == s {
			return i
		}
	}
	return -1
}

// Scheduler directory layout, see the SlurmdSpoolDir, SlurmdLogFile,
// SlurmdPidFile and StateSaveLocation values of slurm.conf.
const (
	SlurmdSpoolDir    = "/var/spool/slurmd"
	SlurmdLogDir      = "/var/log/slurmd"
	SlurmdRunDir      = "/run/slurmd"
	SlurmctldSpoolDir = "/var/spool/slurmctld"

	SchedulerDirMode os.FileMode = 0700
)

// SchedulerDirectories returns the directories the role's daemon needs.
// The controller set is the worker set plus the controller spool.
func SchedulerDirectories(role NodeRole, owner string) []ProvisionedDirectory {
	paths := []string{SlurmdSpoolDir, SlurmdLogDir, SlurmdRunDir}
	if role == NodeRoleController {
		paths = append(paths, SlurmctldSpoolDir)
	}

	dirs := make([]ProvisionedDirectory, 0, len(paths))
	for _, p := range paths {
		dirs = append(dirs, ProvisionedDirectory{
			Path:  p,
			Owner: owner,
			Group: owner,
			Mode:  SchedulerDirMode,
		})
	}
	return dirs
}

// RunStatus is the outcome of a bootstrap run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StepRecord is one state transition of a run
type StepRecord struct {
	State State     `json:"state" yaml:"state"`
	At    time.Time `json:"at" yaml:"at"`
	Error string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Run is the persisted history of one bootstrap invocation
type Run struct {
	ID         string       `json:"id" yaml:"id"`
	Hostname   string       `json:"hostname" yaml:"hostname"`
	Role       NodeRole     `json:"role,omitempty" yaml:"role,omitempty"`
	Status     RunStatus    `json:"status" yaml:"status"`
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	ExitCode   int          `json:"exit_code" yaml:"exit_code"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
	Steps      []StepRecord `json:"steps" yaml:"steps"`
}
