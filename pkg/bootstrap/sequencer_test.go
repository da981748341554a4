package bootstrap

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/config"
	"github.com/cuemby/hpc-bootstrap/pkg/daemon"
	"github.com/cuemby/hpc-bootstrap/pkg/events"
	"github.com/cuemby/hpc-bootstrap/pkg/health"
	"github.com/cuemby/hpc-bootstrap/pkg/role"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/cuemby/hpc-bootstrap/pkg/storage"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode stands in for every side-effecting collaborator
type fakeNode struct {
	mu       sync.Mutex
	calls    []string
	dirs     []types.ProvisionedDirectory
	spec     daemon.Spec
	builds   int
	factory  int
	failures map[string]error
}

func newFakeNode() *fakeNode {
	return &fakeNode{failures: make(map[string]error)}
}

func (f *fakeNode) fail(call string, err error) *fakeNode {
	f.failures[call] = err
	return f
}

func (f *fakeNode) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failures[call]
}

func (f *fakeNode) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeNode) EnsureBinaryPresent(context.Context) (bool, error) {
	return true, f.record("build")
}

func (f *fakeNode) Configure(_ context.Context, r types.NodeRole) error {
	return f.record("network")
}

func (f *fakeNode) Integrate(context.Context) error {
	return f.record("auth")
}

func (f *fakeNode) Start(context.Context) error {
	return f.record("credentials")
}

func (f *fakeNode) Ensure(dirs []types.ProvisionedDirectory) error {
	f.mu.Lock()
	f.dirs = dirs
	f.mu.Unlock()
	return f.record("directories")
}

func (f *fakeNode) Run(_ context.Context, spec daemon.Spec, started func(pid int)) error {
	f.mu.Lock()
	f.spec = spec
	f.mu.Unlock()
	started(4242)
	return f.record("launch")
}

func (f *fakeNode) Factory(cfg *config.Config) (*Collaborators, error) {
	f.mu.Lock()
	f.factory++
	f.mu.Unlock()
	return &Collaborators{
		Builder:     f,
		Network:     f,
		Auth:        f,
		Credentials: f,
		Directories: f,
		Prober:      health.NewProber(cfg.ProbeTimeout),
		Launcher:    f,
	}, nil
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func hostname(name string) func() (string, error) {
	return func() (string, error) { return name, nil }
}

func workerEnv(port int) map[string]string {
	return map[string]string{
		"SLURMCTLD_WORKER_IP":         "127.0.0.1",
		"SLURMCTLD_PORT":              strconv.Itoa(port),
		"SLURM_CONF":                  "/etc/slurm/slurm.conf",
		"SLURM_USER_NAME":             "slurm",
		"SLURM_INSTALL_PREFIX":        "/opt/apps",
		"HPC_BOOTSTRAP_POLL_INTERVAL": "20ms",
		"HPC_BOOTSTRAP_PROBE_TIMEOUT": "200ms",
	}
}

func controllerEnv(t *testing.T) map[string]string {
	env := workerEnv(6817)
	env["LDAP_SERVER_ADDRESS"] = "127.0.0.1"
	env["LDAP_SERVER_PORT"] = strconv.Itoa(freePort(t))
	return env
}

func dirPaths(dirs []types.ProvisionedDirectory) []string {
	paths := make([]string, 0, len(dirs))
	for _, d := range dirs {
		paths = append(paths, d.Path)
	}
	return paths
}

func TestRun_WorkerWaitsForController(t *testing.T) {
	port := freePort(t)
	node := newFakeNode()

	seq := New(Options{
		Hostname: hostname("compute-03"),
		Resolver: config.FromMap(workerEnv(port)),
		Factory:  node.Factory,
	})

	done := make(chan error, 1)
	go func() { done <- seq.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return seq.State() == types.StateWaitingOnController
	}, 2*time.Second, 10*time.Millisecond)

	// Still blocked while nothing listens
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, types.StateWaitingOnController, seq.State())
	assert.NotContains(t, node.Calls(), "launch")

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer ln.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not proceed after the controller came up")
	}

	assert.Equal(t, []string{"network", "auth", "credentials", "directories", "launch"}, node.Calls())
	assert.Equal(t, []string{types.SlurmdSpoolDir, types.SlurmdLogDir, types.SlurmdRunDir}, dirPaths(node.dirs))
	assert.NotContains(t, dirPaths(node.dirs), types.SlurmctldSpoolDir)

	assert.Equal(t, []types.State{
		types.StateInit,
		types.StateRoleResolved,
		types.StateConfigResolved,
		types.StateNetworkConfigured,
		types.StateAuthIntegrated,
		types.StateCredentialServiceUp,
		types.StateDirectoriesProvisioned,
		types.StateWaitingOnController,
		types.StateDaemonLaunched,
		types.StateTerminal,
	}, seq.History())

	assert.Equal(t, "/opt/apps/sbin/slurmd", node.spec.Path)
	assert.Equal(t, []string{"-c", "-D", "-vvv", "--conf-server", "127.0.0.1:" + strconv.Itoa(port)}, node.spec.Args)
	assert.Empty(t, node.spec.User, "worker daemon keeps the root identity")
}

func TestRun_ControllerNeverWaits(t *testing.T) {
	node := newFakeNode()

	seq := New(Options{
		Hostname: hostname("slurmctld-1"),
		Resolver: config.FromMap(controllerEnv(t)),
		Factory:  node.Factory,
	})

	require.NoError(t, seq.Run(context.Background()))

	assert.Equal(t, []string{"build", "network", "auth", "credentials", "directories", "launch"}, node.Calls())
	assert.Equal(t, []string{
		types.SlurmdSpoolDir,
		types.SlurmdLogDir,
		types.SlurmdRunDir,
		types.SlurmctldSpoolDir,
	}, dirPaths(node.dirs))
	for _, d := range node.dirs {
		assert.Equal(t, "slurm", d.Owner)
		assert.Equal(t, os.FileMode(0700), d.Mode)
	}

	assert.NotContains(t, seq.History(), types.StateWaitingOnController)
	assert.Contains(t, seq.History(), types.StateBinaryEnsured)
	assert.Equal(t, types.StateTerminal, seq.State())

	assert.Equal(t, "/opt/apps/sbin/slurmctld", node.spec.Path)
	assert.Equal(t, []string{"-D", "-vvv", "-c", "-f", "/etc/slurm/slurm.conf"}, node.spec.Args)
	assert.Equal(t, "slurm", node.spec.User)
}

func TestRun_MissingConfigurationHasNoSideEffects(t *testing.T) {
	for _, key := range config.RequiredKeys(types.NodeRoleWorker) {
		t.Run(string(key), func(t *testing.T) {
			env := workerEnv(6817)
			delete(env, string(key))
			node := newFakeNode()

			seq := New(Options{
				Hostname: hostname("compute-03"),
				Resolver: config.FromMap(env),
				Factory:  node.Factory,
			})
			err := seq.Run(context.Background())
			require.Error(t, err)

			var missing *config.MissingConfigurationError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, key, missing.Key)

			var stepErr *StepError
			require.True(t, errors.As(err, &stepErr))
			assert.Equal(t, types.StateConfigResolved, stepErr.State)

			assert.Zero(t, node.factory)
			assert.Empty(t, node.Calls())
			assert.Equal(t, types.StateFailed, seq.State())
		})
	}
}

func TestRun_UnknownRole(t *testing.T) {
	node := newFakeNode()

	seq := New(Options{
		Hostname: hostname("login01"),
		Resolver: config.FromMap(workerEnv(6817)),
		Factory:  node.Factory,
	})
	err := seq.Run(context.Background())

	var unknown *role.UnknownRoleError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "login01", unknown.Hostname)
	assert.Zero(t, node.factory)
	assert.Equal(t, 1, ExitCode(err))
}

func TestRun_FailureIsFatalByDefault(t *testing.T) {
	cmdErr := &runner.CommandFailedError{Command: "iptables -t nat -A POSTROUTING -o eth0 -j MASQUERADE", ExitCode: 4}
	node := newFakeNode().fail("network", cmdErr)

	seq := New(Options{
		Hostname: hostname("slurmctld-1"),
		Resolver: config.FromMap(controllerEnv(t)),
		Factory:  node.Factory,
	})
	err := seq.Run(context.Background())
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, types.StateNetworkConfigured, stepErr.State)

	var failed *runner.CommandFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 4, failed.ExitCode)

	assert.Equal(t, []string{"build", "network"}, node.Calls())
	assert.Equal(t, types.StateFailed, seq.State())
}

func TestRun_IgnorePolicyContinues(t *testing.T) {
	policy := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte("steps:\n  network: ignore\n"), 0644))

	env := controllerEnv(t)
	env["HPC_BOOTSTRAP_POLICY"] = policy
	node := newFakeNode().fail("network", errors.New("iptables: not found"))

	seq := New(Options{
		Hostname: hostname("slurmctld-1"),
		Resolver: config.FromMap(env),
		Factory:  node.Factory,
	})
	require.NoError(t, seq.Run(context.Background()))

	assert.Contains(t, node.Calls(), "launch")
	assert.Contains(t, seq.History(), types.StateNetworkConfigured)
	assert.Equal(t, types.StateTerminal, seq.State())
}

func TestRun_DirectoryFailureIsFatal(t *testing.T) {
	node := newFakeNode().fail("directories", errors.New("permission denied"))

	seq := New(Options{
		Hostname: hostname("slurmctld-1"),
		Resolver: config.FromMap(controllerEnv(t)),
		Factory:  node.Factory,
	})
	err := seq.Run(context.Background())

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, types.StateDirectoriesProvisioned, stepErr.State)
	assert.NotContains(t, node.Calls(), "launch")
}

func TestRun_DaemonExitCodeMirrored(t *testing.T) {
	node := newFakeNode().fail("launch", &daemon.ExitError{Path: "/opt/apps/sbin/slurmctld", Code: 3})

	seq := New(Options{
		Hostname: hostname("slurmctld-1"),
		Resolver: config.FromMap(controllerEnv(t)),
		Factory:  node.Factory,
	})
	err := seq.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, 3, ExitCode(err))

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, types.StateTerminal, stepErr.State)
	assert.Contains(t, seq.History(), types.StateDaemonLaunched)
}

func TestRun_ControllerUnreachable(t *testing.T) {
	env := workerEnv(freePort(t))
	env["HPC_BOOTSTRAP_WAIT_TIMEOUT"] = "150ms"
	node := newFakeNode()

	seq := New(Options{
		Hostname: hostname("compute-03"),
		Resolver: config.FromMap(env),
		Factory:  node.Factory,
	})
	err := seq.Run(context.Background())
	require.Error(t, err)

	var unreachable *health.UnreachableError
	require.True(t, errors.As(err, &unreachable))
	assert.Equal(t, "127.0.0.1", unreachable.Endpoint.Host)
	assert.GreaterOrEqual(t, unreachable.Attempts, 1)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, types.StateWaitingOnController, stepErr.State)
	assert.NotContains(t, node.Calls(), "launch")
}

func TestRun_UnboundedWaitIsCancellable(t *testing.T) {
	env := workerEnv(freePort(t))
	env["HPC_BOOTSTRAP_WAIT_TIMEOUT"] = "0"
	node := newFakeNode()

	seq := New(Options{
		Hostname: hostname("compute-03"),
		Resolver: config.FromMap(env),
		Factory:  node.Factory,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- seq.Run(ctx) }()

	require.Eventually(t, func() bool {
		return seq.State() == types.StateWaitingOnController
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not stop on cancellation")
	}
}

func TestRun_RecordsHistoryAndEvents(t *testing.T) {
	store, err := storage.Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()

	node := newFakeNode()
	seq := New(Options{
		Hostname: hostname("slurmctld-1"),
		Resolver: config.FromMap(controllerEnv(t)),
		Factory:  node.Factory,
		Store:    store,
		Broker:   broker,
	})
	require.NoError(t, seq.Run(context.Background()))
	broker.Stop()

	run, err := store.LastRun()
	require.NoError(t, err)
	assert.Equal(t, seq.RunID(), run.ID)
	assert.Equal(t, "slurmctld-1", run.Hostname)
	assert.Equal(t, types.NodeRoleController, run.Role)
	assert.Equal(t, types.RunStatusSucceeded, run.Status)

	var recorded []types.State
	for _, step := range run.Steps {
		recorded = append(recorded, step.State)
	}
	assert.Equal(t, seq.History(), recorded)

	var seen []events.EventType
	for ev := range sub {
		seen = append(seen, ev.Type)
		assert.Equal(t, run.ID, ev.RunID)
	}
	assert.Contains(t, seen, events.EventDaemonStarted)
	assert.Equal(t, events.EventRunFinished, seen[len(seen)-1])
}

func TestRun_RecordsFailure(t *testing.T) {
	store, err := storage.Open(t.TempDir(), 0)
	require.NoError(t, err)
	defer store.Close()

	node := newFakeNode().fail("auth", errors.New("sssd: config missing"))
	seq := New(Options{
		Hostname: hostname("compute-03"),
		Resolver: config.FromMap(workerEnv(6817)),
		Factory:  node.Factory,
		Store:    store,
	})
	require.Error(t, seq.Run(context.Background()))

	run, err := store.LastRun()
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.ExitCode)
	assert.Contains(t, run.Error, "auth_integrated")
	assert.Equal(t, types.StateFailed, run.Steps[len(run.Steps)-1].State)
}
