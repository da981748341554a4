package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/health"
	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/packages"
	"github.com/cuemby/hpc-bootstrap/pkg/provision"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultSocketTimeout bounds the wait for munged to open its socket
const DefaultSocketTimeout = 5 * time.Second

// MungeLayout is where munge keeps its files and who owns them
type MungeLayout struct {
	User      string
	Group     string
	Daemon    string
	ConfigDir string
	LogDir    string
	StateDir  string
	RunDir    string
	KeyFile   string
	Socket    string
}

// DefaultMungeLayout returns the layout of the Debian munge package
func DefaultMungeLayout() MungeLayout {
	return MungeLayout{
		User:      "munge",
		Group:     "munge",
		Daemon:    "/usr/sbin/munged",
		ConfigDir: "/etc/munge",
		LogDir:    "/var/log/munge",
		StateDir:  "/var/lib/munge",
		RunDir:    "/run/munge",
		KeyFile:   "/etc/munge/munge.key",
		Socket:    "/run/munge/munge.socket.2",
	}
}

// Directories returns the directories munged insists on
func (l MungeLayout) Directories() []types.ProvisionedDirectory {
	dir := func(path string, mode os.FileMode) types.ProvisionedDirectory {
		return types.ProvisionedDirectory{Path: path, Owner: l.User, Group: l.Group, Mode: mode}
	}
	return []types.ProvisionedDirectory{
		dir(l.ConfigDir, 0700),
		dir(l.LogDir, 0700),
		dir(l.StateDir, 0700),
		dir(l.RunDir, 0755),
	}
}

// Munge starts the credential service
type Munge struct {
	exec        runner.Executor
	packages    *packages.Installer
	provisioner *provision.Provisioner
	layout      MungeLayout
	waiter      *health.Waiter
	logger      zerolog.Logger
}

// NewMunge creates a Munge starter with the default layout
func NewMunge(exec runner.Executor, pkgs *packages.Installer, provisioner *provision.Provisioner) *Munge {
	return &Munge{
		exec:        exec,
		packages:    pkgs,
		provisioner: provisioner,
		layout:      DefaultMungeLayout(),
		waiter:      health.NewWaiter(DefaultSocketTimeout, 100*time.Millisecond),
		logger:      log.WithComponent("munge"),
	}
}

// WithLayout overrides the file layout
func (m *Munge) WithLayout(layout MungeLayout) *Munge {
	m.layout = layout
	return m
}

// WithWaiter overrides the socket wait
func (m *Munge) WithWaiter(w *health.Waiter) *Munge {
	m.waiter = w
	return m
}

// Start installs munge, fixes its directories and key, launches munged as
// the munge user and returns once the daemon socket exists
func (m *Munge) Start(ctx context.Context) error {
	if err := m.packages.Install(ctx, "munge"); err != nil {
		return err
	}
	if err := m.packages.Clean(ctx); err != nil {
		return err
	}

	if err := m.provisioner.Ensure(m.layout.Directories()); err != nil {
		return err
	}
	// munged rejects keys readable by anyone but its owner
	if err := m.provisioner.Secure(m.layout.KeyFile, m.layout.User, m.layout.Group, 0400); err != nil {
		return err
	}

	m.logger.Info().Str("user", m.layout.User).Msg("Starting munged")
	_, err := m.exec.Run(ctx, runner.Command{
		Name:    m.layout.Daemon,
		User:    m.layout.User,
		Elevate: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start munged: %w", err)
	}

	socketExists := func(context.Context) bool {
		_, err := os.Stat(m.layout.Socket)
		return err == nil
	}
	attempts, err := m.waiter.WaitFor(ctx, socketExists, "munge socket "+m.layout.Socket)
	if err != nil {
		return err
	}

	m.logger.Info().Str("socket", m.layout.Socket).Int("attempts", attempts).Msg("munged is up")
	return nil
}
