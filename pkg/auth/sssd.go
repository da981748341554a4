package auth

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/packages"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/rs/zerolog"
)

// MkhomedirRule creates home directories for directory users on first login
const MkhomedirRule = "session optional pam_mkhomedir.so skel=/etc/skel umask=0022"

// SSSDPaths are the files SSSD integration touches
type SSSDPaths struct {
	Config        string
	PAMSession    string
	SkeletonShell string
}

// DefaultSSSDPaths returns the Debian locations
func DefaultSSSDPaths() SSSDPaths {
	return SSSDPaths{
		Config:        "/etc/sssd/conf.d/sssd.conf",
		PAMSession:    "/etc/pam.d/common-session",
		SkeletonShell: "/etc/skel/.bashrc",
	}
}

// SSSD wires the node into the directory service
type SSSD struct {
	exec     runner.Executor
	packages *packages.Installer
	source   string
	prefix   string
	paths    SSSDPaths
	logger   zerolog.Logger
}

// NewSSSD creates an SSSD integrator. source is the sssd.conf to install,
// prefix the scheduler install prefix put on new users' PATH.
func NewSSSD(exec runner.Executor, pkgs *packages.Installer, source, prefix string) *SSSD {
	return &SSSD{
		exec:     exec,
		packages: pkgs,
		source:   source,
		prefix:   prefix,
		paths:    DefaultSSSDPaths(),
		logger:   log.WithComponent("sssd"),
	}
}

// WithPaths overrides the target files
func (s *SSSD) WithPaths(paths SSSDPaths) *SSSD {
	s.paths = paths
	return s
}

// PathExport is the shell line adding the scheduler binaries to PATH
func (s *SSSD) PathExport() string {
	return fmt.Sprintf(`export PATH="%s:$PATH"`, filepath.Join(s.prefix, "bin"))
}

// Integrate installs SSSD, its configuration and the PAM home directory
// rule, then starts the sssd daemon
func (s *SSSD) Integrate(ctx context.Context) error {
	if err := s.packages.Install(ctx, "sssd"); err != nil {
		return err
	}

	// sssd refuses to start unless its config is private
	if err := installFile(s.source, s.paths.Config, 0600); err != nil {
		return fmt.Errorf("failed to install sssd configuration: %w", err)
	}
	s.logger.Info().Str("source", s.source).Str("path", s.paths.Config).Msg("Installed sssd configuration")

	changed, err := ensureLine(s.paths.PAMSession, MkhomedirRule)
	if err != nil {
		return err
	}
	s.logger.Info().Bool("changed", changed).Msg("Enabled pam_mkhomedir")

	changed, err = ensureLine(s.paths.SkeletonShell, s.PathExport())
	if err != nil {
		return err
	}
	s.logger.Debug().Bool("changed", changed).Str("path", s.paths.SkeletonShell).Msg("Scheduler binaries on skeleton PATH")

	s.logger.Info().Msg("Starting sssd")
	if _, err := s.exec.Run(ctx, runner.Command{Name: "sssd", Args: []string{"-D"}, Elevate: true}); err != nil {
		return fmt.Errorf("failed to start sssd: %w", err)
	}
	return nil
}
