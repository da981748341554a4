// Package packages installs and cleans operating system packages with apt.
package packages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/rs/zerolog"
)

// DefaultListsDir holds the downloaded apt package indexes
const DefaultListsDir = "/var/lib/apt/lists"

var noninteractive = []string{"DEBIAN_FRONTEND=noninteractive"}

// Installer wraps apt-get. Every command is elevated.
type Installer struct {
	exec     runner.Executor
	listsDir string
	logger   zerolog.Logger
}

// NewInstaller creates an Installer running commands through exec
func NewInstaller(exec runner.Executor) *Installer {
	return &Installer{
		exec:     exec,
		listsDir: DefaultListsDir,
		logger:   log.WithComponent("packages"),
	}
}

// WithListsDir overrides the apt lists directory removed by Clean
func (i *Installer) WithListsDir(dir string) *Installer {
	i.listsDir = dir
	return i
}

// Install installs each package in turn, stopping at the first failure
func (i *Installer) Install(ctx context.Context, names ...string) error {
	for _, name := range names {
		i.logger.Info().Str("package", name).Msg("Installing package")

		_, err := i.exec.Run(ctx, runner.Command{
			Name:    "apt-get",
			Args:    []string{"install", "-y", name},
			Env:     noninteractive,
			Elevate: true,
		})
		if err != nil {
			return fmt.Errorf("failed to install package %s: %w", name, err)
		}
	}
	return nil
}

// Clean drops the apt caches and removes packages nothing depends on
func (i *Installer) Clean(ctx context.Context) error {
	i.logger.Info().Msg("Clearing apt caches")

	steps := []runner.Command{
		{Name: "apt-get", Args: []string{"clean"}, Elevate: true},
		{Name: "apt-get", Args: []string{"autoremove", "-y"}, Env: noninteractive, Elevate: true},
	}
	for _, cmd := range steps {
		if _, err := i.exec.Run(ctx, cmd); err != nil {
			return fmt.Errorf("failed to clean apt caches: %w", err)
		}
	}

	lists, err := filepath.Glob(filepath.Join(i.listsDir, "*"))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", i.listsDir, err)
	}
	if len(lists) == 0 {
		return nil
	}

	_, err = i.exec.Run(ctx, runner.Command{
		Name:    "rm",
		Args:    append([]string{"-rf", "--"}, lists...),
		Elevate: true,
	})
	if err != nil {
		return fmt.Errorf("failed to remove apt lists: %w", err)
	}
	return nil
}
