// Package build compiles and installs the scheduler from its release
// tarball when the install prefix does not already hold it.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/packages"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/rs/zerolog"
)

// Release source defaults
const (
	DefaultSourceURL = "https://download.schedmd.com/slurm/slurm-24.05.2.tar.bz2"
	DefaultArchive   = "/tmp/slurm.tar.bz2"
	DefaultSourceDir = "/tmp/slurm"
)

// Dependencies are the packages needed to compile the scheduler
var Dependencies = []string{
	"build-essential",
	"libssl-dev",
	"libbz2-dev",
	"libnuma-dev",
	"libmysqlclient-dev",
	"libjson-c-dev",
	"libjwt-dev",
	"libhttp-parser-dev",
	"libyaml-dev",
	"libcurl4-openssl-dev",
	"libreadline-dev",
	"libdbus-1-dev",
	"libfreeipmi-dev",
	"liblua5.3-dev",
	"libgtk2.0-dev",
	"munge",
	"libmunge2",
	"libmunge-dev",
	"libpam0g-dev",
	"liblz4-dev",
	"libnvidia-ml-dev",
	"man2html",
	"libpmix-dev",
	"curl",
}

// markers are checked relative to the install prefix
var markers = []string{
	filepath.Join("sbin", "slurmctld"),
	filepath.Join("sbin", "slurmd"),
	filepath.Join("bin", "sinfo"),
	filepath.Join("bin", "srun"),
}

// ErrEmptySource is returned when extraction leaves the source tree empty
var ErrEmptySource = errors.New("source archive extracted nothing")

// Builder installs the scheduler under a prefix
type Builder struct {
	exec     runner.Executor
	packages *packages.Installer
	prefix   string

	url       string
	archive   string
	sourceDir string
	jobs      int

	logger zerolog.Logger
}

// NewBuilder creates a Builder for prefix
func NewBuilder(exec runner.Executor, pkgs *packages.Installer, prefix string) *Builder {
	return &Builder{
		exec:      exec,
		packages:  pkgs,
		prefix:    prefix,
		url:       DefaultSourceURL,
		archive:   DefaultArchive,
		sourceDir: DefaultSourceDir,
		jobs:      runtime.NumCPU(),
		logger:    log.WithComponent("build"),
	}
}

// WithSource overrides the download URL, archive path and source tree
func (b *Builder) WithSource(url, archive, sourceDir string) *Builder {
	b.url = url
	b.archive = archive
	b.sourceDir = sourceDir
	return b
}

// WithJobs sets the make parallelism
func (b *Builder) WithJobs(n int) *Builder {
	if n > 0 {
		b.jobs = n
	}
	return b
}

// Installed returns the first scheduler binary found under the prefix
func (b *Builder) Installed() (string, bool) {
	for _, m := range markers {
		path := filepath.Join(b.prefix, m)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// EnsureBinaryPresent builds and installs the scheduler unless one of its
// binaries already exists. It reports whether a build ran.
func (b *Builder) EnsureBinaryPresent(ctx context.Context) (bool, error) {
	if path, ok := b.Installed(); ok {
		b.logger.Info().Str("binary", path).Msg("Scheduler already installed, skipping build")
		return false, nil
	}

	b.logger.Info().Str("prefix", b.prefix).Str("source", b.url).Msg("Scheduler not installed, building from source")

	if err := b.packages.Install(ctx, Dependencies...); err != nil {
		return false, fmt.Errorf("failed to install build dependencies: %w", err)
	}

	fetch := []runner.Command{
		{Name: "mkdir", Args: []string{"-p", b.prefix}},
		{Name: "curl", Args: []string{"-L", "-R", "-f", "-o", b.archive, b.url}},
		{Name: "mkdir", Args: []string{"-p", b.sourceDir}},
		{Name: "tar", Args: []string{"xaf", b.archive, "-C", b.sourceDir, "--strip-components=1"}},
	}
	if err := b.run(ctx, fetch); err != nil {
		return false, fmt.Errorf("failed to fetch scheduler source: %w", err)
	}

	entries, err := os.ReadDir(b.sourceDir)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", b.sourceDir, err)
	}
	if len(entries) == 0 {
		return false, fmt.Errorf("%s: %w", b.sourceDir, ErrEmptySource)
	}

	compile := []runner.Command{
		{Name: "./configure", Args: []string{
			"--prefix=" + b.prefix,
			"--with-lua",
			"--enable-pam",
			"--enable-pkgconfig",
		}, Dir: b.sourceDir},
		{Name: "make", Args: []string{"-j" + strconv.Itoa(b.jobs)}, Dir: b.sourceDir},
		{Name: "make", Args: []string{"install"}, Dir: b.sourceDir},
	}
	if err := b.run(ctx, compile); err != nil {
		return false, fmt.Errorf("failed to compile scheduler: %w", err)
	}

	if err := b.run(ctx, []runner.Command{{Name: "rm", Args: []string{"-rf", "--", b.sourceDir, b.archive}}}); err != nil {
		return false, fmt.Errorf("failed to remove scheduler sources: %w", err)
	}
	if err := b.packages.Clean(ctx); err != nil {
		return false, err
	}

	b.logger.Info().
		Str("bin", filepath.Join(b.prefix, "bin")).
		Str("sbin", filepath.Join(b.prefix, "sbin")).
		Str("lib", filepath.Join(b.prefix, "lib")).
		Msg("Scheduler installed")
	return true, nil
}

func (b *Builder) run(ctx context.Context, cmds []runner.Command) error {
	for _, cmd := range cmds {
		cmd.Elevate = true
		if _, err := b.exec.Run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
