package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/hpc-bootstrap/pkg/packages"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/cuemby/hpc-bootstrap/pkg/runner/runnertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, rec *runnertest.Recorder) (*Builder, string, string) {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "apps")
	src := t.TempDir()
	pkgs := packages.NewInstaller(rec).WithListsDir(t.TempDir())
	b := NewBuilder(rec, pkgs, prefix).
		WithSource("https://example.org/slurm.tar.bz2", "/tmp/test-slurm.tar.bz2", src).
		WithJobs(8)
	return b, prefix, src
}

func TestEnsureBinaryPresent_SkipsWhenInstalled(t *testing.T) {
	for _, marker := range []string{"sbin/slurmctld", "sbin/slurmd", "bin/sinfo", "bin/srun"} {
		t.Run(marker, func(t *testing.T) {
			rec := runnertest.NewRecorder()
			b, prefix, _ := newTestBuilder(t, rec)

			path := filepath.Join(prefix, marker)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

			built, err := b.EnsureBinaryPresent(context.Background())
			require.NoError(t, err)
			assert.False(t, built)
			assert.Empty(t, rec.Commands())
		})
	}
}

func TestEnsureBinaryPresent_Builds(t *testing.T) {
	rec := runnertest.NewRecorder()
	b, prefix, src := newTestBuilder(t, rec)
	require.NoError(t, os.WriteFile(filepath.Join(src, "configure"), []byte("#!/bin/sh\n"), 0755))

	built, err := b.EnsureBinaryPresent(context.Background())
	require.NoError(t, err)
	assert.True(t, built)

	lines := rec.Lines()
	require.Len(t, lines, len(Dependencies)+10)
	assert.Equal(t, "apt-get install -y build-essential", lines[0])
	assert.Equal(t, []string{
		"mkdir -p " + prefix,
		"curl -L -R -f -o /tmp/test-slurm.tar.bz2 https://example.org/slurm.tar.bz2",
		"mkdir -p " + src,
		"tar xaf /tmp/test-slurm.tar.bz2 -C " + src + " --strip-components=1",
		"./configure --prefix=" + prefix + " --with-lua --enable-pam --enable-pkgconfig",
		"make -j8",
		"make install",
		"rm -rf -- " + src + " /tmp/test-slurm.tar.bz2",
		"apt-get clean",
		"apt-get autoremove -y",
	}, lines[len(Dependencies):])

	for _, cmd := range rec.Commands() {
		assert.True(t, cmd.Elevate, cmd.String())
		if cmd.Name == "./configure" || cmd.Name == "make" {
			assert.Equal(t, src, cmd.Dir)
		}
	}
}

func TestEnsureBinaryPresent_EmptySource(t *testing.T) {
	rec := runnertest.NewRecorder()
	b, _, _ := newTestBuilder(t, rec)

	_, err := b.EnsureBinaryPresent(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptySource))

	for _, line := range rec.Lines() {
		assert.NotContains(t, line, "configure")
	}
}

func TestEnsureBinaryPresent_CompileFailure(t *testing.T) {
	rec := runnertest.NewRecorder().Fail("make -j8", 2, "make: *** [all] Error 2")
	b, _, src := newTestBuilder(t, rec)
	require.NoError(t, os.WriteFile(filepath.Join(src, "configure"), nil, 0755))

	built, err := b.EnsureBinaryPresent(context.Background())
	require.Error(t, err)
	assert.False(t, built)

	var failed *runner.CommandFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 2, failed.ExitCode)

	for _, line := range rec.Lines() {
		assert.NotEqual(t, "make install", line)
	}
}

func TestEnsureBinaryPresent_DependencyFailure(t *testing.T) {
	rec := runnertest.NewRecorder().Fail("libpmix-dev", 100, "")
	b, _, _ := newTestBuilder(t, rec)

	_, err := b.EnsureBinaryPresent(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build dependencies")
}
