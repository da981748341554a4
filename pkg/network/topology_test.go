package network

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/hpc-bootstrap/pkg/packages"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/cuemby/hpc-bootstrap/pkg/runner/runnertest"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfigurator(t *testing.T, rec *runnertest.Recorder) *Configurator {
	t.Helper()
	pkgs := packages.NewInstaller(rec).WithListsDir(t.TempDir())
	return NewConfigurator(rec, pkgs, "eth0", "eth1", "10.10.0.2")
}

func topologyLines(rec *runnertest.Recorder) []string {
	// package installs and cache cleaning come first
	return rec.Lines()[len(Dependencies)+2:]
}

func TestConfigure_Controller(t *testing.T) {
	// -C exits 1 when the rule is missing
	rec := runnertest.NewRecorder().Fail(" -C ", 1, "iptables: Bad rule (does a matching rule exist in that chain?).")

	err := newTestConfigurator(t, rec).Configure(context.Background(), types.NodeRoleController)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"sysctl -w net.ipv4.ip_forward=1",
		"iptables -t nat -C POSTROUTING -o eth0 -j MASQUERADE",
		"iptables -t nat -A POSTROUTING -o eth0 -j MASQUERADE",
		"iptables -C FORWARD -i eth1 -o eth0 -j ACCEPT",
		"iptables -A FORWARD -i eth1 -o eth0 -j ACCEPT",
		"iptables -C FORWARD -i eth0 -o eth1 -j ACCEPT",
		"iptables -A FORWARD -i eth0 -o eth1 -j ACCEPT",
	}, topologyLines(rec))

	for _, cmd := range rec.Commands() {
		assert.True(t, cmd.Elevate, cmd.String())
	}
}

func TestConfigure_ControllerRulesPresent(t *testing.T) {
	rec := runnertest.NewRecorder()

	err := newTestConfigurator(t, rec).Configure(context.Background(), types.NodeRoleController)
	require.NoError(t, err)

	for _, line := range rec.Lines() {
		assert.NotContains(t, line, " -A ", "rule appended although present")
	}
}

func TestConfigure_ControllerCheckError(t *testing.T) {
	rec := runnertest.NewRecorder().Fail(" -C ", 2, "iptables v1.8.9: can't initialize iptables table `nat'")

	err := newTestConfigurator(t, rec).Configure(context.Background(), types.NodeRoleController)
	require.Error(t, err)

	var failed *runner.CommandFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 2, failed.ExitCode)
}

func TestConfigure_ControllerForwardingFails(t *testing.T) {
	rec := runnertest.NewRecorder().Fail("sysctl", 255, "sysctl: permission denied")

	err := newTestConfigurator(t, rec).Configure(context.Background(), types.NodeRoleController)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IP forwarding")

	for _, line := range rec.Lines() {
		assert.NotContains(t, line, "iptables -")
	}
}

func TestConfigure_Worker(t *testing.T) {
	rec := runnertest.NewRecorder()

	err := newTestConfigurator(t, rec).Configure(context.Background(), types.NodeRoleWorker)
	require.NoError(t, err)

	assert.Equal(t, []string{"ip route replace default via 10.10.0.2"}, topologyLines(rec))
	assert.Equal(t, "apt-get install -y net-tools", rec.Lines()[0])
}

func TestConfigure_InstallFailure(t *testing.T) {
	rec := runnertest.NewRecorder().Fail("iptables", 100, "")

	err := newTestConfigurator(t, rec).Configure(context.Background(), types.NodeRoleWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "networking tools")

	for _, line := range rec.Lines() {
		assert.NotContains(t, line, "ip route")
	}
}
