package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/packages"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/rs/zerolog"
)

// Dependencies are the networking tools the topology commands need
var Dependencies = []string{
	"net-tools",
	"iproute2",
	"iptables",
	"iputils-ping",
}

// Rule is one iptables rule, without the -A/-C/-D verb
type Rule struct {
	Table string // empty is the filter table
	Chain string
	Spec  []string
}

func (r Rule) args(verb string) []string {
	var args []string
	if r.Table != "" {
		args = append(args, "-t", r.Table)
	}
	args = append(args, verb, r.Chain)
	return append(args, r.Spec...)
}

// Configurator sets up the cluster network topology. The controller acts
// as the NAT gateway for the worker network; workers route through it.
type Configurator struct {
	exec     runner.Executor
	packages *packages.Installer

	gatewayIface string
	clusterIface string
	controller   string

	logger zerolog.Logger
}

// NewConfigurator creates a Configurator. controllerAddr is the
// controller's address on the worker network.
func NewConfigurator(exec runner.Executor, pkgs *packages.Installer, gatewayIface, clusterIface, controllerAddr string) *Configurator {
	return &Configurator{
		exec:         exec,
		packages:     pkgs,
		gatewayIface: gatewayIface,
		clusterIface: clusterIface,
		controller:   controllerAddr,
		logger:       log.WithComponent("network"),
	}
}

// GatewayRules returns the NAT and forwarding rules of the controller
func (c *Configurator) GatewayRules() []Rule {
	return []Rule{
		{Table: "nat", Chain: "POSTROUTING", Spec: []string{"-o", c.gatewayIface, "-j", "MASQUERADE"}},
		{Chain: "FORWARD", Spec: []string{"-i", c.clusterIface, "-o", c.gatewayIface, "-j", "ACCEPT"}},
		{Chain: "FORWARD", Spec: []string{"-i", c.gatewayIface, "-o", c.clusterIface, "-j", "ACCEPT"}},
	}
}

// Configure installs the networking tools and applies the role's topology.
// Re-running it leaves the same rules and routes in place.
func (c *Configurator) Configure(ctx context.Context, role types.NodeRole) error {
	if err := c.packages.Install(ctx, Dependencies...); err != nil {
		return fmt.Errorf("failed to install networking tools: %w", err)
	}
	if err := c.packages.Clean(ctx); err != nil {
		return err
	}

	switch role {
	case types.NodeRoleController:
		return c.configureGateway(ctx)
	case types.NodeRoleWorker:
		return c.configureRoute(ctx)
	}
	return fmt.Errorf("no network topology for role %q", role)
}

func (c *Configurator) configureGateway(ctx context.Context) error {
	c.logger.Info().
		Str("gateway_iface", c.gatewayIface).
		Str("cluster_iface", c.clusterIface).
		Msg("Setting up NAT gateway")

	if err := c.run(ctx, "sysctl", "-w", "net.ipv4.ip_forward=1"); err != nil {
		return fmt.Errorf("failed to enable IP forwarding: %w", err)
	}

	for _, rule := range c.GatewayRules() {
		if err := c.ensureRule(ctx, rule); err != nil {
			return err
		}
	}

	c.logger.Info().Msg("NAT gateway configured")
	return nil
}

func (c *Configurator) configureRoute(ctx context.Context) error {
	c.logger.Info().Str("via", c.controller).Msg("Routing default traffic through the controller")

	if err := c.run(ctx, "ip", "route", "replace", "default", "via", c.controller); err != nil {
		return fmt.Errorf("failed to set default route via %s: %w", c.controller, err)
	}
	return nil
}

// ensureRule appends the rule unless iptables already has it
func (c *Configurator) ensureRule(ctx context.Context, rule Rule) error {
	err := c.run(ctx, "iptables", rule.args("-C")...)
	if err == nil {
		c.logger.Debug().Strs("rule", rule.Spec).Msg("iptables rule already present")
		return nil
	}

	var failed *runner.CommandFailedError
	if !errors.As(err, &failed) || failed.ExitCode != 1 {
		return fmt.Errorf("failed to check iptables rule: %w", err)
	}

	if err := c.run(ctx, "iptables", rule.args("-A")...); err != nil {
		return fmt.Errorf("failed to add iptables rule to %s: %w", rule.Chain, err)
	}
	return nil
}

func (c *Configurator) run(ctx context.Context, name string, args ...string) error {
	_, err := c.exec.Run(ctx, runner.Command{Name: name, Args: args, Elevate: true})
	return err
}
