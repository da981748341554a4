package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/config"
	"github.com/cuemby/hpc-bootstrap/pkg/events"
	"github.com/cuemby/hpc-bootstrap/pkg/health"
	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/metrics"
	"github.com/cuemby/hpc-bootstrap/pkg/role"
	"github.com/cuemby/hpc-bootstrap/pkg/storage"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/rs/zerolog"
)

// Options configures a Sequencer
type Options struct {
	// Hostname defaults to os.Hostname
	Hostname func() (string, error)

	Resolver *config.Resolver
	Factory  Factory

	// Store and Broker are optional
	Store  storage.Store
	Broker *events.Broker
}

// Sequencer drives one node through the bootstrap state machine
type Sequencer struct {
	opts Options

	mu      sync.RWMutex
	state   types.State
	history []types.State

	hostname string
	role     types.NodeRole
	cfg      *config.Config
	runID    string

	logger zerolog.Logger
}

// New creates a Sequencer in the Init state
func New(opts Options) *Sequencer {
	if opts.Hostname == nil {
		opts.Hostname = os.Hostname
	}
	return &Sequencer{
		opts:   opts,
		state:  types.StateInit,
		logger: log.WithComponent("bootstrap"),
	}
}

// State returns the current state
func (s *Sequencer) State() types.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns every state entered so far, in order
func (s *Sequencer) History() []types.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.State(nil), s.history...)
}

// Config returns the resolved configuration, nil before ConfigResolved
func (s *Sequencer) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// RunID returns the stored run ID, empty without a store
func (s *Sequencer) RunID() string {
	return s.runID
}

// Run executes the sequence and blocks for as long as the scheduler daemon
// runs. It returns nil once the daemon exits cleanly; any failure comes back
// as a *StepError naming the state whose step failed.
func (s *Sequencer) Run(ctx context.Context) (err error) {
	hostname, err := s.opts.Hostname()
	if err != nil {
		return &StepError{State: types.StateRoleResolved, Err: fmt.Errorf("failed to read hostname: %w", err)}
	}
	s.hostname = hostname
	s.logger = s.logger.With().Str("hostname", hostname).Logger()

	s.begin()
	defer func() { s.finish(err) }()

	s.enter(types.StateInit, nil)

	// Role and configuration errors abort before any side effect
	nodeRole, err := role.Detect(hostname)
	if err != nil {
		return &StepError{State: types.StateRoleResolved, Err: err}
	}
	s.role = nodeRole
	s.logger = log.WithRole(hostname, nodeRole.String()).With().
		Str("component", "bootstrap").
		Str("run_id", s.runID).
		Logger()
	s.storeRole()
	s.enter(types.StateRoleResolved, nil)

	cfg, err := config.Load(s.opts.Resolver, nodeRole)
	if err != nil {
		return &StepError{State: types.StateConfigResolved, Err: err}
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	c, err := s.opts.Factory(cfg)
	if err != nil {
		return &StepError{State: types.StateConfigResolved, Err: err}
	}
	s.enter(types.StateConfigResolved, nil)

	if nodeRole == types.NodeRoleController {
		err = s.step(ctx, types.StateBinaryEnsured, config.StepBuild, func(ctx context.Context) error {
			_, err := c.Builder.EnsureBinaryPresent(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if err := s.step(ctx, types.StateNetworkConfigured, config.StepNetwork, func(ctx context.Context) error {
		return c.Network.Configure(ctx, nodeRole)
	}); err != nil {
		return err
	}

	if err := s.step(ctx, types.StateAuthIntegrated, config.StepAuth, c.Auth.Integrate); err != nil {
		return err
	}

	if err := s.step(ctx, types.StateCredentialServiceUp, config.StepCredentials, c.Credentials.Start); err != nil {
		return err
	}

	dirs := types.SchedulerDirectories(nodeRole, cfg.ServiceUser)
	if err := s.step(ctx, types.StateDirectoriesProvisioned, config.StepDirectories, func(context.Context) error {
		return c.Directories.Ensure(dirs)
	}); err != nil {
		return err
	}

	switch nodeRole {
	case types.NodeRoleWorker:
		if err := s.waitOnController(ctx, cfg, c.Prober); err != nil {
			return err
		}
	case types.NodeRoleController:
		s.checkDirectoryServer(ctx, cfg, c.Prober)
	}

	return s.launch(ctx, cfg, c.Launcher)
}

// step runs fn and enters target on success. A failure is returned as a
// *StepError unless the policy ignores failures of policyStep.
func (s *Sequencer) step(ctx context.Context, target types.State, policyStep config.Step, fn func(context.Context) error) error {
	logger := log.WithStep(s.logger, string(policyStep))
	logger.Info().Str("target", string(target)).Msg("Running step")

	timer := metrics.NewTimer()
	err := fn(ctx)
	timer.ObserveDurationVec(metrics.StepDuration, string(policyStep))

	if err == nil {
		logger.Info().Dur("duration", timer.Duration()).Msg("Step completed")
		s.enter(target, nil)
		return nil
	}

	if ctx.Err() == nil && s.cfg.Policy.For(policyStep) == config.OnFailureIgnore {
		metrics.StepFailures.WithLabelValues(string(policyStep), "ignored").Inc()
		logger.Warn().Err(err).Msg("Step failed, continuing as the failure policy ignores it")
		s.publish(events.EventStepIgnored, target, err.Error(), nil)
		s.enter(target, err)
		return nil
	}

	metrics.StepFailures.WithLabelValues(string(policyStep), "fatal").Inc()
	return &StepError{State: target, Err: err}
}

func (s *Sequencer) waitOnController(ctx context.Context, cfg *config.Config, prober ReadinessProber) error {
	endpoint := cfg.ControllerEndpoint()
	s.enter(types.StateWaitingOnController, nil)

	s.logger.Info().
		Str("controller", endpoint.Address()).
		Dur("timeout", cfg.WaitTimeout).
		Dur("interval", cfg.PollInterval).
		Msg("Waiting for the controller daemon")

	timer := metrics.NewTimer()
	err := prober.WaitForEndpoint(ctx, endpoint, health.NewWaiter(cfg.WaitTimeout, cfg.PollInterval))
	timer.ObserveDurationVec(metrics.StepDuration, string(config.StepReadiness))
	if err != nil {
		metrics.StepFailures.WithLabelValues(string(config.StepReadiness), "fatal").Inc()
		return &StepError{State: types.StateWaitingOnController, Err: err}
	}

	s.logger.Info().Str("controller", endpoint.Address()).Dur("waited", timer.Duration()).Msg("Controller is reachable")
	return nil
}

// checkDirectoryServer probes the LDAP server once. sssd keeps retrying on
// its own, so an unreachable server is only a warning.
func (s *Sequencer) checkDirectoryServer(ctx context.Context, cfg *config.Config, prober ReadinessProber) {
	if prober.IsReachable(ctx, cfg.DirectoryServer) {
		s.logger.Info().Str("directory_server", cfg.DirectoryServer.Address()).Msg("Directory server is reachable")
		return
	}
	s.logger.Warn().Str("directory_server", cfg.DirectoryServer.Address()).Msg("Directory server is not reachable, launching anyway")
}

func (s *Sequencer) launch(ctx context.Context, cfg *config.Config, launcher DaemonLauncher) error {
	spec := DaemonSpec(cfg)
	launched := false

	s.logger.Info().Str("daemon", spec.String()).Str("user", spec.User).Msg("Launching scheduler daemon")

	err := launcher.Run(ctx, spec, func(pid int) {
		launched = true
		s.enter(types.StateDaemonLaunched, nil)
		s.publish(events.EventDaemonStarted, types.StateDaemonLaunched, spec.String(), map[string]string{
			"pid": strconv.Itoa(pid),
		})
	})
	if err != nil {
		metrics.StepFailures.WithLabelValues(string(config.StepLaunch), "fatal").Inc()
		if !launched {
			return &StepError{State: types.StateDaemonLaunched, Err: err}
		}
		return &StepError{State: types.StateTerminal, Err: err}
	}

	s.enter(types.StateTerminal, nil)
	return nil
}

// enter moves the machine to state and reports the transition
func (s *Sequencer) enter(state types.State, stepErr error) {
	s.mu.Lock()
	s.state = state
	s.history = append(s.history, state)
	s.mu.Unlock()

	all := make([]string, len(types.States))
	for i, st := range types.States {
		all[i] = string(st)
	}
	metrics.SetState(string(state), all)

	record := types.StepRecord{State: state, At: time.Now().UTC()}
	if stepErr != nil {
		record.Error = stepErr.Error()
	}
	if s.opts.Store != nil && s.runID != "" {
		if err := s.opts.Store.RecordStep(s.runID, record); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record step")
		}
	}

	s.logger.Debug().Str("state", string(state)).Msg("Entered state")
	s.publish(events.EventStateEntered, state, "", nil)
}

func (s *Sequencer) publish(typ events.EventType, state types.State, msg string, meta map[string]string) {
	if s.opts.Broker == nil {
		return
	}
	s.opts.Broker.Publish(&events.Event{
		Type:     typ,
		RunID:    s.runID,
		Role:     s.role,
		State:    state,
		Message:  msg,
		Metadata: meta,
	})
}

func (s *Sequencer) begin() {
	if s.opts.Store == nil {
		return
	}
	run, err := s.opts.Store.BeginRun(s.hostname)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record bootstrap run")
		return
	}
	s.runID = run.ID
	s.logger = s.logger.With().Str("run_id", run.ID).Logger()
}

func (s *Sequencer) storeRole() {
	metrics.BootstrapInfo.WithLabelValues(s.role.String(), s.hostname, s.runID).Set(1)

	if s.opts.Store == nil || s.runID == "" {
		return
	}
	if err := s.opts.Store.SetRole(s.runID, s.role); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record role")
	}
}

func (s *Sequencer) finish(err error) {
	status := types.RunStatusSucceeded
	if err != nil {
		status = types.RunStatusFailed
		s.enter(types.StateFailed, err)
		s.publish(events.EventStepFailed, types.StateFailed, err.Error(), nil)
		s.logger.Error().Err(err).Msg("Bootstrap failed")
	}

	if s.opts.Store != nil && s.runID != "" {
		if storeErr := s.opts.Store.FinishRun(s.runID, status, ExitCode(err), err); storeErr != nil {
			s.logger.Warn().Err(storeErr).Msg("Failed to record run outcome")
		}
	}
	s.publish(events.EventRunFinished, s.State(), string(status), map[string]string{
		"exit_code": strconv.Itoa(ExitCode(err)),
	})
}
