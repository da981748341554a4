package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cuemby/hpc-bootstrap/pkg/bootstrap"
	"github.com/cuemby/hpc-bootstrap/pkg/config"
	"github.com/cuemby/hpc-bootstrap/pkg/events"
	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/metrics"
	"github.com/cuemby/hpc-bootstrap/pkg/runner"
	"github.com/cuemby/hpc-bootstrap/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// ErrNotRoot is returned when the bootstrap is started without root
var ErrNotRoot = errors.New("hpc-bootstrap must run as root")

// geteuid is replaced in tests
var geteuid = os.Geteuid

// requireRoot refuses to start a bootstrap from any other identity. Several
// steps write under /etc and /var in-process and the worker daemon must
// inherit root.
func requireRoot() error {
	if uid := geteuid(); uid != 0 {
		return fmt.Errorf("%w (running as uid %d)", ErrNotRoot, uid)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(bootstrap.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "hpc-bootstrap",
	Short: "Bootstrap an HPC cluster node and run its scheduler daemon",
	Long: `hpc-bootstrap turns a freshly started node into a working member of a
SLURM cluster. The hostname picks the role: slurmctld* nodes become the
controller, compute* nodes become workers.

The node is configured from environment variables, then network, SSSD,
munge and the scheduler directories are set up. Workers wait for the
controller to accept connections. Finally the scheduler daemon runs in the
foreground and its exit status becomes the exit status of this command.

The bootstrap must run as root. Commands that need elevation go through
sudo with SLURM_USER_PASSWORD unless HPC_BOOTSTRAP_ELEVATION=direct.`,
	Version:           Version,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runBootstrap,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hpc-bootstrap version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Add subcommands
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(roleCmd)
}

// setup seeds the environment from the env file and initializes logging
func setup(cmd *cobra.Command, args []string) error {
	if path := os.Getenv(string(config.KeyEnvFile)); path != "" {
		if err := config.LoadEnvFile(path); err != nil {
			return err
		}
	}

	r := config.FromEnvironment()
	log.Init(log.Config{
		Level:      log.ParseLevel(r.Optional(config.KeyLogLevel, string(log.InfoLevel))),
		JSONOutput: strings.EqualFold(r.Optional(config.KeyLogJSON, "false"), "true"),
		Output:     os.Stderr,
	})
	return nil
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := requireRoot(); err != nil {
		return err
	}

	resolver := config.FromEnvironment()
	elevation, err := config.ResolveElevation(resolver)
	if err != nil {
		return err
	}

	// Held for the whole run so a second bootstrap on this node fails fast
	store, err := storage.Open(resolver.Optional(config.KeyStateDir, config.DefaultStateDir), storage.DefaultLockTimeout)
	if err != nil {
		return err
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()

	exported := make(chan struct{})
	if path := resolver.Optional(config.KeyMetricsFile, ""); path != "" {
		sub := broker.Subscribe()
		go func() {
			metrics.NewExporter(path).Run(sub)
			close(exported)
		}()
	} else {
		close(exported)
	}

	exec := runner.New(resolver.Secret)
	if elevation == config.ElevationDirect {
		exec = exec.WithoutElevation()
	}

	seq := bootstrap.New(bootstrap.Options{
		Resolver: resolver,
		Factory:  bootstrap.DefaultFactory(exec),
		Store:    store,
		Broker:   broker,
	})

	log.Logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("elevation", string(elevation)).
		Msg("Starting node bootstrap")

	err = seq.Run(ctx)

	broker.Stop()
	<-exported
	return err
}
