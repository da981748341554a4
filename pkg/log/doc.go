/*
Package log provides structured logging for the bootstrap using zerolog.

A single global Logger is configured once by Init, before any step runs.
Components derive child loggers from it so that every line carries enough
context to tell which node, role and step produced it.

# Configuration

	log.Init(log.Config{
		Level:      log.ParseLevel(os.Getenv("HPC_BOOTSTRAP_LOG_LEVEL")),
		JSONOutput: true,
		Output:     os.Stderr,
	})

Console output is the default and is meant for reading container logs by
eye. JSON output is meant for log shippers. ParseLevel accepts the usual
level names in any case and falls back to info.

# Child Loggers

	logger := log.WithComponent("munge")
	logger.Info().Str("socket", path).Msg("Credential service is up")

	nodeLog := log.WithRole(hostname, "worker")
	stepLog := log.WithStep(nodeLog, "network_configured")

# Child Process Output

Commands run during the bootstrap (package installs, the scheduler build,
the daemon itself) write to a LineWriter, which turns their output into one
log event per line tagged with the stream it came from:

	stdout := log.NewLineWriter(logger, zerolog.InfoLevel, "stdout")
	stderr := log.NewLineWriter(logger, zerolog.WarnLevel, "stderr")
	cmd.Stdout, cmd.Stderr = stdout, stderr
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()

A trailing partial line is held until the next write or until Flush.
*/
package log
