package main

import (
	"github.com/spf13/cobra"

	"github.com/tturner/modsim/internal/app"
)

type serverFlags struct {
	configPath string
	listenIP   string
	listenPort int
	logLevel   string
	logFormat  string
	logFile    string
}

func newServerCmd() *cobra.Command {
	flags := &serverFlags{}

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the Modbus/TCP echo responder",
		Long: `Run only the echo responder. Every complete Modbus/TCP frame received is
written back unchanged, and the per-second frame count is logged at verbose
level. Use it as a target for generators running elsewhere.

Press Ctrl+C to stop the server gracefully.`,
		Example: `  # Listen on the configured address
  modsim server

  # Listen on all interfaces, port 502
  modsim server --listen-ip 0.0.0.0 --listen-port 502`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunServer(app.ServerOptions{
				ConfigPath: flags.configPath,
				ListenIP:   flags.listenIP,
				ListenPort: flags.listenPort,
				LogLevel:   flags.logLevel,
				LogFormat:  flags.logFormat,
				LogFile:    flags.logFile,
			})
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Config file path (defaults plus MODSIM_* environment when empty)")
	cmd.Flags().StringVar(&flags.listenIP, "listen-ip", "", "Listen IP override")
	cmd.Flags().IntVar(&flags.listenPort, "listen-port", 0, "Listen port override")
	registerLogFlags(cmd, &flags.logLevel, &flags.logFormat, &flags.logFile)
	return cmd
}

func registerLogFlags(cmd *cobra.Command, level, format, file *string) {
	cmd.Flags().StringVar(level, "log-level", "", "Log level override: silent|error|info|verbose|debug")
	cmd.Flags().StringVar(format, "log-format", "", "Log format override: text|json")
	cmd.Flags().StringVar(file, "log-file", "", "Also write logs to this file")
}
