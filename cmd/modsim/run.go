package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/tturner/modsim/internal/api"
	"github.com/tturner/modsim/internal/app"
	"github.com/tturner/modsim/internal/logging"
	"github.com/tturner/modsim/internal/metrics"
)

type runFlags struct {
	configPath    string
	clients       int
	rate          int
	attackMode    string
	session       string
	sessionTarget int
	devices       bool
	duration      time.Duration
	pcapFile      string
	metricsFile   string
	apiAddr       string
	seed          int64
	progress      bool
	logLevel      string
	logFormat     string
	logFile       string
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full simulation",
		Long: `Start the echo responder, the traffic generators and the inspection pipeline,
optionally with an attack mode, an attack session and the synthetic field
devices. The run ends when --duration elapses or on Ctrl+C, and a summary of
inspection verdicts is printed.

With --api-addr (or api.listen_addr in the config) the HTTP control API is
served under /api/v1 for the lifetime of the run.`,
		Example: `  # Two clients at 20 pps for 30 seconds
  modsim run --clients 2 --rate 20 --duration 30s

  # Device feed under DoS with a pcap of accepted traffic
  modsim run --devices --attack-mode DOS --pcap dos.pcap --duration 1m

  # SYN flood session against client 0 with the control API
  modsim run --session syn_flood --api-addr 127.0.0.1:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			report, err := app.RunSimulation(app.RunOptions{
				ConfigPath:    flags.configPath,
				Clients:       flags.clients,
				Rate:          flags.rate,
				AttackMode:    flags.attackMode,
				Session:       flags.session,
				SessionTarget: flags.sessionTarget,
				Devices:       flags.devices,
				Duration:      flags.duration,
				PCAPFile:      flags.pcapFile,
				MetricsFile:   flags.metricsFile,
				APIAddr:       flags.apiAddr,
				LogLevel:      flags.logLevel,
				LogFormat:     flags.logFormat,
				LogFile:       flags.logFile,
				Seed:          flags.seed,
				Progress:      flags.progress,
				API: func(sim *app.Simulator, logger *logging.Logger) app.Service {
					return api.NewServer(sim, logger)
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Config file path (defaults plus MODSIM_* environment when empty)")
	cmd.Flags().IntVar(&flags.clients, "clients", 0, "Initial client count override")
	cmd.Flags().IntVar(&flags.rate, "rate", 0, "Per-client packets per second override")
	cmd.Flags().StringVar(&flags.attackMode, "attack-mode", "", "Attack mode: NONE|MITM_MODIFY|MITM_REPLAY|DOS")
	cmd.Flags().StringVar(&flags.session, "session", "", "Start an attack session: syn_flood|function_spam|random_packets|slowloris")
	cmd.Flags().IntVar(&flags.sessionTarget, "session-target", 0, "Client index the session drives")
	cmd.Flags().BoolVar(&flags.devices, "devices", false, "Enable the synthetic field device feed")
	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	cmd.Flags().StringVar(&flags.pcapFile, "pcap", "", "Write accepted packets to this pcap file")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write per-packet verdicts to this CSV file")
	cmd.Flags().StringVar(&flags.apiAddr, "api-addr", "", "Serve the control API on this address")
	cmd.Flags().BoolVar(&flags.progress, "progress", true, "Show live progress on stderr")
	cmd.Flags().Int64Var(&flags.seed, "seed", 0, "Seed for mutation and session randomness (0 = time based)")
	registerLogFlags(cmd, &flags.logLevel, &flags.logFormat, &flags.logFile)
	return cmd
}

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	alertStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(1, 2)
)

func renderReport(r *app.Report) string {
	p := message.NewPrinter(message.MatchLanguage("en"))
	var b strings.Builder

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-20s", label)))
		b.WriteString(value)
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("Simulation complete"))
	b.WriteString("\n\n")
	row("Duration", r.Duration.Truncate(time.Millisecond).String())
	row("Attack mode", r.Status.AttackMode)
	row("Clients", p.Sprintf("%d (%d pps total)", r.Status.ActiveClients, r.Status.TotalRate))
	row("Sent", p.Sprintf("%d", r.Status.TotalSent))
	row("Echoed", p.Sprintf("%d", r.Status.EchoedTotal))
	if r.Status.DevicePackets > 0 {
		row("Device packets", p.Sprintf("%d", r.Status.DevicePackets))
	}
	writeVerdicts(&b, p, r.Summary, row)

	if r.PCAPFile != "" {
		row("PCAP", p.Sprintf("%s (%d packets)", r.PCAPFile, r.CapturedPackets))
	}
	if r.MetricsFile != "" {
		row("Metrics", r.MetricsFile)
	}
	if r.Status.RunID != "" {
		row("Run ID", r.Status.RunID)
	}
	return frameStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func writeVerdicts(b *strings.Builder, p *message.Printer, sum *metrics.Summary, row func(string, string)) {
	if sum == nil || sum.Total == 0 {
		row("Inspected", "0")
		return
	}
	row("Inspected", p.Sprintf("%d", sum.Total))
	row("Accepted", p.Sprintf("%d (%.1f%%)", sum.Accepted, percent(sum.Accepted, sum.Total)))
	rejected := p.Sprintf("%d (%.1f%%)", sum.Rejected, percent(sum.Rejected, sum.Total))
	if sum.Rejected > 0 {
		rejected = alertStyle.Render(rejected)
	}
	row("Rejected", rejected)

	classes := make([]string, 0, len(sum.ByClass))
	for class := range sum.ByClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		row("  "+class, p.Sprintf("%d", sum.ByClass[class]))
	}
	if sum.Divergent > 0 {
		row("Divergent", alertStyle.Render(p.Sprintf("%d", sum.Divergent)))
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
