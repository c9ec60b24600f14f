package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"

	"neuroseq/bridge"
	"neuroseq/config"
	"neuroseq/debug"
	"neuroseq/engine"
	"neuroseq/midi"
	"neuroseq/player"
	"neuroseq/telemetry"
	"neuroseq/theme"
	"neuroseq/tui"
)

var (
	flagPort     string
	flagTempo    int
	flagCapacity int
	flagSeed     int64
	flagMetrics  string
	flagDebug    bool
)

func main() {
	root := &cobra.Command{
		Use:   "neuroseq",
		Short: "Lock-free live-coding sequencer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				return debug.Enable()
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "log to ~/.config/neuroseq/debug.log")

	playCmd := &cobra.Command{
		Use:   "play",
		Short: "Run the demo pattern against a MIDI output",
		RunE:  runPlay,
	}
	playCmd.Flags().StringVar(&flagPort, "port", "", "MIDI output port (substring match, first port if empty)")
	playCmd.Flags().IntVar(&flagTempo, "tempo", 0, "tempo in BPM (overrides config)")
	playCmd.Flags().IntVar(&flagCapacity, "capacity", 0, "event heap capacity (overrides config)")
	playCmd.Flags().Int64Var(&flagSeed, "seed", 0, "cursor RNG seed")
	playCmd.Flags().StringVar(&flagMetrics, "metrics", "", "serve Prometheus metrics on this address (e.g. :9090)")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch a running engine in a terminal UI",
		RunE:  runMonitor,
	}
	monitorCmd.Flags().IntVar(&flagTempo, "tempo", 0, "tempo in BPM (overrides config)")
	monitorCmd.Flags().IntVar(&flagCapacity, "capacity", 0, "event heap capacity (overrides config)")
	monitorCmd.Flags().Int64Var(&flagSeed, "seed", 0, "cursor RNG seed")

	portsCmd := &cobra.Command{
		Use:   "ports",
		Short: "List available MIDI ports",
		Run: func(cmd *cobra.Command, args []string) {
			defer midi.Close()
			fmt.Println("Inputs:")
			for i, name := range midi.InPorts() {
				fmt.Printf("  %d: %s\n", i, name)
			}
			fmt.Println("Outputs:")
			for i, name := range midi.OutPorts() {
				fmt.Printf("  %d: %s\n", i, name)
			}
		},
	}

	root.AddCommand(playCmd, monitorCmd, portsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newBridge builds a bridge from the config file with flag overrides applied.
func newBridge(logger zerolog.Logger) (*bridge.Bridge, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flagTempo > 0 {
		cfg.Engine.Tempo = flagTempo
	}
	if flagCapacity > 0 {
		cfg.Engine.Capacity = flagCapacity
	}
	if flagSeed != 0 {
		cfg.Engine.Seed = flagSeed
	}

	br, err := bridge.New(bridge.Config{
		Capacity:     cfg.Engine.Capacity,
		Tempo:        cfg.Engine.Tempo,
		PPQ:          cfg.Engine.PPQ,
		SafeZone:     int64(cfg.Engine.SafeZone),
		Seed:         cfg.Engine.Seed,
		SynapseQuota: cfg.Engine.SynapseQuota,
		LearnStep:    cfg.Engine.LearnStep,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return br, cfg, nil
}

// seedDemo authors a small two-phrase pattern joined by a probabilistic
// branch, so play and monitor have something audible out of the box.
func seedDemo(br *bridge.Bridge) error {
	beat := int64(br.Engine().PPQ())

	phraseA := []uint8{60, 64, 67, 72}
	phraseB := []uint8{55, 59, 62}

	idsA := make([]int64, len(phraseA))
	for i, pitch := range phraseA {
		idsA[i] = br.AnonID()
		if res := br.Note(idsA[i], int64(i)*beat, beat/2, pitch, 100); res != engine.OK {
			return res.Err()
		}
	}
	idsB := make([]int64, len(phraseB))
	for i, pitch := range phraseB {
		idsB[i] = br.AnonID()
		if res := br.Note(idsB[i], int64(len(phraseA)+i)*beat, beat/2, pitch, 90); res != engine.OK {
			return res.Err()
		}
	}

	// The last note of each phrase can jump back to the top of phrase A,
	// so the demo loops with a bit of chance in the routing.
	if res := br.Connect(idsA[len(idsA)-1], idsA[0], 300, 0); res != engine.OK {
		return res.Err()
	}
	if res := br.Connect(idsB[len(idsB)-1], idsA[0], 800, 0); res != engine.OK {
		return res.Err()
	}
	return nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	logger := debug.Logger()

	br, cfg, err := newBridge(logger)
	if err != nil {
		return err
	}

	port := cfg.MIDI.PortName
	if flagPort != "" {
		port = flagPort
	}
	send, closePort, err := midi.OpenSender(port)
	if err != nil {
		return err
	}
	defer closePort()
	defer midi.Close()

	if err := seedDemo(br); err != nil {
		return err
	}

	if flagMetrics != "" {
		reg := prometheus.NewRegistry()
		if err := reg.Register(telemetry.NewCollector(br.Engine())); err != nil {
			return err
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(flagMetrics, mux); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	p := player.New(br.Engine(), br.Cursor(), send, uint8(cfg.MIDI.Channel), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("neuroseq playing at %d bpm (ctrl-c to stop)\n", br.Engine().Tempo())
	p.Run(ctx)
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	logger := debug.Logger()

	br, cfg, err := newBridge(logger)
	if err != nil {
		return err
	}

	if err := seedDemo(br); err != nil {
		return err
	}

	// Silent player keeps the playhead moving so the monitor has
	// something to show without a MIDI device attached.
	silent := func(gomidi.Message) error { return nil }
	p := player.New(br.Engine(), br.Cursor(), silent, 0, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	refresh := time.Duration(cfg.UI.RefreshMillis) * time.Millisecond
	m := tui.NewModel(br.Engine(), theme.New(theme.Default()), refresh)
	prog := tea.NewProgram(m, tea.WithAltScreen())
	_, err = prog.Run()
	return err
}
