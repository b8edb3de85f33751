package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/d1nch8g/linecue/api"
	"github.com/d1nch8g/linecue/audio"
	"github.com/d1nch8g/linecue/config"
	"github.com/d1nch8g/linecue/console"
	"github.com/d1nch8g/linecue/decode"
	"github.com/d1nch8g/linecue/engine"
	"github.com/d1nch8g/linecue/events"
	"github.com/d1nch8g/linecue/input"
	"github.com/d1nch8g/linecue/journal"
	"github.com/d1nch8g/linecue/sound"
	"github.com/d1nch8g/linecue/tts"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "linecue",
		Short:         "Per-worker audio instructions for an assembly line",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLine,
	}
	rootCmd.PersistentFlags().Bool("no-console", false, "do not read operator commands from stdin")

	runCmd := &cobra.Command{
		Use:           "run",
		Short:         "Start the assembly line",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLine,
	}

	outputsCmd := &cobra.Command{
		Use:           "outputs",
		Short:         "List audio output devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listOutputs,
	}

	inputsCmd := &cobra.Command{
		Use:           "inputs",
		Short:         "List bindable button devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listInputs,
	}

	historyCmd := &cobra.Command{
		Use:           "history [slot]",
		Short:         "Show journaled slot events",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          showHistory,
	}
	historyCmd.Flags().Int("limit", 50, "number of events to show")

	rootCmd.AddCommand(runCmd, outputsCmd, inputsCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runLine(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := log.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices := audio.NewPortaudioDevices()
	if err := devices.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer devices.Terminate()

	decoder := decode.FileDecoder{}
	player := sound.NewPortaudioPlayer(sound.PlayerConfig{FramesPerBuffer: cfg.FramesPerBuffer}, devices, decoder)
	bus := events.New(events.WithLogger(logger))

	opts := []engine.Option{
		engine.WithOutputs(devices),
		engine.WithBus(bus),
		engine.WithLogger(logger),
	}

	var (
		sources []input.Source
		listers input.Listers
	)
	if cfg.HIDEnabled {
		hid := input.NewHIDSource(input.HIDConfig{PollInterval: cfg.InputPollInterval, Logger: logger})
		sources = append(sources, hid)
		listers = append(listers, hid)
	}
	if cfg.MIDIEnabled {
		midi := input.NewMIDISource(input.MIDIConfig{PollInterval: cfg.InputPollInterval, Logger: logger})
		sources = append(sources, midi)
		listers = append(listers, midi)
	}
	if len(listers) > 0 {
		opts = append(opts, engine.WithInputs(listers))
	}

	if cfg.YandexAPIKey != "" && cfg.FolderID != "" {
		client, err := tts.NewYandexTTSClient(tts.YandexConfig{APIKey: cfg.YandexAPIKey, FolderID: cfg.FolderID})
		if err != nil {
			return fmt.Errorf("failed to create TTS client: %w", err)
		}
		defer client.Close()

		options := tts.GetDefaultSynthesisOptions()
		options.Voice = cfg.TTSVoice
		opts = append(opts, engine.WithSpeaker(tts.NewRenderer(client, cfg.TTSCacheDir, options, logger)))
	}

	eng := engine.NewEngine(engine.EngineConfig{
		SlotCount:       cfg.SlotCount,
		PlayPauseMode:   cfg.PlayPauseMode,
		StopTimeout:     cfg.StopTimeout,
		MaxStartRetries: cfg.MaxStartRetries,
		TriggerBuffer:   cfg.TriggerBuffer,
		ActiveHours:     cfg.ActiveHours,
		AutoBindInput:   cfg.AutoBindInput,
	}, player, decoder, opts...)

	if err := eng.ApplyBindings(cfg.Outputs, cfg.Inputs); err != nil {
		logger.Printf("[Main] some preset bindings failed: %v", err)
	}

	var wg sync.WaitGroup
	inputEvents := make(chan input.Event, 64)
	for _, src := range sources {
		wg.Add(1)
		go func(src input.Source) {
			defer wg.Done()
			if err := src.Run(ctx, inputEvents); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("[Main] input source stopped: %v", err)
			}
		}(src)
	}

	var apiOpts []api.Option
	if cfg.JournalPath != "" {
		j, err := journal.Open(ctx, cfg.JournalPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()

		sub := bus.Subscribe("journal")
		defer sub.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Run(ctx, sub)
		}()
		apiOpts = append(apiOpts, api.WithHistory(j))
		logger.Printf("[Main] journaling session %s to %s", j.Session(), cfg.JournalPath)
	}

	if cfg.APIAddr != "" {
		srv := api.NewServer(eng, bus, append(apiOpts, api.WithLogger(logger))...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, cfg.APIAddr); err != nil {
				logger.Printf("[Main] %v", err)
				stop()
			}
		}()
	}

	if noConsole, _ := cmd.Flags().GetBool("no-console"); !noConsole {
		con := console.New(eng, os.Stdout)
		sub := bus.Subscribe("console")
		defer sub.Close()
		go con.Watch(ctx, sub)
		go func() {
			if err := con.Run(ctx, os.Stdin); err == nil {
				stop()
			}
		}()
	}

	fmt.Printf("Assembly line running with %d slots. Press Ctrl-C to stop.\n", cfg.SlotCount)

	err = eng.Run(ctx, inputEvents)
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		fmt.Println("\nStopping...")
		return nil
	}
	return err
}

func listOutputs(cmd *cobra.Command, args []string) error {
	devices := audio.NewPortaudioDevices()
	if err := devices.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer devices.Terminate()

	list, err := devices.OutputDevices()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tID\tCHANNELS\tRATE")
	for _, d := range list {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.0f\n", d.Index, d.ID, d.Channels, d.DefaultSampleRate)
	}
	return w.Flush()
}

func listInputs(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var listers input.Listers
	if cfg.HIDEnabled {
		listers = append(listers, input.NewHIDSource(input.HIDConfig{}))
	}
	if cfg.MIDIEnabled {
		listers = append(listers, input.NewMIDISource(input.MIDIConfig{}))
	}
	if len(listers) == 0 {
		return errors.New("HID_ENABLED and MIDI_ENABLED are both off")
	}

	devices, err := listers.Devices()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tPRODUCT\tMANUFACTURER\tKIND")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Path, d.Product, d.Manufacturer, d.Kind)
	}
	return w.Flush()
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.JournalPath == "" {
		return errors.New("JOURNAL_PATH is not set")
	}

	slot := 0
	if len(args) == 1 {
		if slot, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid slot %q", args[0])
		}
	}
	limit, _ := cmd.Flags().GetInt("limit")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	j, err := journal.Open(ctx, cfg.JournalPath, nil)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(ctx, slot, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSLOT\tKIND\tREASON\tSTATE\tITEM\tMESSAGE")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format("2006-01-02 15:04:05"), e.Slot, e.Kind, e.Reason, e.State, e.Label, e.Message)
	}
	return w.Flush()
}
