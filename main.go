package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"callguard/analyzer"
	"callguard/audio"
	"callguard/config"
	"callguard/encoder"
	"callguard/log"
	"callguard/session"
	"callguard/shutdown"
)

var version = "dev"

var (
	controllerMu     sync.Mutex
	activeController *session.Controller
)

var shutdownOnce sync.Once

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		controllerMu.Lock()
		ctrl := activeController
		controllerMu.Unlock()
		if ctrl != nil {
			ctrl.Stop()
		}
		log.Close()
		if tuiProgram != nil {
			tuiProgram.Quit()
		}
		os.Exit(0)
	})
}

func setController(c *session.Controller) {
	controllerMu.Lock()
	activeController = c
	controllerMu.Unlock()
}

func controller() *session.Controller {
	controllerMu.Lock()
	defer controllerMu.Unlock()
	return activeController
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func modeLineText(cfg *config.Config, streaming bool) string {
	transport := "http"
	if streaming {
		transport = "ws"
	}
	mode := "sequential"
	if cfg.Pipelined {
		mode = "pipelined"
	}
	return fmt.Sprintf("[%s | %s | %s chunks]", transport, mode, cfg.ChunkDuration)
}

func main() {
	run()
}

func run() {
	endpointFlag := flag.String("endpoint", "", "Analyzer base URL (default from config)")
	chunkFlag := flag.Duration("chunk", 0, "Audio chunk duration (e.g., 3s)")
	pipelinedFlag := flag.Bool("pipelined", true, "Record the next chunk while the previous uploads")
	streamFlag := flag.Bool("stream", true, "Stream over WebSocket (false = per-chunk HTTP)")
	fileFlag := flag.String("file", "", "Analyze a recorded WAV file and exit")
	formatFlag := flag.String("format", "", "Batch upload format: wav or flac")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, fake audio)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if *endpointFlag != "" {
		cfg.Endpoint = *endpointFlag
	}
	if *chunkFlag > 0 {
		cfg.ChunkDuration = *chunkFlag
	}
	if set["pipelined"] {
		cfg.Pipelined = *pipelinedFlag
	}
	if *formatFlag != "" {
		cfg.Format = *formatFlag
	}
	if *deviceFlag != "" {
		cfg.Device = *deviceFlag
	}
	if *logPathFlag != "" {
		cfg.LogPath = *logPathFlag
	}

	switch cfg.Format {
	case "wav", "flac":
	default:
		fmt.Printf("Error: unknown format %q (use wav or flac)\n", cfg.Format)
		os.Exit(1)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *versionFlag {
		fmt.Printf("callguard %s\n", version)
		os.Exit(0)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	if *fileFlag != "" {
		os.Exit(runBatch(cfg, *fileFlag))
	}

	if *testFlag {
		runTestMode(cfg, *streamFlag, flag.Args())
		return
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	var selectedDevice *audio.DeviceInfo
	if cfg.Device != "" {
		if devices, err := ctx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == cfg.Device {
					selectedDevice = &devices[i]
					break
				}
			}
		}
		if selectedDevice == nil {
			fmt.Printf("Warning: device %q not found, using system default\n", cfg.Device)
		}
	} else if *setupFlag {
		selectedDevice, err = audio.SelectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	ctrl := session.New(session.Config{
		Audio:      ctx,
		Device:     selectedDevice,
		NewChannel: channelFactory(cfg, *streamFlag),
		Endpoint:   cfg.Endpoint,
		Capture: audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		},
		ChunkDuration: cfg.ChunkDuration,
		Pipelined:     cfg.Pipelined,
		OnUpdate: func(u session.Update) {
			tuiSend(AnalysisMsg{Update: u})
		},
		OnError: func(msg string) {
			log.Errorf("session error: %s", msg)
			tuiSend(SessionErrorMsg{Text: msg})
		},
		OnState: func(s session.State) {
			tuiSend(SessionStateMsg{State: s})
		},
	})
	setController(ctrl)

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown()
	}()

	if !*tuiFlag {
		runHeadless(ctrl)
		return
	}

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(modeLineText(cfg, *streamFlag), deviceLineText(selectedDevice))
	tuiMu.Unlock()

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		os.Exit(1)
	}
	gracefulShutdown()
}

// runHeadless streams immediately and prints fragments as plain lines until
// interrupted.
func runHeadless(ctrl *session.Controller) {
	if err := ctrl.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("callguard: streaming (ctrl+c to stop)")
	select {}
}

func channelFactory(cfg *config.Config, stream bool) func(analyzer.ChannelCallbacks) session.Channel {
	return func(cbs analyzer.ChannelCallbacks) session.Channel {
		if stream {
			return analyzer.NewChannel(analyzer.ChannelConfig{
				Endpoint:    cfg.Endpoint,
				BaseDelay:   cfg.BaseDelay,
				MaxAttempts: cfg.MaxAttempts,
			}, cbs)
		}
		return analyzer.NewHTTPChannel(cfg.Endpoint, cbs)
	}
}

// runBatch uploads one recording to the analyzer and prints the verdict.
func runBatch(cfg *config.Config, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		return 1
	}

	filename := filepath.Base(path)
	if cfg.Format == "flac" {
		data, err = transcodeToFlac(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding FLAC: %v\n", err)
			return 1
		}
		filename = filename[:len(filename)-len(filepath.Ext(filename))] + ".flac"
	}

	client := analyzer.NewClient(cfg.Endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := client.Analyze(ctx, data, filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	verdict := "clean"
	if report.Suspicious {
		verdict = "SUSPICIOUS"
	}
	fmt.Printf("%s  confidence=%.2f\n", verdict, report.Confidence)
	for _, r := range report.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	for _, ts := range report.Timestamps {
		fmt.Printf("  %6.1fs-%-6.1fs %-20s %q\n", ts.Start, ts.End, ts.Type, ts.Text)
	}
	if m := report.Metrics; m != nil {
		fmt.Printf("upload: %.0fms total (ttfb %.0fms)\n",
			float64(m.Total.Milliseconds()), float64(m.TTFB.Milliseconds()))
	}
	if report.Suspicious {
		return 2
	}
	return 0
}

// transcodeToFlac re-encodes a WAV recording's PCM payload as FLAC.
func transcodeToFlac(wav []byte) ([]byte, error) {
	if len(wav) <= audio.WAVHeaderSize {
		return nil, fmt.Errorf("input too short to be a WAV recording")
	}
	pcm := wav[audio.WAVHeaderSize:]

	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, err
	}
	block := make([]int16, encoder.BlockSize)
	for off := 0; off+1 < len(pcm); {
		n := 0
		for ; n < encoder.BlockSize && off+1 < len(pcm); n++ {
			block[n] = int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
			off += 2
		}
		if err := enc.EncodeBlock(block[:n]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}
