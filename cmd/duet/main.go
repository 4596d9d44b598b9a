package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/duet/internal/audio"
	"github.com/satindergrewal/duet/internal/capture"
	"github.com/satindergrewal/duet/internal/config"
	"github.com/satindergrewal/duet/internal/engine"
	"github.com/satindergrewal/duet/internal/export"
	"github.com/satindergrewal/duet/internal/overlay"
	"github.com/satindergrewal/duet/internal/project"
	"github.com/satindergrewal/duet/internal/server"
	"github.com/satindergrewal/duet/internal/stream"
	"github.com/satindergrewal/duet/internal/watch"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "duet",
	Short: "Two-track mixing workstation with stem separation",
	Long: `duet mixes an instrumental and a vocal track in sync, records
microphone overdubs, separates mixes into vocal and karaoke stems and
renders mixdowns to WAV or WebM.

Configuration is read from DUET_* environment variables and .env.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and the REST API",
	Long: `Start the mixing engine, the REST API and the live monitors.

Example:
  duet serve --port 8080`,
	RunE: runServe,
}

var separateCmd = &cobra.Command{
	Use:   "separate",
	Short: "Split a recording into vocal and instrumental stems",
	Long: `Split a recording into <name>.vocal.wav and <name>.instrumental.wav.

Examples:
  duet separate -i song.mp3
  duet separate -i song.wav -o ./stems`,
	RunE: runSeparate,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Separate every recording dropped into a folder",
	Long: `Watch a folder and write stems for each new recording.

Example:
  duet watch --in ./inbox --out ./stems`,
	RunE: runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("duet", version)
	},
}

var (
	port       int
	inputPath  string
	outputDir  string
	inboxDir   string
	outboxDir  string
	ffmpegPath string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(separateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&ffmpegPath, "ffmpeg", "", "ffmpeg binary (default from DUET_FFMPEG_PATH)")

	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (default from DUET_PORT)")

	separateCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Input recording")
	separateCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default: next to the input)")
	separateCmd.MarkFlagRequired("input")

	watchCmd.Flags().StringVar(&inboxDir, "in", "", "Folder to watch (default from DUET_INBOX_DIR)")
	watchCmd.Flags().StringVar(&outboxDir, "out", "", "Folder for stems (default from DUET_OUTBOX_DIR)")
}

// loadConfig applies command line overrides on top of the environment.
func loadConfig() config.Config {
	cfg := config.Load()
	if ffmpegPath != "" {
		cfg.FFmpegPath = ffmpegPath
	}
	if port != 0 {
		cfg.Port = port
	}
	audio.FFmpegPath = cfg.FFmpegPath
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	log.Println("duet starting up...")

	// Master bus fan-out to the monitors
	broadcaster := stream.NewBroadcaster(0)
	mic := stream.NewMicIngest()

	eng := engine.New(engine.Options{
		Lookahead:  cfg.Lookahead,
		Ramp:       cfg.Ramp,
		Microphone: mic,
	})
	go eng.Run(ctx)
	go broadcaster.Run(ctx, eng.Frames())

	var background image.Image
	if cfg.VideoBackground != "" {
		img, err := overlay.LoadBackground(cfg.VideoBackground)
		if err != nil {
			log.Printf("Video background unavailable, using a plain frame: %v", err)
		} else {
			background = img
		}
	}
	exporter := export.New(eng, export.Options{
		Dir:        cfg.DataDir,
		FFmpegPath: cfg.FFmpegPath,
		Buffer:     cfg.ExportBuffer,
		Frames: func() capture.FrameSource {
			return overlay.NewPulse(cfg.VideoWidth, cfg.VideoHeight, cfg.VideoFPS, cfg.VideoTitle, background)
		},
	})

	store, err := project.OpenStore(cfg.DBPath())
	if err != nil {
		log.Printf("Project store disabled: %v", err)
	} else {
		defer store.Close()
	}

	if cfg.LocalMonitor {
		readyCtx, readyCancel := context.WithTimeout(ctx, 5*time.Second)
		monitor, err := stream.NewLocalMonitor(readyCtx, broadcaster)
		readyCancel()
		if err != nil {
			log.Printf("Local speaker monitor unavailable: %v", err)
		} else {
			defer monitor.Close()
		}
	}

	if cfg.InboxDir != "" {
		inbox := watch.NewInbox(cfg.InboxDir, cfg.OutboxDir)
		go func() {
			if err := inbox.Run(ctx); err != nil {
				log.Printf("Inbox watcher stopped: %v", err)
			}
		}()
	} else {
		log.Println("Inbox not configured (set DUET_INBOX_DIR to enable drop-folder separation)")
	}

	srv := server.New(server.Config{
		Port:           cfg.Port,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}, server.Deps{
		Engine:   eng,
		Exporter: exporter,
		Store:    store,
		Stream:   stream.NewHTTPHandler(broadcaster, cfg.FFmpegPath, "duet"),
		Offer:    stream.NewWebRTCHandler(broadcaster),
		MicOffer: mic,
	})
	return srv.Run(ctx)
}

func runSeparate(cmd *cobra.Command, args []string) error {
	loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	start := time.Now()
	vocal, inst, err := watch.SeparateFile(ctx, inputPath, dir)
	if err != nil {
		return err
	}
	fmt.Printf("Vocal:        %s\nInstrumental: %s\n(%.1fs)\n", vocal, inst, time.Since(start).Seconds())
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	in := inboxDir
	if in == "" {
		in = cfg.InboxDir
	}
	out := outboxDir
	if out == "" {
		out = cfg.OutboxDir
	}
	if in == "" {
		return fmt.Errorf("no folder to watch: pass --in or set DUET_INBOX_DIR")
	}
	return watch.NewInbox(in, out).Run(ctx)
}
