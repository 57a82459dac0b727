package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/thatcherizer"
	"github.com/menta2k/thatcherizer/internal/config"
	"github.com/menta2k/thatcherizer/internal/console"
	"github.com/menta2k/thatcherizer/internal/logging"
	"github.com/menta2k/thatcherizer/internal/utils"
	"github.com/menta2k/thatcherizer/pkg/detection"
	"github.com/menta2k/thatcherizer/pkg/session"
	"github.com/menta2k/thatcherizer/pkg/sink"
)

// visionCheckTimeout bounds -test-vision, model loading included
const visionCheckTimeout = 2 * time.Minute

func main() {
	var configPath, envFile, writeConfig string
	var outDir, still, backend, url, model, level string
	var printEnabled, overlay, testVision, version bool

	flag.StringVar(&configPath, "config", "", "JSON config file (default: "+config.GetConfigPath()+" when present)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with THATCHER_* overrides")
	flag.StringVar(&writeConfig, "write-config", "", "write the effective config to this path and exit")

	flag.StringVar(&outDir, "out", "", "output directory for run artifacts")
	flag.StringVar(&still, "still", "", "use this image instead of the camera")
	flag.StringVar(&backend, "backend", "", "feature detector: none|cascade|ollama|llamacpp")
	flag.StringVar(&url, "url", "", "detector server URL (ollama: http://localhost:11434, llamacpp: http://localhost:8080)")
	flag.StringVar(&model, "model", "", "vision model name")
	flag.StringVar(&level, "log-level", "", "log level: trace|debug|info|warn|error")
	flag.BoolVar(&printEnabled, "print", false, "send composites to the printer with lp")
	flag.BoolVar(&overlay, "debug-overlay", false, "save an overlay of the marked regions for each run")
	flag.BoolVar(&testVision, "test-vision", false, "ask the vision model to describe one frame and exit")
	flag.BoolVar(&version, "version", false, "print version and exit")

	flag.Parse()

	if version {
		fmt.Println("thatcherizer", thatcherizer.GetVersion())
		return
	}

	if err := config.LoadEnv(envFile); err != nil {
		fatal(err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fatal(err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.Dir = outDir
		case "still":
			cfg.Camera.Enabled = false
			cfg.Camera.StillImage = still
		case "backend":
			cfg.Detector.Backend = backend
		case "url":
			cfg.Detector.URL = url
		case "model":
			cfg.Detector.Model = model
		case "log-level":
			cfg.Log.Level = level
		case "print":
			cfg.Print.Enabled = printEnabled
		case "debug-overlay":
			cfg.Compositor.DebugOverlay = overlay
		}
	})

	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	if writeConfig != "" {
		if err := cfg.SaveToFile(writeConfig); err != nil {
			fatal(err)
		}
		fmt.Printf("wrote %s\n", writeConfig)
		return
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		fatal(err)
	}
	if err := utils.EnsureDir(cfg.Output.Dir); err != nil {
		log.WithError(err).Fatal("failed to create output directory")
	}

	frames, err := thatcherizer.NewFrameSource(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create frame source")
	}
	detector, closer, err := thatcherizer.NewDetector(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create feature detector")
	}
	if testVision {
		checkVision(log, detector, frames, closer)
		return
	}
	printSink := thatcherizer.NewSink(cfg, log)

	kiosk, err := thatcherizer.New(cfg, log, thatcherizer.Options{
		Frames:   frames,
		Detector: detector,
		Sink:     printSink,
		Closers:  []io.Closer{closer},
	})
	if err != nil {
		log.WithError(err).Fatal("failed to start kiosk")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := console.New(log)
	go rt.Listen(ctx, os.Stdin)

	log.WithFields(logrus.Fields{
		"output":   cfg.Output.Dir,
		"detector": cfg.Detector.Backend,
		"camera":   cfg.Camera.Enabled,
		"print":    cfg.Print.Enabled,
	}).Info("kiosk ready, type 'start' to begin")

	runErr := kiosk.Run(ctx, rt)

	if p, ok := printSink.(*sink.Printer); ok {
		p.Wait()
	}
	if runErr != nil {
		log.WithError(runErr).Error("kiosk stopped")
		os.Exit(1)
	}
	log.Info("kiosk stopped")
}

// checkVision confirms the configured vision model can see camera frames.
func checkVision(log logrus.FieldLogger, detector detection.Detector, frames session.FrameSource, closer io.Closer) {
	ctx, cancel := context.WithTimeout(context.Background(), visionCheckTimeout)
	reply, err := thatcherizer.CheckVision(ctx, detector, frames)
	cancel()
	frames.Close()
	closer.Close()

	if err != nil {
		log.WithError(err).Fatal("vision check failed")
	}
	log.WithField("reply", reply).Info("vision check passed")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	if def := config.GetConfigPath(); utils.FileExists(def) {
		return config.LoadFromFile(def)
	}
	return config.Default(), nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(os.Args[0]), err)
	os.Exit(1)
}
