package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/echoface/internal/bridge"
	"github.com/andresmejia3/echoface/internal/clock"
	"github.com/andresmejia3/echoface/internal/config"
	"github.com/andresmejia3/echoface/internal/display"
	"github.com/andresmejia3/echoface/internal/metrics"
	"github.com/andresmejia3/echoface/internal/pipeline"
	"github.com/andresmejia3/echoface/internal/source"
	"github.com/andresmejia3/echoface/internal/telemetry"
	"github.com/andresmejia3/echoface/internal/types"
	"github.com/andresmejia3/echoface/internal/utils"
	"github.com/andresmejia3/echoface/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// fpsFlag is --fps: the camera request, or a playback override for files.
var fpsFlag float64

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Capture faces and stream blendshape telemetry over UDP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyStreamFlags(cfg, cmd.Flags().Changed("camera"), fpsFlag); err != nil {
			utils.Die("Invalid arguments", err, nil)
		}
		return runStream(cmd, cfg)
	},
}

func init() {
	f := streamCmd.Flags()
	f.StringVar(&cfg.TargetHost, "host", cfg.TargetHost, "Telemetry receiver host")
	f.IntVarP(&cfg.TargetPort, "port", "p", cfg.TargetPort, "Telemetry receiver UDP port")
	f.IntVarP(&cfg.CameraIndex, "camera", "c", cfg.CameraIndex, "Camera device index")
	f.StringVarP(&cfg.FilePath, "file", "i", cfg.FilePath, "Play a video file instead of a camera")
	f.Float64Var(&fpsFlag, "fps", 0, "Camera frame rate request, or playback rate override for --file")
	f.IntVar(&cfg.Width, "width", cfg.Width, "Frame width")
	f.IntVar(&cfg.Height, "height", cfg.Height, "Frame height")
	f.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run without the preview window")
	f.StringVar(&cfg.EngineCommand, "engine", cfg.EngineCommand, "Python interpreter for the face worker")
	f.StringVar(&cfg.EngineScript, "engine-script", cfg.EngineScript, "Path to the face worker script")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(streamCmd)
}

// applyStreamFlags folds flag-only settings into c and validates it.
func applyStreamFlags(c *config.Config, cameraSet bool, fps float64) error {
	if cameraSet && c.FilePath != "" {
		return errors.New("--camera and --file are mutually exclusive")
	}
	if fps < 0 {
		return fmt.Errorf("--fps must be >= 0, got %v", fps)
	}
	if fps > 0 {
		if c.FilePath != "" {
			c.PlaybackFPS = fps
		} else {
			c.CameraFPS = fps
		}
	}
	return c.Validate()
}

func engineConfig(c *config.Config) worker.Config {
	ec := worker.DefaultConfig()
	ec.Command = c.EngineCommand
	ec.Args = []string{"-u", c.EngineScript}
	ec.StartTimeout = c.EngineStartTimeout
	return ec
}

// runStream wires source, analysis, link and viewer, then runs the loop until
// the stream ends or the user quits.
func runStream(cmd *cobra.Command, c *config.Config) error {
	ctx := cmd.Context()
	session := uuid.New().String()
	logger := log.WithField("session", session[:8])

	if c.MetricsAddr != "" {
		metrics.Serve(ctx, c.MetricsAddr, logger)
	}

	// 1. Frame source
	opts := source.Options{Width: c.Width, Height: c.Height, FPS: c.CameraFPS}
	var src source.FrameSource
	var file *source.File
	if c.FilePath != "" {
		file = source.NewFile(c.FilePath, opts, logger)
		src = file
	} else {
		src = source.NewCamera(c.CameraIndex, opts, logger)
	}
	if err := src.Start(); err != nil {
		utils.Die("Failed to open frame source", err, nil)
	}

	// 2. Playback pacing, files only. Cameras deliver at their own rate.
	var pacer pipeline.Pacer
	if file != nil {
		fps := file.NominalFPS()
		if c.PlaybackFPS > 0 {
			fps = c.PlaybackFPS
		}
		pacer = clock.New(fps)
	}

	// 3. Analysis
	engine := worker.NewPythonEngine(engineConfig(c), logger)
	analysis := bridge.New(engine, logger)
	if err := analysis.Start(); err != nil {
		// Keep capturing so the preview still works; nothing will be sent.
		utils.ShowError("Face analysis unavailable, continuing without telemetry", err, nil)
	}

	// 4. Telemetry
	link, err := telemetry.Open(c.TargetAddress(), logger)
	if err != nil {
		src.Release()
		analysis.Stop()
		utils.Die("Failed to open telemetry link", err, nil)
	}

	// 5. Viewer
	var viewer pipeline.Viewer
	if !c.Headless {
		viewer = display.NewWindow("EchoFace")
	}

	ctrl := pipeline.New(pipeline.Components{
		Source:   src,
		Analyzer: analysis,
		Sender:   link,
		Clock:    pacer,
		Viewer:   viewer,
	}, logger)
	ctrl.IdleInterval = c.IdleInterval

	var bar *progressbar.ProgressBar
	if c.Headless && file != nil {
		total := file.TotalFrames()
		if total <= 0 {
			// Fallback to a spinner or unknown total if ffprobe fails
			total = -1
		}
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("📡 EchoFace Streaming"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
		ctrl.OnTick = func(types.Frame) { bar.Add(1) }
	}

	w, h := src.Resolution()
	logger.WithFields(logrus.Fields{
		"target":     link.Target(),
		"resolution": fmt.Sprintf("%dx%d", w, h),
		"fps":        src.NominalFPS(),
		"headless":   c.Headless,
	}).Info("Streaming started")

	runErr := ctrl.Run(ctx)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	logger.WithFields(logrus.Fields{
		"analysis_dropped": engine.Dropped(),
		"degraded":         analysis.Degraded(),
	}).Info("Streaming stopped")

	// Resource errors during shutdown are reported but do not fail a run
	// that otherwise ended normally.
	if runErr != nil {
		logger.WithError(runErr).Error("Shutdown finished with errors")
	}
	return nil
}
