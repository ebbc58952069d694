package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andresmejia3/echoface/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// cfg is loaded from the environment before flags are registered, so
	// flag defaults reflect .env and ECHOFACE_* values.
	cfg = loadConfig()
	// log is the process logger, configured in PersistentPreRunE.
	log = logrus.New()

	// envFileFlag is --env-file as cobra parsed it; loadedEnvFile is the path
	// loadConfig read before flags existed. checkEnvFile keeps them in step.
	envFileFlag   string
	loadedEnvFile string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "echoface",
	Short:   "Face capture to UDP blendshape telemetry",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := checkEnvFile(envFileFlag, cmd.Flags().Changed("env-file"), loadedEnvFile); err != nil {
			return err
		}
		return setupLogger(cfg.LogLevel, cfg.LogFormat)
	},
	SilenceUsage: true,
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log format must be text or json, got %q", format)
	}
	return nil
}

// envFileFromArgs finds --env-file before cobra parses flags, because the
// file has to be loaded before flag defaults are computed.
func envFileFromArgs(args []string) string {
	for i, a := range args {
		if a == "--env-file" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "--env-file="); ok {
			return v
		}
	}
	return ""
}

func loadConfig() *config.Config {
	loadedEnvFile = envFileFromArgs(os.Args[1:])
	if loadedEnvFile == "" {
		loadedEnvFile = ".env"
	}
	if err := config.LoadEnvFile(loadedEnvFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return config.Load()
}

// checkEnvFile fails when --env-file was given in a form the early scan did
// not see, which would leave settings loaded from the wrong file.
func checkEnvFile(flagValue string, changed bool, loaded string) error {
	if !changed || flagValue == loaded {
		return nil
	}
	return fmt.Errorf("--env-file %q was not loaded (settings came from %q); pass it as --env-file <path> or --env-file=<path>", flagValue, loaded)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Load settings from this .env file")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text or json)")
}
