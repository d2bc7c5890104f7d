// Package cmd contains the command-line entry points for officebrain:
// the interactive chat loop, index building, and user registration.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/officebrain/officebrain/internal/config"
	"github.com/officebrain/officebrain/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point. It parses the leading subcommand, sets up
// logging and configuration, and dispatches. Designed to be called from
// main() with the exit code decided by the returned error.
func Execute() error {
	// Version and help work even when configuration is broken.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			return printVersionInfo()
		case "help", "--help", "-h":
			printHelp()
			return nil
		}
	}

	logger := initLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "register":
			return executeRegister(context.Background(), cfg, logger, os.Args[2:])
		case "index":
			return executeIndex(context.Background(), cfg, logger)
		case "chat":
			return executeChat(context.Background(), cfg, logger, os.Args[2:])
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	// Interactive chat is the default.
	return executeChat(context.Background(), cfg, logger, nil)
}

// initLogger builds the process logger. DEBUG in the environment (any value)
// enables debug-level logging. Output goes to stderr so the chat transcript
// on stdout stays clean.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

// checkRequiredEnv verifies the Gemini API key is present, with setup
// instructions when it is not.
func checkRequiredEnv(cfg *config.Config) error {
	if err := cfg.CheckAPIKey(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "officebrain requires a Gemini API key to function.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "To set your API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get your API key at: https://ai.google.dev/")
		return err
	}
	return nil
}

func printVersionInfo() error {
	fmt.Printf("officebrain v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
	return nil
}

func printHelp() {
	fmt.Println(`officebrain - retrieval-grounded office assistant

Usage:
  officebrain [chat]           Start an interactive chat (default)
  officebrain chat -user NAME  Chat as a registered user
  officebrain index            Build or rebuild the knowledge index
  officebrain register         Register a new user account
  officebrain version          Show version information
  officebrain help             Show this help

Environment:
  GEMINI_API_KEY  Gemini API key (required for chat and index)
  DEBUG           Enable debug logging when set`)
}
