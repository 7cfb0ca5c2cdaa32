package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/debug"
	"github.com/steveyegge/repoagents/internal/telemetry"
)

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	agentsDir   string

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	endStage = func(error) {}

	logger = slog.Default()
)

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().StringVar(&agentsDir, "agents-dir", "", "Agent definitions directory (default: config agents.dir)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "author", Title: "Authoring Agents:"})
	rootCmd.AddGroup(&cobra.Group{ID: "pipeline", Title: "Pipeline Stages:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

var rootCmd = &cobra.Command{
	Use:   "ra",
	Short: "ra - Repository agents compiled to CI workflows",
	Long: `Declare repository agents as markdown files with front-matter and compile
them into a single gated CI pipeline that routes events, admits agents,
runs them and applies their proposed outputs.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("ra version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyVerbosityFlags()
		setupLogger()
		if agentsDir == "" {
			agentsDir = config.GetString(config.KeyAgentsDir)
		}
		run := telemetry.RunFromEnv(os.Getenv, cmd.Name(), stageAgent(os.Getenv))
		if err := telemetry.Init(rootCtx, telemetry.Options{ServiceName: "ra", Version: Version, Run: run}); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
		rootCtx, endStage = telemetry.StartStage(rootCtx)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		endStage(nil)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package.
func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

func setupLogger() {
	logger = debug.NewLogger(os.Stderr, config.GetString(config.KeyLogLevel), config.GetString(config.KeyLogFormat))
	slog.SetDefault(logger)
}

// stageAgent returns the agent name of the matrix entry this stage runs
// for, or "" for stages that run once per event.
func stageAgent(getenv func(string) string) string {
	var entry struct {
		Name string `json:"name"`
	}
	if raw := getenv(envMatrixEntry); raw != "" {
		_ = json.Unmarshal([]byte(raw), &entry)
	}
	return entry.Name
}

func getRootContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
