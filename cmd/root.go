package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/output"
	"github.com/joescharf/council/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "Council - multi-model document review on local inference",
	Long: `council runs a panel of reviewer models over a markdown document.
Each reviewer critiques the text from its own angle, an editor model merges
the feedback into a prioritized plan, and you accept or reject each finding.
Reviewers run one model at a time so a single GPU is never oversubscribed.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/council/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "council")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("COUNCIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "council"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "council.db"))
	viper.SetDefault("inference.provider", providerOllama)
	viper.SetDefault("ollama.url", "http://localhost:11434")
	viper.SetDefault("ollama.timeout", "5m")
	viper.SetDefault("ollama.list_timeout", "5s")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("generation.temperature", 0.7)
	viper.SetDefault("generation.top_p", 0.9)
	viper.SetDefault("generation.top_k", 40)
	viper.SetDefault("generation.num_predict", 2048)
	viper.SetDefault("review.mode", "sequential")
	viper.SetDefault("review.parallelism", 2)
	viper.SetDefault("review.settle_delay", "1500ms")
	viper.SetDefault("review.synthesis_max_chars", 8000)
	viper.SetDefault("residency.lock_file", filepath.Join(stateDir, "residency.lock"))
	viper.SetDefault("port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// The store is opened lazily so config/version commands run without a db.
}

// getStore returns the shared store, initializing it on first call.
// A fresh database is seeded with the default reviewer panel.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	n, err := s.SeedReviewers(ctx, models.DefaultReviewers())
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("seed reviewers: %w", err)
	}
	if n > 0 {
		slog.Debug("seeded default reviewers", "count", n)
	}

	dataStore = s
	return dataStore, nil
}
