// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the paperfetch CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/paperfetch/internal/logging"
	"github.com/pdiddy/paperfetch/internal/secrets"
	"github.com/pdiddy/paperfetch/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Loaded once per invocation by the root command's pre-run hook.
var (
	cfg    types.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "paperfetch",
	Short: "Resolve and download academic papers through a crash-safe queue",
	Long: `paperfetch turns paper identifiers (URLs, DOIs, arXiv IDs, free-text
references and BibTeX entries) into downloaded files.

Inputs are classified and stored in a SQLite queue. A pool of workers
resolves each item through a chain of resolvers, downloads it with resume
support, and records the outcome. Interrupted runs pick up where they
stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}

		logger = logging.New(logging.Options{Level: c.Log.Level, Format: c.Log.Format})

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, logger)
		if err != nil {
			return err
		}
		s.ApplyTo(&c)
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug().Strs("keys", keys).Msg("loaded secrets")
		}

		cfg = c
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./paperfetch.yaml or ~/.config/paperfetch/paperfetch.yaml)")
	pf.String("secrets-dir", secrets.DefaultDir, "directory of secret files (contact-email)")
	pf.String("out-dir", "", "directory for downloaded files")
	pf.String("db", "", "queue database path")
	pf.Int("workers", 0, "concurrent downloads")
	pf.String("log-level", "", "log level: trace, debug, info, warn, error")

	bindFlag("engine.out_dir", "out-dir")
	bindFlag("queue.db_path", "db")
	bindFlag("engine.workers", "workers")
	bindFlag("log.level", "log-level")
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() {
	setDefaults(types.DefaultConfig())

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("paperfetch")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "paperfetch"))
		}
	}

	viper.SetEnvPrefix("PAPERFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every key so environment variables and flags can
// override keys absent from the config file.
func setDefaults(d types.Config) {
	defaults := map[string]any{
		"log.level":                      d.Log.Level,
		"log.format":                     d.Log.Format,
		"http.timeout":                   d.HTTP.Timeout,
		"http.user_agent":                d.HTTP.UserAgent,
		"http.browser_user_agent":        d.HTTP.BrowserUserAgent,
		"http.mailto":                    d.HTTP.Mailto,
		"queue.db_path":                  d.Queue.DBPath,
		"queue.max_retries":              d.Queue.MaxRetries,
		"queue.backoff_base":             d.Queue.BackoffBase,
		"queue.backoff_max":              d.Queue.BackoffMax,
		"engine.out_dir":                 d.Engine.OutDir,
		"engine.workers":                 d.Engine.Workers,
		"engine.grace_period":            d.Engine.GracePeriod,
		"engine.poll_interval":           d.Engine.PollInterval,
		"engine.progress_interval":       d.Engine.ProgressInterval,
		"engine.progress_interval_bytes": d.Engine.ProgressIntervalBytes,
		"engine.write_metadata":          d.Engine.WriteMetadata,
		"resolve.max_redirects":          d.Resolve.MaxRedirects,
		"resolve.reference_min_score":    d.Resolve.ReferenceMinScore,
		"auth.login_path_patterns":       d.Auth.LoginPathPatterns,
		"auth.binary_extensions":         d.Auth.BinaryExtensions,
	}
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
}

// loadConfig unmarshals and validates the merged configuration.
func loadConfig() (types.Config, error) {
	var c types.Config
	if err := viper.Unmarshal(&c); err != nil {
		return types.Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return types.Config{}, err
	}
	return c, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
