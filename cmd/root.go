// Package cmd wires the admb command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/observability"
)

// Version is stamped at build time.
var Version = "dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "admb",
	Short:   "Archives ad landers through region-matched mobile browser profiles.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Initialize configuration loading (Viper)
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// 2. Unmarshal the configuration
		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		// 3. Validate the configuration
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// 4. Store the configuration globally
		config.Set(&cfg)

		// 5. Initialize the logger
		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting admb", zap.String("version", Version))

		return nil
	},
}

// Execute adds all child commands to the root command and runs it. It
// accepts a context passed from main.go for graceful shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			// Cancellation during shutdown is expected, not a failure.
			if ctx.Err() == nil {
				logger.Error("Command execution failed", zap.Error(err))
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCaptureCmd())
	rootCmd.AddCommand(newReportCmd())
}

// initializeConfig reads in the config file and environment variables.
func initializeConfig() error {
	// Set default values so the app can run with a minimal config.
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ADMB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Secrets stay out of the config file.
	_ = viper.BindEnv("postgres.url", "ADMB_POSTGRES_URL")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and environment cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
