// Package cmd implements the krenk command line.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/krenk/internal/config"
)

// Version information, set at build time via -ldflags
// "-X github.com/Iron-Ham/krenk/internal/cmd.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "krenk",
	Short: "Multi-stage agent workflow orchestrator",
	Long: `krenk drives a fixed pipeline of specialised agent workers (analyst,
strategist, designer, architect, builder, qa, tester, reviewer, security,
documenter, devops) over a single project, reviewing every worker's output,
supervising its process, and checkpointing after every stage so an
interrupted run can be resumed.`,
	SilenceUsage: true,
}

func versionString() string {
	if Commit == "unknown" {
		return Version
	}
	return Version + " (" + Commit + ")"
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("krenk {{.Version}}\n")

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/krenk/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Defaults first so they apply without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("KRENK")
	// KRENK_ENGINE_MAX_PARALLEL for engine.max_parallel
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
