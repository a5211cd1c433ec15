// Command worklog-mcp runs the session lifecycle MCP server.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foldline/worklog-mcp/internal/config"
)

// version is overridden at build time via -ldflags.
var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "worklog-mcp",
	Short: "Session lifecycle and automatic context-switching MCP server",
	Long: `Worklog tracks work sessions for coding agents over MCP. It keeps a
single exclusively active session under a lease, links memories and
TODOs to it, watches project directories for activity, and switches
the active session automatically when work moves elsewhere.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "worklog-mcp v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/worklog/worklog.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("worklog")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WORKLOG")
	// WORKLOG_SWITCH_POLICY overrides switch.policy, and so on
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
