/*
Copyright © 2024 thin-edge.io <info@thin-edge.io>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thin-edge/tedge-c8y-mapper/pkg/cli"
)

// Build data
var buildVersion string
var buildBranch string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tedge-c8y-mapper",
	Short: "Map thin-edge.io devices onto Cumulocity IoT",
	Long: `tedge-c8y-mapper bridges thin-edge.io's local MQTT edge bus with
the Cumulocity cloud, translating device state and commands between the
edge bus topic tree and the SmartREST protocol.`,
	Version: fmt.Sprintf("%s (branch=%s)", buildVersion, buildBranch),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return SetLogLevel()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		switch err.(type) {
		case cli.SilentError:
			// Don't log error
		default:
			slog.Error("Command error", "err", err)
		}
		os.Exit(1)
	}
}

func SetLogLevel() error {
	value := strings.ToLower(viper.GetString("log_level"))
	slog.Debug("Setting log level.", "new", value)
	switch value {
	case "info":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	}
	return nil
}

func init() {
	cliConfig := cli.Cli{}
	cobra.OnInitialize(cliConfig.OnInit)
	rootCmd.AddCommand(
		NewRunCommand(&cliConfig),
	)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().StringVarP(&cliConfig.ConfigFile, "config", "c", "", "Configuration file")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}
