package command

// root.go wires the global flags shared by serve and call.

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wspreset/config"
	"wspreset/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "wspreset",
	Short: "wspreset - typed request/response presets over WebSocket",
	Long: `wspreset runs a preset server or calls presets on one.

Settings come from a TOML file (--config), a .env file in the working
directory and WSPRESET_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file")
	rootCmd.AddCommand(serveCmd, callCmd)
}

func loadConfig(app string) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	logger := logging.New(logging.Config{App: app, Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
	return cfg, logger, nil
}
