// Package cmd provides the Cobra commands for the assetcache binary.
package cmd

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/assetcache/cli/output"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	outputFmt string
	noHeaders bool
	debug     bool
	jsonLogs  bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "assetcache",
	Short: "assetcache - build static assets on first request",
	Long: `assetcache serves a web root and builds script, style and template
bundles the first time they are requested.

Get started:
  assetcache validate assets.yaml   Check a bundle configuration document
  assetcache serve                  Start the HTTP server
  assetcache --help                 Show available commands`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger(cmd.ErrOrStderr())
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"service config file (default is ./assetcache.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false,
		"write logs as JSON instead of console text")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}

func initLogger(w io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if jsonLogs {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	}
	setLogLevel(debug)
}

func setLogLevel(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func newFormatter(cmd *cobra.Command) (*output.Formatter, error) {
	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return nil, err
	}
	f := output.NewFormatter(format, noHeaders)
	f.Writer = cmd.OutOrStdout()
	f.ErrWriter = cmd.ErrOrStderr()
	return f, nil
}
