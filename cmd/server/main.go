package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "confrelay",
	Short: "Multi-party video/audio conference relay",
	Long: `confrelay accepts participant connections over TCP, WebSocket and UDP,
groups them into conferences and forwards every participant's media frames to
the other members of its conference.`,
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(serveCmd, conferencesCmd)
	// bare invocation serves
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("confrelay")
		os.Exit(1)
	}
}
