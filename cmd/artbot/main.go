package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/timzifer/artbot/internal/envload"
	_ "github.com/timzifer/artbot/remote"
)

var rootCmd = &cobra.Command{
	Use:   "artbot",
	Short: "Paint pixel art in bio-pigment with a liquid-handling robot",
	Long: `artbot loads an artwork configuration, lays out tip racks, the reagent palette
and the canvases on the deck and doses every pixel with the configured pipette.`,
	SilenceUsage: true,
}

var (
	rootConfig   string
	rootLogLevel string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	_ = envload.Ensure()

	rootCmd.PersistentFlags().StringVarP(&rootConfig, "config", "c", envload.Lookup(envload.ConfigVar, "artbot.yaml"), "configuration file or directory (ARTBOT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", envload.Lookup(envload.LogLevelVar, ""), "override logging.level (ARTBOT_LOG_LEVEL)")
	rootCmd.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newCheckCmd(),
		newHistoryCmd(),
		newDiagCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("artbot command failed")
	}
}
