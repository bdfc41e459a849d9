// Package cli implements the photo-matcher command line.
package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "photo-matcher",
	Short: "Upload event photos and find the ones containing a selfie",
	Long: `photo-matcher stores a corpus of event photos in an object store and
matches attendee selfies against it with face-similarity scoring.

Configuration is read from defaults, an optional YAML file (--config or
PHOTO_MATCHER_CONFIG), a .env file and the environment, in that order.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogFlags)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default $PHOTO_MATCHER_CONFIG)")
}

func initLogFlags() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
