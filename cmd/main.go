package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	cfgFile     string
	sttProvider string
	storage     string
	micInput    string
	systemAudio string
	exportOut   string
)

var rootCmd = &cobra.Command{
	Use:   "livecaption",
	Short: "Live captions for meetings",
	Long: `livecaption captures the microphone and system audio, streams the mix to a
speech-to-text backend and shows captions live, in the terminal or to
browser viewers over WebSocket.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and caption WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record and caption in the terminal until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write a stored session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(args[0], exportOut)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("livecaption v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./livecaption.yaml or $HOME/.livecaption/livecaption.yaml)")
	rootCmd.PersistentFlags().StringVar(&sttProvider, "stt-provider", "", "speech-to-text provider: deepgram, local, google or mock")
	rootCmd.PersistentFlags().StringVar(&storage, "storage", "", "session storage: memory, sqlite or mongo")
	rootCmd.PersistentFlags().StringVar(&micInput, "mic", "", "microphone name filter, \"default\" or \"none\"")
	rootCmd.PersistentFlags().StringVar(&systemAudio, "system-audio", "", "screen_capture, virtual_audio, a device name filter or \"none\"")

	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "file to write instead of stdout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
