package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "remotedesk",
	Short: "Remote desktop session control plane",
	Long: `remotedesk coordinates remote desktop sessions between hosts and viewers.

Run the server:
  remotedesk serve --config remotedesk.yaml

Issue a capability token:
  remotedesk token --scope session.create --subject alice`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); REMOTEDESK_* env vars override it")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "attach the in-process stub capture provider")
}
