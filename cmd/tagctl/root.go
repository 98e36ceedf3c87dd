package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
	timeout    time.Duration
	version    = "dev"
)

// rootCmd is the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tagctl",
	Short: "Operate a stream-tagger server from the command line",
	Long: `tagctl talks to a running stream-tagger over its HTTP API.

Examples:
  tagctl resolve streamer                 # which stream would a tag land on
  tagctl dump --community c1 --channel general streamer own yt
  tagctl delete-last --channel general
  tagctl adjust --community c1 --author u1 -- -30
  tagctl settings set --community c1 --offset -25 --format alternative`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	def := os.Getenv("TAGGER_URL")
	if def == "" {
		def = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "base URL of the tagger API (env TAGGER_URL)")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("ADMIN_TOKEN"), "admin bearer token (env ADMIN_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func newClient() *client {
	return &client{baseURL: serverURL, token: adminToken, timeout: timeout}
}
