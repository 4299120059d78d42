package main

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chime",
	Short: "Chime - persona agents for group chats",
	Long: `Chime runs LLM-backed persona agents in Telegram group chats.
Each agent decides probabilistically when to join the conversation,
schedules deferred messages and survives restarts without losing them.`,
	Version: Version,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}
