package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "studiosync",
	Short: "Bridge AI-generated Roblox work from chat to Studio",
	Long: `studiosync runs the generation-to-delivery service: it streams model
responses to chat clients, extracts embedded work blocks, and queues them for
the Roblox Studio plugin to pick up on its own schedule.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the studiosync version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("studiosync version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(chatsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
