package cmd

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "colloquy",
	Short: "Turn-based conversational streaming backend",
	Long: `Colloquy is a backend for turn-based conversational exchanges. Callers
submit prompts into named conversations; replies are generated by a
language-generation backend and streamed back incrementally while being
persisted exactly once.`,
	PersistentPreRun: loadRootConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func loadRootConfig(_ *cobra.Command, _ []string) {
	// Load .env file
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}
}
