package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ndx-relay/internal/app"
)

var (
	simulateText    string
	simulateChannel string
	simulateAuthor  string
	simulateEmbed   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Push one synthetic message through the relay pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateText == "" {
			return errors.New("--text must be provided")
		}

		outcome, err := getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Channel: simulateChannel,
			Author:  simulateAuthor,
			Text:    simulateText,
			Embed:   simulateEmbed,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "outcome: %s\n", outcome)
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateText, "text", "", "Message body, e.g. \"NDX - $17320.3938\"")
	simulateCmd.Flags().StringVar(&simulateChannel, "channel", "", "Channel name (defaults to discord.channel)")
	simulateCmd.Flags().StringVar(&simulateAuthor, "author", "", "Author identity (defaults to discord.bot)")
	simulateCmd.Flags().BoolVar(&simulateEmbed, "embed", false, "Deliver the text as an embed description")
}
