package cli

import (
	"github.com/spf13/cobra"

	"ndx-relay/internal/app"
)

var (
	announceChannelID string
	announceTitle     string
	announceText      string
)

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Post a test price notification embed to Discord",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Announce(cmd.Context(), app.AnnounceOptions{
			ChannelID: announceChannelID,
			Title:     announceTitle,
			Text:      announceText,
		})
	},
}

func init() {
	announceCmd.Flags().StringVar(&announceChannelID, "channel-id", "", "Target channel id")
	announceCmd.Flags().StringVar(&announceTitle, "title", "test", "Embed title")
	announceCmd.Flags().StringVar(&announceText, "text", "NDX - $17320.3938", "Embed description")
	_ = announceCmd.MarkFlagRequired("channel-id")
}
