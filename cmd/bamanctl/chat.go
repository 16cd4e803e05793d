package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	chatAssistant    string
	chatConversation string
	chatNew          bool
)

var chatCmd = &cobra.Command{
	Use:   "chat MESSAGE...",
	Short: "Send a message to an assistant",
	Long: `Send a message to an assistant. Without --conversation or --new the
bookmarked conversation is resumed, if there is one.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatNew && chatConversation != "" {
			return fmt.Errorf("--new and --conversation are mutually exclusive")
		}

		cs, err := engine.Conversations.Session(cmd.Context(), session, chatAssistant)
		if err != nil {
			return err
		}

		resumeID := chatConversation
		if resumeID == "" && !chatNew {
			resumeID = cs.Snapshot().KnownConversationID
		}
		if chatNew {
			cs.StartNew(cmd.Context())
		}
		if resumeID != "" {
			if _, err := cs.Resume(cmd.Context(), session, resumeID); err != nil {
				return err
			}
		}

		turn, err := cs.Send(cmd.Context(), session, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, turn)
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List previous conversations with an assistant",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := engine.Conversations.ListConversations(cmd.Context(), session, chatAssistant)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, list)
	},
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, conversationsCmd} {
		c.Flags().StringVarP(&chatAssistant, "assistant", "a", "", "Assistant ID (required)")
		_ = c.MarkFlagRequired("assistant")
	}
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "Conversation ID to continue")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Start a new conversation")

	chatCmd.AddCommand(conversationsCmd)
}
