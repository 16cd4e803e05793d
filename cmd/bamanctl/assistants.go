package main

import (
	"github.com/spf13/cobra"

	"github.com/brahmalabs/baman-engine/pkg/models"
)

var assistantsCmd = &cobra.Command{
	Use:     "assistants",
	Aliases: []string{"assistant", "a"},
	Short:   "List, show and create assistants",
}

var assistantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the caller's assistants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := engine.Registry.List(cmd.Context(), session)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, list)
	},
}

var assistantsGetCmd = &cobra.Command{
	Use:   "get ASSISTANT_ID",
	Short: "Show an assistant with both corpora",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := engine.Registry.Get(cmd.Context(), session, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, a)
	},
}

var createMeta models.AssistantMetadata

var assistantsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an assistant",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res := engine.Registry.Create(cmd.Context(), session, createMeta)
		if !res.IsOk() {
			return res.Err()
		}
		return render(cmd.OutOrStdout(), output, res.Value())
	},
}

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage the students allowed to use an assistant",
}

var studentsAddCmd = &cobra.Command{
	Use:   "add ASSISTANT_ID STUDENT_ID",
	Short: "Allow a student to use an assistant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderResult(cmd, engine.Registry.AddStudent(cmd.Context(), session, args[0], args[1]))
	},
}

var studentsRemoveCmd = &cobra.Command{
	Use:   "remove ASSISTANT_ID STUDENT_ID",
	Short: "Remove a student from an assistant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderResult(cmd, engine.Registry.RemoveStudent(cmd.Context(), session, args[0], args[1]))
	},
}

// renderResult prints the allowed students of a confirmed mutation.
func renderResult(cmd *cobra.Command, res models.Result[*models.Assistant]) error {
	if !res.IsOk() {
		return res.Err()
	}
	a := res.Value()
	return render(cmd.OutOrStdout(), output, map[string]any{
		"assistant_id":     a.ID,
		"allowed_students": a.AllowedStudents,
	})
}

func init() {
	assistantsCreateCmd.Flags().StringVar(&createMeta.Subject, "subject", "", "Subject taught by the assistant (required)")
	assistantsCreateCmd.Flags().StringVar(&createMeta.ClassName, "class", "", "Class or grade (required)")
	assistantsCreateCmd.Flags().StringVar(&createMeta.About, "about", "", "Short description")
	assistantsCreateCmd.Flags().StringVar(&createMeta.ProfileImage, "image", "", "Profile image URL")
	_ = assistantsCreateCmd.MarkFlagRequired("subject")
	_ = assistantsCreateCmd.MarkFlagRequired("class")

	assistantsCmd.AddCommand(assistantsListCmd, assistantsGetCmd, assistantsCreateCmd)
	studentsCmd.AddCommand(studentsAddCmd, studentsRemoveCmd)
}
