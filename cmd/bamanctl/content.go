package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brahmalabs/baman-engine/pkg/models"
	"github.com/brahmalabs/baman-engine/pkg/services"
	"github.com/brahmalabs/baman-engine/pkg/storage"
)

var (
	assistantID string
	corpusName  string
	sourcesText string
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Digest source URLs into a corpus",
	Long: `Digest source URLs into a corpus. Sources are read from --sources and from
arguments; separate them with newlines or commas. Artifacts are committed in
the order the sources were given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := models.ParseCorpusTag(corpusName)
		if err != nil {
			return err
		}
		sources, err := services.ParseSources(strings.Join(append([]string{sourcesText}, args...), "\n"))
		if err != nil {
			return err
		}
		if err := engine.Registry.EnsureLoaded(cmd.Context(), session, assistantID); err != nil {
			return err
		}

		batch, err := engine.Digestion.DigestAll(cmd.Context(), session, assistantID, tag, sources)
		if err != nil {
			return err
		}
		return follow(cmd, batch)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload local files and digest them into a corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := models.ParseCorpusTag(corpusName)
		if err != nil {
			return err
		}
		if err := engine.Registry.EnsureLoaded(cmd.Context(), session, assistantID); err != nil {
			return err
		}

		files := make([]storage.File, 0, len(args))
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			files = append(files, storage.File{
				Name:        filepath.Base(path),
				ContentType: mime.TypeByExtension(filepath.Ext(path)),
				Size:        info.Size(),
				Body:        f,
			})
		}

		stderr := cmd.ErrOrStderr()
		reported := make([]string, len(files))
		result, err := engine.Uploads.UploadAndDigest(cmd.Context(), session, assistantID, tag, files, func(statuses []services.FileStatus) {
			for i, st := range statuses {
				state := uploadState(st)
				if state == "" || state == reported[i] {
					continue
				}
				reported[i] = state
				if st.Err != nil {
					fmt.Fprintf(stderr, "%s %s: %v\n", state, st.Name, st.Err)
					continue
				}
				fmt.Fprintf(stderr, "%s %s\n", state, st.Name)
			}
		})
		if err != nil {
			return err
		}
		return follow(cmd, result.Batch)
	},
}

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Inspect and delete content artifacts",
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the artifacts of a corpus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := models.ParseCorpusTag(corpusName)
		if err != nil {
			return err
		}
		if err := engine.Registry.EnsureLoaded(cmd.Context(), session, assistantID); err != nil {
			return err
		}
		artifacts, err := engine.Store.ListCorpus(services.ViewOf(session, assistantID), tag)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, artifacts)
	},
}

var contentDeleteCmd = &cobra.Command{
	Use:   "delete CONTENT_ID",
	Short: "Delete an artifact from a corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := models.ParseCorpusTag(corpusName)
		if err != nil {
			return err
		}
		if err := engine.Registry.EnsureLoaded(cmd.Context(), session, assistantID); err != nil {
			return err
		}
		if err := engine.Store.DeleteArtifact(cmd.Context(), session, assistantID, tag, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "deleted %s from %s corpus\n", args[0], tag)
		return nil
	},
}

func uploadState(st services.FileStatus) string {
	switch {
	case st.InFlight:
		return "uploading"
	case st.Err != nil:
		return "failed"
	case st.URL != "":
		return "uploaded"
	}
	return ""
}

// follow prints artifacts as they are committed and then the final
// progress. Interrupting cancels the remaining sources.
func follow(cmd *cobra.Command, batch *services.Batch) error {
	stderr := cmd.ErrOrStderr()
	for {
		select {
		case artifact, ok := <-batch.Artifacts():
			if !ok {
				progress := batch.Progress()
				if err := render(cmd.OutOrStdout(), output, progress); err != nil {
					return err
				}
				if len(progress.Errors) > 0 {
					return fmt.Errorf("%d of %d sources failed", len(progress.Errors), progress.Total)
				}
				return nil
			}
			p := batch.Progress()
			fmt.Fprintf(stderr, "[%d/%d] %s\n", p.Digested, p.Total, artifact.Title)
		case <-cmd.Context().Done():
			batch.Cancel()
			_ = batch.Wait(context.Background())
			q := batch.Progress().Queue
			fmt.Fprintf(stderr, "cancelled: %d of %d sources finished\n", q.Finished()-q.Cancelled, q.Total)
			return cmd.Context().Err()
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{digestCmd, uploadCmd, contentListCmd, contentDeleteCmd} {
		c.Flags().StringVarP(&assistantID, "assistant", "a", "", "Assistant ID (required)")
		c.Flags().StringVarP(&corpusName, "corpus", "c", "own", "Corpus: own or supporting")
		_ = c.MarkFlagRequired("assistant")
	}
	digestCmd.Flags().StringVar(&sourcesText, "sources", "", "Source URLs separated by newlines or commas")

	contentCmd.AddCommand(contentListCmd, contentDeleteCmd)
}
