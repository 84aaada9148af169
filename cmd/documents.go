package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corpusgate/corpusgate/internal/knowledge"
)

var (
	docsTags       []string
	docsStaleHours int
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Inspect and manage indexed documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents visible to a tag set",
	RunE:  runDocumentsList,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete [id-or-prefix]",
	Short: "Delete a document, zip, or repository",
	Long: `Delete by doc id or by trailing-/ prefix (covers all members of a zip
or repository). Bare names are treated as file uploads. Only documents
whose permission tags intersect --tags are removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDocumentsDelete,
}

var documentsStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List documents not verified recently",
	RunE:  runDocumentsStale,
}

var documentsTouchCmd = &cobra.Command{
	Use:   "touch [doc-id]",
	Short: "Mark a document as verified",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsTouch,
}

func init() {
	documentsCmd.PersistentFlags().StringSliceVar(&docsTags, "tags",
		[]string{knowledge.PublicTag}, "permission tags of the caller")
	documentsStaleCmd.Flags().IntVar(&docsStaleHours, "older-than", 720,
		"staleness cutoff in hours")
	documentsCmd.AddCommand(documentsListCmd, documentsDeleteCmd, documentsStaleCmd, documentsTouchCmd)
	rootCmd.AddCommand(documentsCmd)
}

func runDocumentsList(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Knowledge.ListAccessible(cmd.Context(), docsTags)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no documents visible to", docsTags)
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(cmd.OutOrStdout(), "%-60s %-16s %s\n",
			d.FilterKey, d.SourceType, d.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runDocumentsDelete(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	target := knowledge.NormalizePrefix(args[0])
	count, err := a.Knowledge.Delete(cmd.Context(), target, docsTags)
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "nothing matched %s (or not visible to %v)\n", target, docsTags)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%d chunks)\n", target, count)
	return nil
}

func runDocumentsTouch(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	docID := knowledge.NormalizePrefix(args[0])
	if err := a.Knowledge.Touch(cmd.Context(), docID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "verified %s\n", docID)
	return nil
}

func runDocumentsStale(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.Knowledge.ListStale(cmd.Context(), time.Duration(docsStaleHours)*time.Hour)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no stale documents")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
