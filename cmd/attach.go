package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var attachSession string

var attachCmd = &cobra.Command{
	Use:   "attach [file]",
	Short: "Index a file as a session attachment",
	Long: `Index a file into the session-scoped store. Attachments are visible
only to searches within the same session and expire after the configured
retention window.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired session attachments",
	RunE:  runSweep,
}

func init() {
	attachCmd.Flags().StringVar(&attachSession, "session", "", "session id (required)")
	_ = attachCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(attachCmd, sweepCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fileName := filepath.Base(args[0])
	id, err := a.Sessions.CreateAttachment(cmd.Context(), attachSession, fileName, nil)
	if err != nil {
		return err
	}

	if err := a.Pipeline.IngestAttachment(cmd.Context(), id, content, fileName); err != nil {
		return err
	}

	att, err := a.Sessions.GetAttachment(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "attached %s to session %s (%s, %s)\n",
		att.FileName, att.SessionID, att.ID, att.Status)
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	count, err := a.Sessions.SweepExpiredAttachments(cmd.Context(), a.Config.AttachmentRetention())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired attachments\n", count)
	return nil
}
