package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corpusgate/corpusgate/internal/ingest"
	"github.com/corpusgate/corpusgate/internal/knowledge"
)

var (
	ingestTags  []string
	ingestOwner int64
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Index a file or zip archive",
	Long: `Index a file into the permanent store. Zip archives are unpacked and
each member becomes its own document under the archive's prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringSliceVar(&ingestTags, "tags", []string{knowledge.PublicTag},
		"permission tags granting read access")
	ingestCmd.Flags().Int64Var(&ingestOwner, "owner", 0, "owner user id (0 means none)")
	rootCmd.AddCommand(ingestCmd)
}

func ownerID() *int64 {
	if ingestOwner == 0 {
		return nil
	}
	return &ingestOwner
}

func printResult(cmd *cobra.Command, r ingest.Result) {
	if r.Status == ingest.StatusWarning {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", r.Message)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.Message)
}

func runIngest(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Pipeline.IngestFileWithRetry(cmd.Context(),
		content, filepath.Base(args[0]), ingestTags, ownerID())
	if err != nil {
		return err
	}
	printResult(cmd, result)
	return nil
}
