package cmd

import (
	"github.com/spf13/cobra"

	"github.com/corpusgate/corpusgate/internal/knowledge"
)

var (
	repoTags  []string
	repoOwner int64
)

var repoCmd = &cobra.Command{
	Use:   "repo [url]",
	Short: "Clone and index a git repository",
	Long: `Shallow-clone a repository and index its text files, each under
github-repo-<name>/<path>. Hidden directories and binary files are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runRepo,
}

func init() {
	repoCmd.Flags().StringSliceVar(&repoTags, "tags", []string{knowledge.PublicTag},
		"permission tags granting read access")
	repoCmd.Flags().Int64Var(&repoOwner, "owner", 0, "owner user id (0 means none)")
	rootCmd.AddCommand(repoCmd)
}

func runRepo(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var owner *int64
	if repoOwner != 0 {
		owner = &repoOwner
	}

	result, err := a.Pipeline.IngestRepoWithRetry(cmd.Context(), args[0], repoTags, owner)
	if err != nil {
		return err
	}
	printResult(cmd, result)
	return nil
}
