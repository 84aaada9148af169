package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpusgate/corpusgate/internal/agent"
	"github.com/corpusgate/corpusgate/internal/knowledge"
)

var (
	askTags    []string
	askSession string
	askTopK    int
	askDocs    []string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringSliceVar(&askTags, "tags", []string{knowledge.PublicTag},
		"permission tags of the caller")
	askCmd.Flags().StringVar(&askSession, "session", "",
		"session id; enables chat history and attachment search")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "result count (0 uses the configured default)")
	askCmd.Flags().StringSliceVar(&askDocs, "doc", nil,
		"restrict retrieval to these doc ids (trailing / matches a prefix)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st := agent.NewState(strings.Join(args, " "), askTags)
	st.SessionID = askSession
	st.TopK = askTopK
	st.DocIDsFilter = askDocs

	err = a.Engine.Answer(cmd.Context(), st, func(chunk string) error {
		_, werr := fmt.Fprint(cmd.OutOrStdout(), chunk)
		return werr
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
