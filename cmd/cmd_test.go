package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"ask", "ingest", "repo", "documents", "attach", "sweep", "migrate", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q is not registered", name)
		}
	}
}

func TestDocumentsSubcommands(t *testing.T) {
	for _, name := range []string{"list", "delete", "stale", "touch"} {
		cmd, _, err := rootCmd.Find([]string{"documents", name})
		if err != nil || cmd == documentsCmd {
			t.Errorf("documents %q is not registered", name)
		}
	}
}

func TestVersionOutput(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out.String(), "corpusgate") {
		t.Errorf("version output = %q", out.String())
	}
}
