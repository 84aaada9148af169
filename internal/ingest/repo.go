package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// cloneTimeout bounds the git clone subprocess.
const cloneTimeout = 5 * time.Minute

// cloneRepo shallow-clones repoURL into a temporary directory and returns
// its path with a cleanup function.
func cloneRepo(ctx context.Context, repoURL string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "corpusgate-clone-")
	if err != nil {
		return "", nil, fmt.Errorf("creating clone directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "1", repoURL, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("cloning %s: %w: %s", repoURL, err, out)
	}
	return dir, cleanup, nil
}

// repoFile is one indexable file of a cloned repository.
type repoFile struct {
	RelPath string
	Content []byte
}

// walkRepo collects the text files of a working tree, skipping hidden
// paths (including .git), oversized files, and binary content.
func walkRepo(root string) ([]repoFile, error) {
	var files []repoFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel != "." && skipPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if skipPath(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxMemberSize {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !isTextContent(content) {
			return nil
		}

		files = append(files, repoFile{RelPath: filepath.ToSlash(rel), Content: content})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking repository: %w", err)
	}
	return files, nil
}
