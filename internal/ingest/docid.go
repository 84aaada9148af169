package ingest

import (
	"path"
	"strings"

	"github.com/corpusgate/corpusgate/internal/knowledge"
)

// FileDocID builds the doc ID for a standalone upload.
func FileDocID(fileName string) string {
	return string(knowledge.SourceTypeFile) + "-" + fileName
}

// ZipMemberDocID builds the doc ID for one member of a zip upload. The
// zip's base name (without .zip) prefixes every member so the whole
// archive can be addressed as "file-upload-<zip>/".
func ZipMemberDocID(zipFileName, relPath string) string {
	base := strings.TrimSuffix(zipFileName, ".zip")
	return string(knowledge.SourceTypeFile) + "-" + base + "/" + relPath
}

// RepoDocID builds the doc ID for one file of a cloned repository.
func RepoDocID(repoName, relPath string) string {
	return string(knowledge.SourceTypeRepo) + "-" + repoName + "/" + relPath
}

// RepoNameFromURL derives the repository name from a clone URL
// (the last path segment, without .git).
func RepoNameFromURL(repoURL string) string {
	name := repoURL
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

// skipPath reports whether an archive member or repository file should be
// ignored: hidden path components (dotfiles, .git, Mac resource forks)
// and Python bytecode caches.
func skipPath(relPath string) bool {
	cleaned := path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	for _, part := range strings.Split(cleaned, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
		if part == "__pycache__" || part == "__MACOSX" {
			return true
		}
	}
	return false
}

// isTextContent reports whether data looks like indexable text (no NUL
// bytes in the sniff window).
func isTextContent(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for _, b := range data[:n] {
		if b == 0 {
			return false
		}
	}
	return true
}
