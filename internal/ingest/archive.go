package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// maxMemberSize caps how much of a single archive member or repository
// file is read.
const maxMemberSize = 10 << 20 // 10 MiB

// zipMember is one extracted, indexable archive entry.
type zipMember struct {
	RelPath string
	Content []byte
}

// extractZip returns the text members of a zip archive. Hidden paths and
// bytecode caches are dropped silently; oversized, binary, and corrupt
// members are returned in skipped so the caller can report them. The
// error return is reserved for an archive that cannot be opened at all.
func extractZip(data []byte) (members []zipMember, skipped []string, err error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("opening zip archive: %w", err)
	}

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if skipPath(f.Name) {
			continue
		}
		if f.UncompressedSize64 > maxMemberSize {
			skipped = append(skipped, f.Name)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			skipped = append(skipped, f.Name)
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxMemberSize))
		_ = rc.Close()
		if err != nil {
			skipped = append(skipped, f.Name)
			continue
		}
		if !isTextContent(content) {
			skipped = append(skipped, f.Name)
			continue
		}

		members = append(members, zipMember{RelPath: f.Name, Content: content})
	}
	return members, skipped, nil
}
