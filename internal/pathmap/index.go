package pathmap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

// StagingRoot is the directory all projected paths are re-rooted under
// during the history rewrite. The rewrite's second pass promotes this
// directory to the repository root.
const StagingRoot = "__mirror__"

// RewriteIndexEntries reads NUL-terminated index entries in
// `git ls-files -s -z` format (<mode> SP <object> SP <stage> TAB <path>)
// and writes them back in `git update-index -z --index-info` format with
// each path projected through the Mapper and re-rooted under stagingRoot.
// Entries whose path does not project are omitted, which is what makes
// commits touching only untracked paths collapse to empty during the
// rewrite.
func (m *Mapper) RewriteIndexEntries(r io.Reader, w io.Writer, stagingRoot string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(scanNul)

	bw := bufio.NewWriter(w)
	for sc.Scan() {
		entry := sc.Text()
		if entry == "" {
			continue
		}
		tab := strings.IndexByte(entry, '\t')
		if tab < 0 {
			return fmt.Errorf("malformed index entry %q", entry)
		}
		meta, src := entry[:tab], entry[tab+1:]
		mapped, ok := m.Map(src)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s\t%s\x00", meta, path.Join(stagingRoot, mapped)); err != nil {
			return fmt.Errorf("writing index entry: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading index entries: %w", err)
	}
	return bw.Flush()
}

// scanNul splits NUL-terminated records, tolerating a missing trailing NUL.
func scanNul(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
