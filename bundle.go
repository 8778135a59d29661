package pullconf

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	// EntryPointName is the archive path of the rendered entry-point document.
	EntryPointName = "entrypoint.conf"
	// ParametersName is the archive path of a merged parameter document,
	// relative to its configuration's directory.
	ParametersName = "parameters.json"
)

// Resolution is the outcome of mapping a node to concrete configuration
// versions. Items holds exactly one entry for leaf targets and the ordered
// children for composites.
type Resolution struct {
	NodeID     string
	Kind       TargetKind
	TargetID   string
	TargetName string
	VersionID  string
	Version    string
	Items      []ResolvedItem
}

// BundleEntry is one logical file inside a deployment bundle. Checksum is the
// lowercase hex SHA-256 of Content; for stored configuration files it carries
// the checksum frozen at publish so the bundle checksum can be computed
// without re-reading content.
type BundleEntry struct {
	Path     string
	Checksum string
	Content  []byte
}

// renderEntryPoint emits the include directives for a resolved item list, one
// line per item in item Order. The rendering is a pure function of its input:
// reordering items changes the text and therefore the bundle checksum.
func renderEntryPoint(items []ResolvedItem) []byte {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "include %s %s\n", item.ChildName, item.Version)
	}
	return []byte(b.String())
}

// BundleAssembler turns a resolution plus merged parameters into the archive
// layout and its canonical checksum.
//
// Layout: a leaf target places its files and parameters.json at the archive
// root; a composite places one subdirectory per child (named by child
// configuration name) holding that child's files and parameters. Both start
// with the rendered entry point.
type BundleAssembler struct{}

// NewBundleAssembler constructs an assembler.
func NewBundleAssembler() *BundleAssembler {
	return &BundleAssembler{}
}

// Entries produces the logical bundle contents in archive order. parameters
// is keyed by child configuration id; a missing entry means no scope
// contributed parameters and an empty document is embedded.
func (a *BundleAssembler) Entries(res Resolution, parameters map[string]MergeResult) ([]BundleEntry, error) {
	entry := renderEntryPoint(res.Items)
	entries := []BundleEntry{{
		Path:     EntryPointName,
		Checksum: contentSHA256(entry),
		Content:  entry,
	}}

	for _, item := range res.Items {
		dir := ""
		if res.Kind == TargetComposite {
			dir = item.ChildName + "/"
		}
		for _, file := range item.Files {
			entries = append(entries, BundleEntry{
				Path:     dir + file.Name,
				Checksum: file.Checksum,
				Content:  file.Content,
			})
		}

		document, err := parameters[item.ChildID].DocumentJSON()
		if err != nil {
			return nil, fmt.Errorf("pullconf: serialize parameters for %s: %w", item.ChildName, err)
		}
		entries = append(entries, BundleEntry{
			Path:     dir + ParametersName,
			Checksum: contentSHA256(document),
			Content:  document,
		})
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Path]; dup {
			return nil, fmt.Errorf("pullconf: duplicate bundle path %q", e.Path)
		}
		seen[e.Path] = struct{}{}
	}
	return entries, nil
}

// Checksum computes the canonical bundle digest: SHA-256 over a manifest of
// "path:entry-checksum" lines sorted by archive path. The digest deliberately
// ignores the zip container, whose bytes vary with timestamps and compression
// settings, so it can be computed without building the archive and still
// match what BuildBundle ships.
func (a *BundleAssembler) Checksum(entries []BundleEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, entry.Path+":"+entry.Checksum)
	}
	sort.Strings(lines)
	return contentSHA256([]byte(strings.Join(lines, "\n")))
}

// WriteArchive streams the entries into w as a zip archive in logical order.
// Every entry's content is re-hashed on the way out; a mismatch against the
// stored checksum aborts the build with an IntegrityError rather than
// shipping silently corrupted content.
func (a *BundleAssembler) WriteArchive(ctx context.Context, w io.Writer, entries []BundleEntry) error {
	archive := zip.NewWriter(w)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if actual := contentSHA256(entry.Content); actual != entry.Checksum {
			return &IntegrityError{Path: entry.Path, Expected: entry.Checksum, Actual: actual}
		}
		// Fixed header fields keep archive bytes reproducible even though the
		// canonical checksum does not depend on them.
		writer, err := archive.CreateHeader(&zip.FileHeader{
			Name:   entry.Path,
			Method: zip.Deflate,
		})
		if err != nil {
			return fmt.Errorf("pullconf: archive entry %s: %w", entry.Path, err)
		}
		if _, err := writer.Write(entry.Content); err != nil {
			return fmt.Errorf("pullconf: archive entry %s: %w", entry.Path, err)
		}
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("pullconf: finalize archive: %w", err)
	}
	return nil
}
