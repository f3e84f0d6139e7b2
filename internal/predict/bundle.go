package predict

import (
	"fmt"
	"strings"
	"time"
)

// BundleEntry is one slot's structure in a merged download.
type BundleEntry struct {
	Slot      int // zero-based slot index
	Structure *Structure
}

// MergePDB concatenates the PDB-format entries into one file. Each block is
// introduced by a REMARK naming its slot and a chain letter (A..Z, cycling).
// The header count covers every entry, including non-PDB ones.
// Returns "" when no entry is in PDB format.
func MergePDB(entries []BundleEntry, now time.Time) string {
	var body strings.Builder
	chain := 0
	for _, e := range entries {
		if e.Structure == nil || !strings.EqualFold(e.Structure.Format, FormatPDB) {
			continue
		}
		fmt.Fprintf(&body, "REMARK Structure %d - chain %c\n", e.Slot+1, 'A'+rune(chain%26))
		body.WriteString(e.Structure.Content)
		body.WriteString("\n\n")
		chain++
	}
	if chain == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("REMARK Merged protein structure predictions\n")
	fmt.Fprintf(&b, "REMARK Total %d structures\n", len(entries))
	fmt.Fprintf(&b, "REMARK Generated %s\n", now.Format(TimeLayout))
	b.WriteString("\n")
	b.WriteString(body.String())
	return b.String()
}

// MergeMMCIF concatenates the mmCIF-format entries, each followed by a blank line.
func MergeMMCIF(entries []BundleEntry) string {
	var b strings.Builder
	for _, e := range entries {
		if e.Structure == nil || !strings.EqualFold(e.Structure.Format, FormatMMCIF) {
			continue
		}
		b.WriteString(e.Structure.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// BundleFileName returns merged_structures_<timestamp><ext>.
func BundleFileName(format string, now time.Time) string {
	return "merged_structures_" + now.Format("20060102_150405") + ArtifactFor(format).Extension
}
