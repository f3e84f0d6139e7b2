package ops

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
)

// BundleOutput is a merged structure artifact.
type BundleOutput struct {
	Format   string `json:"format"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Count    int    `json:"count"`
	Content  string `json:"content"`
}

// Bundle merges the structures of every successful slot into one file.
// format is "pdb" (default) or "mmcif".
func Bundle(s *session.State, format string) (*BundleOutput, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "":
		format = predict.FormatPDB
	case predict.FormatPDB, predict.FormatMMCIF:
	case "cif":
		format = predict.FormatMMCIF
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown bundle format %q (want pdb or mmcif)", format))
	}

	entries := structureEntries(s)
	count := 0
	for _, e := range entries {
		if strings.EqualFold(e.Structure.Format, format) {
			count++
		}
	}
	if count == 0 {
		return nil, errors.NewNotFound(fmt.Sprintf("%s structures in session %q", format, s.Name))
	}

	now := time.Now()
	var content string
	if format == predict.FormatPDB {
		content = predict.MergePDB(entries, now)
	} else {
		content = predict.MergeMMCIF(entries)
	}

	art := predict.ArtifactFor(format)
	return &BundleOutput{
		Format:   format,
		FileName: predict.BundleFileName(format, now),
		MimeType: art.MimeType,
		Count:    count,
		Content:  content,
	}, nil
}

// structureEntries lists the successful slots that carry a structure.
func structureEntries(s *session.State) []predict.BundleEntry {
	s.Sync()
	var entries []predict.BundleEntry
	for i, t := range s.Tasks.Tasks() {
		if t.Status == tasks.StatusSuccess && t.Result.HasStructure() {
			entries = append(entries, predict.BundleEntry{Slot: i, Structure: t.Result.Structure})
		}
	}
	return entries
}

// Structure returns the structure predicted for slot idx.
func Structure(s *session.State, idx int) (*predict.Structure, error) {
	s.Sync()
	t, err := s.Tasks.Get(idx)
	if err != nil {
		return nil, err
	}
	if t.Status != tasks.StatusSuccess || !t.Result.HasStructure() {
		return nil, errors.NewNotFound(fmt.Sprintf("structure for slot %d", idx))
	}
	return t.Result.Structure, nil
}
