package ops

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/session"
)

// maxImportRecords bounds one FASTA import.
const maxImportRecords = 200

// ImportInput contains parameters for the ImportFASTA operation.
type ImportInput struct {
	Path string // required, .fasta/.fa/.faa
}

// ImportOutput contains the result of the ImportFASTA operation.
type ImportOutput struct {
	Imported int      `json:"imported"`
	Slots    []int    `json:"slots"`
	Headers  []string `json:"headers"`
}

// ImportFASTA adds every record of a FASTA file as a new slot. Each slot
// keeps its header line so the normalizer sees FASTA input.
func ImportFASTA(s *session.State, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if err := ValidatePath(input.Path, PathCheckRead, FASTAExts, cfg); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if errors.As(err).Code != errors.ErrInternal {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, err := ParseFASTA(file)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewEmptySequence()
	}
	if len(records) > maxImportRecords {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("file has %d records; at most %d can be imported", len(records), maxImportRecords))
	}

	out := &ImportOutput{}
	for _, rec := range records {
		out.Slots = append(out.Slots, s.AddSequence(rec.Raw()))
		out.Headers = append(out.Headers, rec.Header)
	}
	out.Imported = len(records)
	return out, nil
}

// FASTARecord is one entry of a FASTA file.
type FASTARecord struct {
	Header   string // without the leading '>'
	Residues string // sequence lines joined, unfiltered
}

// Raw renders the record as single-record FASTA text.
func (r FASTARecord) Raw() string {
	if r.Header == "" {
		return r.Residues
	}
	return ">" + r.Header + "\n" + r.Residues
}

// ParseFASTA splits r into records. Lines before the first header form an
// unnamed record; blank lines and ';' comments are ignored.
func ParseFASTA(r io.Reader) ([]FASTARecord, error) {
	var (
		records []FASTARecord
		cur     *FASTARecord
		body    strings.Builder
	)
	flush := func() {
		if cur != nil {
			cur.Residues = body.String()
			if cur.Residues != "" || cur.Header != "" {
				records = append(records, *cur)
			}
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "", strings.HasPrefix(line, ";"):
			continue
		case strings.HasPrefix(line, ">"):
			flush()
			cur = &FASTARecord{Header: strings.TrimSpace(line[1:])}
		default:
			if cur == nil {
				cur = &FASTARecord{}
			}
			body.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to read FASTA: %v", err))
	}
	flush()
	return records, nil
}
