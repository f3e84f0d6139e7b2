package predict

import (
	"context"
	"crypto/rand"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Structure formats.
const (
	FormatPDB   = "pdb"
	FormatMMCIF = "mmcif"
)

// TimeLayout is the timestamp layout used in results and structure headers.
const TimeLayout = "2006-01-02 15:04:05"

// Predictor turns a validated sequence into a structure prediction.
type Predictor interface {
	Predict(ctx context.Context, seq string) (*Result, error)
}

// Structure is a predicted 3D structure payload.
type Structure struct {
	Format  string `json:"format"`
	Content string `json:"content"`
	ID      string `json:"id"`
}

// Result is a normalized prediction outcome.
type Result struct {
	// Confidence is nil when the service reported no usable score.
	Confidence       *float64           `json:"confidence,omitempty"`
	ConfidenceSource string             `json:"confidence_source,omitempty"`
	ConfidenceMean   *float64           `json:"confidence_mean,omitempty"`
	Time             time.Time          `json:"time"`
	Structure        *Structure         `json:"structure,omitempty"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	Simulation       bool               `json:"simulation"`
	Message          string             `json:"message,omitempty"`
}

// ConfidenceLabel formats the confidence for display.
func (r *Result) ConfidenceLabel() string {
	if r == nil || r.Confidence == nil {
		return "unknown"
	}
	return formatFloat(*r.Confidence, 2)
}

// HasStructure reports whether r carries a non-empty structure payload.
func (r *Result) HasStructure() bool {
	return r != nil && r.Structure != nil && strings.TrimSpace(r.Structure.Content) != ""
}

// Artifact describes the downloadable file for a structure format.
type Artifact struct {
	Extension string
	MimeType  string
}

// ArtifactFor maps a structure format to its file extension and MIME type.
// Unknown formats fall back to PDB.
func ArtifactFor(format string) Artifact {
	if strings.EqualFold(format, FormatMMCIF) {
		return Artifact{Extension: ".cif", MimeType: "chemical/x-mmcif"}
	}
	return Artifact{Extension: ".pdb", MimeType: "chemical/x-pdb"}
}

// FileName returns the download name for s.
func FileName(s *Structure) string {
	id := s.ID
	if id == "" {
		id = "structure"
	}
	return id + ArtifactFor(s.Format).Extension
}

// pdbRecords are record names that open a PDB-format file.
var pdbRecords = []string{"HEADER", "ATOM", "HETATM", "REMARK", "MODEL", "CRYST1", "TITLE", "COMPND"}

// SniffFormat guesses the format of unlabeled structure text.
func SniffFormat(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "data_") {
		return FormatMMCIF
	}
	for _, rec := range pdbRecords {
		if strings.HasPrefix(s, rec) {
			return FormatPDB
		}
	}
	return FormatMMCIF
}

// normalizeFormat maps a declared format to a known one, sniffing when it is
// missing or unrecognized.
func normalizeFormat(declared, content string) string {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "pdb":
		return FormatPDB
	case "mmcif", "cif":
		return FormatMMCIF
	default:
		return SniffFormat(content)
	}
}

// newStructureID returns prefix_<ULID>.
func newStructureID(prefix string, now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func formatFloat(v float64, places int) string {
	return strconv.FormatFloat(v, 'f', places, 64)
}
