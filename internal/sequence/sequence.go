package sequence

import (
	"regexp"
	"strings"

	"github.com/hpungsan/protkit/internal/errors"
)

// Alphabet is the 20-symbol standard amino-acid set.
const Alphabet = "ACDEFGHIKLMNPQRSTVWY"

// MinPredictLength is the shortest sequence accepted for structure prediction.
const MinPredictLength = 10

// accessionRegex matches a 4-character database accession such as 1CRN.
var accessionRegex = regexp.MustCompile(`^[0-9A-Za-z]{4}$`)

var inAlphabet [256]bool

func init() {
	for i := 0; i < len(Alphabet); i++ {
		inAlphabet[Alphabet[i]] = true
	}
}

// Normalize extracts a sequence from free-form or FASTA input:
// 1. A trimmed 4-character alphanumeric input is an accession and returned as-is
// 2. Input starting with '>' loses its header line
// 3. Remaining text is uppercased and filtered to the alphabet
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if IsAccession(trimmed) {
		return trimmed
	}

	body := trimmed
	if strings.HasPrefix(body, ">") {
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		} else {
			body = ""
		}
	}
	return Clean(body)
}

// Clean uppercases s and drops every character outside the alphabet.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if inAlphabet[c] {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsAccession reports whether s (already trimmed) is a 4-character accession.
func IsAccession(s string) bool {
	return accessionRegex.MatchString(s)
}

// IsValid reports whether seq is non-empty and uses only alphabet symbols.
func IsValid(seq string) bool {
	if seq == "" {
		return false
	}
	for i := 0; i < len(seq); i++ {
		if !inAlphabet[seq[i]] {
			return false
		}
	}
	return true
}

// CheckPredictable validates a normalized sequence for structure prediction.
func CheckPredictable(seq string) error {
	if seq == "" {
		return errors.NewEmptySequence()
	}
	if len(seq) < MinPredictLength {
		return errors.NewSequenceTooShort(MinPredictLength, len(seq))
	}
	return nil
}

// ExampleInsulin is human preproinsulin (UniProt P01308) in FASTA form.
const ExampleInsulin = ">sp|P01308|INS_HUMAN Insulin\n" +
	"MALWMRLLPLLALLALWGPDPAAAFVNQHLCGSHLVEALYLVCGERGFFYTPKTRREAED\n" +
	"LQVGQVELGGGPGAGSLQPLALEGSLQKRGIVEQCCTSICSLYQLENYCN"
