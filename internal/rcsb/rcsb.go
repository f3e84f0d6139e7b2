package rcsb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/sequence"
)

// DefaultURL is the RCSB FASTA download endpoint. %s is the uppercased accession.
const DefaultURL = "https://www.rcsb.org/fasta/entry/%s/download"

// DefaultTimeout bounds one lookup.
const DefaultTimeout = 10 * time.Second

// Resolver fetches residue sequences for database accessions.
type Resolver struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewResolver creates a Resolver. Empty or zero arguments use the defaults.
func NewResolver(urlFormat string, timeout time.Duration) *Resolver {
	if urlFormat == "" {
		urlFormat = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{URL: urlFormat, Timeout: timeout, Client: &http.Client{}}
}

// Sequence downloads the FASTA entry for accession and returns its cleaned
// residues. Chain header lines (containing '|') are dropped.
func (r *Resolver) Sequence(ctx context.Context, accession string) (string, error) {
	accession = strings.TrimSpace(accession)
	if !sequence.IsAccession(accession) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("%q is not a 4-character accession", accession))
	}
	id := strings.ToUpper(accession)

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.URL, id), nil)
	if err != nil {
		return "", errors.NewAccessionLookup(id, err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", errors.NewAccessionLookup(id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NewAccessionLookup(id, fmt.Errorf("status %d", resp.StatusCode))
	}

	seq, err := parseFASTA(resp.Body)
	if err != nil {
		return "", errors.NewAccessionLookup(id, err)
	}
	if seq == "" {
		return "", errors.NewAccessionLookup(id, fmt.Errorf("no residues in entry"))
	}
	return seq, nil
}

// parseFASTA skips the first non-blank line and every line containing '|',
// then cleans what remains.
func parseFASTA(body io.Reader) (string, error) {
	var lines []string
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, line := range lines[1:] {
		if strings.Contains(line, "|") {
			continue
		}
		b.WriteString(line)
	}
	return sequence.Clean(b.String()), nil
}
