package ops

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
)

// AffinityNote accompanies every affinity matrix.
const AffinityNote = "sequence-similarity estimate; real affinities require docking"

// AffinityOutput is the pairwise similarity matrix of predicted slots.
type AffinityOutput struct {
	Slots    []int       `json:"slots"`
	Matrix   [][]float64 `json:"matrix"`
	BestPair [2]int      `json:"best_pair"`
	Best     float64     `json:"best"`
	Strength string      `json:"strength"`
	Note     string      `json:"note"`
}

// Similarity scores two sequences by positional identity, scaled into
// [0.5, 1] and rounded to two places.
func Similarity(a, b string) float64 {
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < min(len(a), len(b)); i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	v := float64(matches)/float64(maxLen)*0.5 + 0.5
	return math.Round(v*100) / 100
}

// AffinityStrength labels a similarity score.
func AffinityStrength(v float64) string {
	switch {
	case v > 0.8:
		return "strong"
	case v > 0.7:
		return "medium"
	default:
		return "weak"
	}
}

// Affinity builds the similarity matrix over successfully predicted slots.
// At least two are required.
func Affinity(s *session.State) (*AffinityOutput, error) {
	s.Sync()

	var (
		slots []int
		seqs  []string
	)
	for i, t := range s.Tasks.Tasks() {
		if t.Status == tasks.StatusSuccess && t.Result.HasStructure() {
			slots = append(slots, i)
			seqs = append(seqs, t.Sequence)
		}
	}
	n := len(slots)
	if n < 2 {
		return nil, errors.NewInvalidRequest("affinity needs at least two successful predictions")
	}

	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			m.SetSym(i, j, Similarity(seqs[i], seqs[j]))
		}
	}

	out := &AffinityOutput{Slots: slots, Note: AffinityNote}
	out.Matrix = make([][]float64, n)
	for i := 0; i < n; i++ {
		out.Matrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out.Matrix[i][j] = m.At(i, j)
		}
	}

	best, bi, bj := 0.0, 0, 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if v := m.At(i, j); v > best {
				best, bi, bj = v, i, j
			}
		}
	}
	out.Best = best
	out.BestPair = [2]int{slots[bi], slots[bj]}
	out.Strength = AffinityStrength(best)
	return out, nil
}
