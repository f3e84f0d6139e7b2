package predict

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// MockMessage marks every synthetic result.
const MockMessage = "simulated structure prediction for demonstration; not a real model output"

// mockPDBTemplate is a three-residue backbone stub. %s is the timestamp.
const mockPDBTemplate = `HEADER    SIMULATED PROTEIN STRUCTURE    %s
TITLE     MOCK PREDICTION RESULT
COMPND    MOCK PROTEIN
SOURCE    SIMULATED
KEYWDS    MOCK, STRUCTURE, PREDICTION
EXPDTA    MOCK DATA
REMARK    1 GENERATED BY MOCK PROTEIN STRUCTURE PREDICTION
ATOM      1  N   GLY A   1      12.431  -1.025   0.762  1.00 99.99           N
ATOM      2  CA  GLY A   1      11.766   0.098   0.228  1.00 99.99           C
ATOM      3  C   GLY A   1      12.374   1.319   0.663  1.00 99.99           C
ATOM      4  O   GLY A   1      13.552   1.417   0.385  1.00 99.99           O
ATOM      5  N   ALA A   2      11.562   2.285   1.334  1.00 99.99           N
ATOM      6  CA  ALA A   2      12.043   3.560   1.869  1.00 99.99           C
ATOM      7  C   ALA A   2      11.111   4.638   1.661  1.00 99.99           C
ATOM      8  O   ALA A   2      10.852   5.738   2.238  1.00 99.99           O
ATOM      9  CB  ALA A   2      13.563   3.810   1.526  1.00 99.99           C
ATOM     10  N   SER A   3      10.541   4.408   0.474  1.00 99.99           N
ATOM     11  CA  SER A   3       9.658   5.368   0.145  1.00 99.99           C
ATOM     12  C   SER A   3       8.264   4.957  -0.115  1.00 99.99           C
ATOM     13  O   SER A   3       7.228   5.592  -0.293  1.00 99.99           O
ATOM     14  CB  SER A   3      10.023   6.731  -0.365  1.00 99.99           C
ATOM     15  OG  SER A   3      11.284   7.120  -0.705  1.00 99.99           O
ENDMDL
`

// Mock produces randomized synthetic predictions after a fixed delay.
type Mock struct {
	delay time.Duration
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock creates a Mock. A nil src seeds from the clock.
func NewMock(delay time.Duration, src rand.Source) *Mock {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>17|1)
	}
	return &Mock{delay: delay, now: time.Now, rng: rand.New(src)}
}

func (m *Mock) uniform(lo, hi float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo + m.rng.Float64()*(hi-lo)
}

// Predict returns a synthetic result. seq is not inspected.
func (m *Mock) Predict(ctx context.Context, seq string) (*Result, error) {
	if err := sleep(ctx, m.delay); err != nil {
		return nil, err
	}

	now := m.now()
	confidence := round(m.uniform(70, 99), 1)
	return &Result{
		Confidence:       &confidence,
		ConfidenceSource: "mock",
		Time:             now,
		Structure: &Structure{
			Format:  FormatPDB,
			Content: fmt.Sprintf(mockPDBTemplate, now.Format(TimeLayout)),
			ID:      newStructureID("mock", now),
		},
		Metrics: map[string]float64{
			"plddt":    round(m.uniform(70, 95), 1),
			"tm_score": round(m.uniform(0.7, 0.95), 3),
			"rmsd":     round(m.uniform(0.5, 3.0), 2),
		},
		Simulation: true,
		Message:    MockMessage,
	}, nil
}

// Binding is a synthetic protein-protein affinity estimate.
type Binding struct {
	Sequence1     string    `json:"sequence1"`
	Sequence2     string    `json:"sequence2"`
	AffinityScore float64   `json:"affinity_score"`
	BindingEnergy float64   `json:"binding_energy"` // kcal/mol
	Kd            float64   `json:"kd"`             // M
	Strength      string    `json:"strength"`
	Time          time.Time `json:"time"`
	Simulation    bool      `json:"simulation"`
	Method        string    `json:"method"`
}

// BindingStrength labels an affinity score in [0.5, 1].
func BindingStrength(score float64) string {
	switch {
	case score > 0.85:
		return "very strong"
	case score > 0.7:
		return "strong"
	case score > 0.55:
		return "moderate"
	default:
		return "weak"
	}
}

// Binding returns a synthetic affinity estimate for two sequences.
// It waits three quarters of the prediction delay.
func (m *Mock) Binding(ctx context.Context, seq1, seq2 string) (*Binding, error) {
	if err := sleep(ctx, m.delay*3/4); err != nil {
		return nil, err
	}
	score := round(m.uniform(0.5, 1.0), 4)
	return &Binding{
		Sequence1:     seq1,
		Sequence2:     seq2,
		AffinityScore: score,
		BindingEnergy: round(m.uniform(-15, -1), 2),
		Kd:            round(m.uniform(1e-12, 1e-6), 12),
		Strength:      BindingStrength(score),
		Time:          m.now(),
		Simulation:    true,
		Method:        "mock_binding_prediction",
	}, nil
}
