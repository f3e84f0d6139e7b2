package protparam

import "math"

// Side-chain pKs. Terminal pKs depend on the terminal residue.
var (
	positivePKs = []chargeGroup{{'K', 10.0}, {'R', 12.0}, {'H', 5.98}}
	negativePKs = []chargeGroup{{'D', 4.05}, {'E', 4.45}, {'C', 9.0}, {'Y', 10.0}}

	defaultNtermPK = 7.5
	defaultCtermPK = 3.55
	ntermPKs       = map[byte]float64{'A': 7.59, 'M': 7.0, 'S': 6.93, 'P': 8.36, 'T': 6.82, 'V': 7.44, 'E': 7.7}
	ctermPKs       = map[byte]float64{'D': 4.55, 'E': 4.75}
)

type chargeGroup struct {
	residue byte
	pK      float64
}

// Bisection bounds and starting point.
const (
	piStart     = 7.775
	piMin       = 4.05
	piMax       = 12.0
	piTolerance = 0.0001
)

type chargeModel struct {
	ntermPK float64
	ctermPK float64
	counts  map[byte]int
}

func newChargeModel(seq string, counts map[byte]int) chargeModel {
	m := chargeModel{ntermPK: defaultNtermPK, ctermPK: defaultCtermPK, counts: counts}
	if pK, ok := ntermPKs[seq[0]]; ok {
		m.ntermPK = pK
	}
	if pK, ok := ctermPKs[seq[len(seq)-1]]; ok {
		m.ctermPK = pK
	}
	return m
}

func (m chargeModel) charge(pH float64) float64 {
	positive := 1 / (math.Pow(10, pH-m.ntermPK) + 1)
	for _, g := range positivePKs {
		positive += float64(m.counts[g.residue]) / (math.Pow(10, pH-g.pK) + 1)
	}
	negative := 1 / (math.Pow(10, m.ctermPK-pH) + 1)
	for _, g := range negativePKs {
		negative += float64(m.counts[g.residue]) / (math.Pow(10, g.pK-pH) + 1)
	}
	return positive - negative
}

// isoelectricPoint bisects the net-charge curve for the pH of zero charge.
func isoelectricPoint(seq string, counts map[byte]int) float64 {
	m := newChargeModel(seq, counts)
	pH, lo, hi := piStart, piMin, piMax
	for hi-lo > piTolerance {
		if m.charge(pH) > 0 {
			lo = pH
		} else {
			hi = pH
		}
		pH = (lo + hi) / 2
	}
	return pH
}

// NetCharge returns the net charge of seq at pH.
// seq must be a valid, non-empty sequence.
func NetCharge(seq string, pH float64) float64 {
	return newChargeModel(seq, countResidues(seq)).charge(pH)
}
