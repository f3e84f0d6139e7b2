package protparam

import (
	"fmt"
	"sort"

	"github.com/hpungsan/protkit/internal/sequence"
)

// waterWeight is the average mass of water lost per peptide bond.
const waterWeight = 18.0153

// residueWeights are average masses of the free amino acids (Da).
var residueWeights = map[byte]float64{
	'A': 89.0932, 'C': 121.1582, 'D': 133.1027, 'E': 147.1293, 'F': 165.1891,
	'G': 75.0666, 'H': 155.1546, 'I': 131.1729, 'K': 146.1876, 'L': 131.1729,
	'M': 149.2113, 'N': 132.1179, 'P': 115.1305, 'Q': 146.1445, 'R': 174.201,
	'S': 105.0926, 'T': 119.1192, 'V': 117.1463, 'W': 204.2252, 'Y': 181.1885,
}

// kyteDoolittle is the hydropathy index used for GRAVY.
var kyteDoolittle = map[byte]float64{
	'A': 1.8, 'R': -4.5, 'N': -3.5, 'D': -3.5, 'C': 2.5,
	'Q': -3.5, 'E': -3.5, 'G': -0.4, 'H': -3.2, 'I': 4.5,
	'L': 3.8, 'K': -3.9, 'M': 1.9, 'F': 2.8, 'P': -1.6,
	'S': -0.8, 'T': -0.7, 'W': -0.9, 'Y': -1.3, 'V': 4.2,
}

// Extinction contributions at 280 nm (M^-1 cm^-1).
const (
	extTrp     = 5500
	extTyr     = 1490
	extCystine = 125
)

// Result holds the physicochemical properties of one sequence.
type Result struct {
	Sequence           string             `json:"sequence"`
	Length             int                `json:"length"`
	MolecularWeight    float64            `json:"molecular_weight"`
	MolecularWeightKDa float64            `json:"molecular_weight_kda"`
	IsoelectricPoint   float64            `json:"isoelectric_point"`
	ExtinctionReduced  int                `json:"extinction_reduced"`
	ExtinctionCystines int                `json:"extinction_cystines"`
	AbsReduced         float64            `json:"abs_reduced"`
	AbsCystines        float64            `json:"abs_cystines"`
	Gravy              float64            `json:"gravy"`
	Composition        map[string]float64 `json:"composition"`
}

// Analyze computes the properties of seq.
// seq must be non-empty and contain only alphabet symbols; callers normalize first.
func Analyze(seq string) Result {
	if !sequence.IsValid(seq) {
		panic(fmt.Sprintf("protparam: Analyze called with invalid sequence %q", seq))
	}

	counts := countResidues(seq)
	n := len(seq)

	mw := 0.0
	gravy := 0.0
	for i := 0; i < n; i++ {
		mw += residueWeights[seq[i]]
		gravy += kyteDoolittle[seq[i]]
	}
	mw -= float64(n-1) * waterWeight
	gravy /= float64(n)

	extReduced := counts['W']*extTrp + counts['Y']*extTyr
	extCystines := extReduced + (counts['C']/2)*extCystine

	composition := make(map[string]float64, len(sequence.Alphabet))
	for i := 0; i < len(sequence.Alphabet); i++ {
		aa := sequence.Alphabet[i]
		composition[string(aa)] = float64(counts[aa]) / float64(n)
	}

	return Result{
		Sequence:           seq,
		Length:             n,
		MolecularWeight:    mw,
		MolecularWeightKDa: mw / 1000,
		IsoelectricPoint:   isoelectricPoint(seq, counts),
		ExtinctionReduced:  extReduced,
		ExtinctionCystines: extCystines,
		AbsReduced:         float64(extReduced) / mw,
		AbsCystines:        float64(extCystines) / mw,
		Gravy:              gravy,
		Composition:        composition,
	}
}

func countResidues(seq string) map[byte]int {
	counts := make(map[byte]int, len(sequence.Alphabet))
	for i := 0; i < len(seq); i++ {
		counts[seq[i]]++
	}
	return counts
}

// HydropathyBand classifies a GRAVY score.
func HydropathyBand(gravy float64) string {
	switch {
	case gravy > 0.5:
		return "strongly hydrophobic"
	case gravy > 0:
		return "weakly hydrophobic"
	case gravy > -0.5:
		return "weakly hydrophilic"
	default:
		return "strongly hydrophilic"
	}
}

// Residue class membership used for the composition summary.
const (
	HydrophobicResidues = "AILMFWVP"
	PolarResidues       = "NCQSTY"
	ChargedResidues     = "RHKDE"
)

// Classes sums composition fractions per residue class.
type Classes struct {
	Hydrophobic float64 `json:"hydrophobic"`
	Polar       float64 `json:"polar"`
	Charged     float64 `json:"charged"`
}

// ClassFractions returns the hydrophobic, polar and charged shares of r.
func (r Result) ClassFractions() Classes {
	sum := func(set string) float64 {
		total := 0.0
		for i := 0; i < len(set); i++ {
			total += r.Composition[string(set[i])]
		}
		return total
	}
	return Classes{
		Hydrophobic: sum(HydrophobicResidues),
		Polar:       sum(PolarResidues),
		Charged:     sum(ChargedResidues),
	}
}

// ResidueShare is one entry of a ranked composition.
type ResidueShare struct {
	Residue  string  `json:"residue"`
	Fraction float64 `json:"fraction"`
}

// TopResidues returns the n most abundant residues, ties broken alphabetically.
func (r Result) TopResidues(n int) []ResidueShare {
	shares := make([]ResidueShare, 0, len(r.Composition))
	for aa, f := range r.Composition {
		shares = append(shares, ResidueShare{Residue: aa, Fraction: f})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Fraction != shares[j].Fraction {
			return shares[i].Fraction > shares[j].Fraction
		}
		return shares[i].Residue < shares[j].Residue
	})
	if n >= 0 && n < len(shares) {
		shares = shares[:n]
	}
	return shares
}
