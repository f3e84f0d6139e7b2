package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/protparam"
	"github.com/hpungsan/protkit/internal/sequence"
	"github.com/hpungsan/protkit/internal/session"
)

// Analyze computes the properties of one raw input. Accessions are resolved.
func Analyze(ctx context.Context, r *Runner, raw string) (*session.SlotAnalysis, error) {
	seq, err := r.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}
	a := analysisFor(seq)
	if acc := strings.TrimSpace(raw); sequence.IsAccession(acc) {
		a.Accession = strings.ToUpper(acc)
	}
	return a, nil
}

func analysisFor(seq string) *session.SlotAnalysis {
	res := protparam.Analyze(seq)
	return &session.SlotAnalysis{
		Result:  res,
		Classes: res.ClassFractions(),
		Band:    protparam.HydropathyBand(res.Gravy),
	}
}

// AnalyzeAll analyzes every non-empty slot individually and the
// concatenation of all usable slots. Slots that cannot be resolved are
// reported as skipped. The analysis is stored on the session.
func AnalyzeAll(ctx context.Context, r *Runner, s *session.State) (*session.Analysis, error) {
	s.Sync()
	out := &session.Analysis{At: time.Now()}

	var merged strings.Builder
	for _, i := range s.NonEmptySlots() {
		a, err := Analyze(ctx, r, s.Sequences[i])
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.NewCancelled("analyze")
			}
			out.Skipped = append(out.Skipped, session.SkippedSlot{Slot: i, Reason: errors.As(err).Message})
			continue
		}
		a.Slot = i
		out.Individual = append(out.Individual, *a)
		merged.WriteString(a.Result.Sequence)
	}

	if merged.Len() == 0 {
		return nil, errors.NewEmptySequence()
	}

	combined := analysisFor(merged.String())
	combined.Slot = -1
	out.Combined = combined

	s.Analysis = out
	s.Touch()
	return out, nil
}
