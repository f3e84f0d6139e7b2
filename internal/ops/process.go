package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/sequence"
	"github.com/hpungsan/protkit/internal/session"
)

// ProcessOutput summarizes one ProcessPending pass.
type ProcessOutput struct {
	Mode      string `json:"mode"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Deferred  int    `json:"deferred,omitempty"`
}

// Resolve turns raw slot input into residues. Accessions are looked up.
func (r *Runner) Resolve(ctx context.Context, raw string) (string, error) {
	seq := sequence.Normalize(raw)
	if seq == "" {
		return "", errors.NewEmptySequence()
	}
	if sequence.IsAccession(seq) {
		resolved, err := r.Resolver.Sequence(ctx, seq)
		if err != nil {
			return "", err
		}
		r.Logger.Printf("resolved accession %s to %d residues", seq, len(resolved))
		seq = resolved
	}
	if seq == "" {
		return "", errors.NewEmptySequence()
	}
	return seq, nil
}

// ProcessPending runs every running slot to completion, one at a time in
// slot order. Each slot ends in success or error. Slots not reached because
// ctx ended stay running for the next pass.
func ProcessPending(ctx context.Context, r *Runner, s *session.State) ProcessOutput {
	s.Sync()
	out := ProcessOutput{Mode: r.Mode()}

	for _, i := range s.Tasks.Running() {
		if ctx.Err() != nil {
			out.Deferred++
			continue
		}

		seq, res, err := r.runSlot(ctx, s.Sequences[i])
		if err != nil && errors.Is(err, errors.ErrCancelled) && ctx.Err() != nil {
			out.Deferred++
			continue
		}

		out.Processed++
		if err != nil {
			r.Logger.Printf("slot %d failed: %v", i, err)
			_ = s.Tasks.Fail(i, seq, err)
			out.Failed++
			continue
		}
		r.Logger.Printf("slot %d completed (%d residues, confidence %s)", i, len(seq), res.ConfidenceLabel())
		_ = s.Tasks.Complete(i, seq, res)
		out.Succeeded++
	}

	if out.Processed > 0 {
		s.Touch()
	}
	return out
}

// runSlot executes one submission. A panic is reported as INTERNAL.
func (r *Runner) runSlot(ctx context.Context, raw string) (seq string, res *predict.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = errors.NewInternal(fmt.Errorf("prediction panicked: %v", p))
		}
	}()

	seq, err = r.Resolve(ctx, raw)
	if err != nil {
		return seq, nil, err
	}
	if err = sequence.CheckPredictable(seq); err != nil {
		return seq, nil, err
	}
	res, err = r.Predictor().Predict(ctx, seq)
	if err != nil {
		return seq, nil, err
	}
	return seq, res, nil
}

// SubmitOutput reports a submission.
type SubmitOutput struct {
	Submitted []int         `json:"submitted"`
	Skipped   []int         `json:"skipped,omitempty"` // already running
	Problems  []SlotProblem `json:"problems,omitempty"`
}

// SlotProblem is a validation failure found before submission.
type SlotProblem struct {
	Slot    int              `json:"slot"`
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Submit marks slot idx as running. A slot that is already running is left as-is.
func Submit(s *session.State, idx int) (*SubmitOutput, error) {
	s.Sync()
	if idx < 0 || idx >= len(s.Sequences) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("slot index %d out of range [0, %d)", idx, len(s.Sequences)))
	}
	changed, err := s.Tasks.Submit(idx)
	if err != nil {
		return nil, err
	}
	out := &SubmitOutput{}
	if changed {
		out.Submitted = []int{idx}
		s.Touch()
	} else {
		out.Skipped = []int{idx}
	}
	return out, nil
}

// SubmitAll submits every slot, but only when each slot's input passes the
// local checks. Accession inputs pass; they are resolved during processing.
// When any slot fails, nothing is submitted and the problems are returned.
func SubmitAll(s *session.State) (*SubmitOutput, error) {
	s.Sync()

	var problems []SlotProblem
	for i, raw := range s.Sequences {
		if err := checkInput(raw); err != nil {
			pErr := errors.As(err)
			problems = append(problems, SlotProblem{Slot: i, Code: pErr.Code, Message: pErr.Message})
		}
	}
	if len(problems) > 0 {
		err := errors.NewInvalidRequest(
			fmt.Sprintf("%d of %d sequences are not ready for prediction", len(problems), len(s.Sequences)))
		err.Details = map[string]any{"problems": problems}
		return &SubmitOutput{Problems: problems}, err
	}

	out := &SubmitOutput{}
	for i := range s.Sequences {
		changed, err := s.Tasks.Submit(i)
		if err != nil {
			return nil, err
		}
		if changed {
			out.Submitted = append(out.Submitted, i)
		} else {
			out.Skipped = append(out.Skipped, i)
		}
	}
	if len(out.Submitted) > 0 {
		s.Touch()
	}
	return out, nil
}

// checkInput validates raw input without network access.
func checkInput(raw string) error {
	seq := sequence.Normalize(raw)
	if sequence.IsAccession(seq) {
		return nil
	}
	return sequence.CheckPredictable(seq)
}
