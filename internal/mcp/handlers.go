package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/ops"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/sequence"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	runner *ops.Runner
}

// NewHandlers creates a new Handlers instance. A nil runner is built from cfg.
func NewHandlers(db *sql.DB, cfg *config.Config, runner *ops.Runner) *Handlers {
	if runner == nil {
		runner = ops.NewRunner(cfg, nil)
	}
	return &Handlers{db: db, cfg: cfg, runner: runner}
}

// Request types for each tool

// SequenceRequest represents the arguments of the single-sequence tools.
type SequenceRequest struct {
	Sequence         string `json:"sequence"`
	IncludeStructure bool   `json:"include_structure,omitempty"`
}

// SessionRequest represents the arguments of the session tools.
type SessionRequest struct {
	Session  string `json:"session,omitempty"`
	Sequence string `json:"sequence,omitempty"`
	Slot     *int   `json:"slot,omitempty"`
}

// Response types

// NormalizeOutput is the result of sequence_normalize.
type NormalizeOutput struct {
	Sequence    string `json:"sequence"`
	Length      int    `json:"length"`
	Accession   bool   `json:"accession"`
	Predictable bool   `json:"predictable"`
}

// PredictOutput is the result of structure_predict.
type PredictOutput struct {
	Mode           string          `json:"mode"`
	Sequence       string          `json:"sequence"`
	Result         *predict.Result `json:"result"`
	StructureBytes int             `json:"structure_bytes"`
}

// SlotEntry is one slot of a session listing.
type SlotEntry struct {
	Slot  int        `json:"slot"`
	Input string     `json:"input"`
	Task  tasks.Task `json:"task"`
}

// SessionOutput is the state of a session after a tool call.
type SessionOutput struct {
	Session  string            `json:"session"`
	Slots    []SlotEntry       `json:"slots"`
	Counts   tasks.Counts      `json:"counts"`
	Cycle    ops.ProcessOutput `json:"cycle"`
	Added    *int              `json:"added,omitempty"`
	Submit   *ops.SubmitOutput `json:"submit,omitempty"`
	Analysis *session.Analysis `json:"analysis,omitempty"`
}

// Handler implementations

// HandleNormalize handles the sequence_normalize tool call.
func (h *Handlers) HandleNormalize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SequenceRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	seq := sequence.Normalize(input.Sequence)
	out := NormalizeOutput{
		Sequence:  seq,
		Length:    len(seq),
		Accession: sequence.IsAccession(seq),
	}
	out.Predictable = out.Accession || sequence.CheckPredictable(seq) == nil
	return successResult(out)
}

// HandleAnalyze handles the protein_analyze tool call.
func (h *Handlers) HandleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SequenceRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Analyze(ctx, h.runner, input.Sequence)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePredict handles the structure_predict tool call.
func (h *Handlers) HandlePredict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SequenceRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	seq, err := h.runner.Resolve(ctx, input.Sequence)
	if err != nil {
		return errorResult(err), nil
	}
	if err := sequence.CheckPredictable(seq); err != nil {
		return errorResult(err), nil
	}

	res, err := h.runner.Predictor().Predict(ctx, seq)
	if err != nil {
		return errorResult(err), nil
	}

	out := PredictOutput{Mode: h.runner.Mode(), Sequence: seq, Result: res}
	if res.Structure != nil {
		out.StructureBytes = len(res.Structure.Content)
		if !input.IncludeStructure {
			trimmed := *res
			st := *res.Structure
			st.Content = ""
			trimmed.Structure = &st
			out.Result = &trimmed
		}
	}
	return successResult(out)
}

// HandleSessionAdd handles the session_add tool call.
func (h *Handlers) HandleSessionAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Sequence == "" {
		return errorResult(errors.NewInvalidRequest("sequence is required")), nil
	}

	out, err := h.withSession(ctx, input.Session, func(s *session.State, out *SessionOutput) error {
		idx := s.AddSequence(input.Sequence)
		out.Added = &idx
		return nil
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSessionList handles the session_list tool call.
func (h *Handlers) HandleSessionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := h.withSession(ctx, input.Session, nil)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSessionRemove handles the session_remove tool call.
func (h *Handlers) HandleSessionRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Slot == nil {
		return errorResult(errors.NewInvalidRequest("slot is required")), nil
	}

	out, err := h.withSession(ctx, input.Session, func(s *session.State, _ *SessionOutput) error {
		return s.RemoveSequence(*input.Slot)
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSessionPredict handles the session_predict tool call.
func (h *Handlers) HandleSessionPredict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := h.withSession(ctx, input.Session, func(s *session.State, out *SessionOutput) error {
		var (
			submit *ops.SubmitOutput
			err    error
		)
		if input.Slot != nil {
			submit, err = ops.Submit(s, *input.Slot)
		} else {
			submit, err = ops.SubmitAll(s)
		}
		out.Submit = submit
		return err
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSessionAnalyze handles the session_analyze tool call.
func (h *Handlers) HandleSessionAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := h.withSession(ctx, input.Session, func(s *session.State, _ *SessionOutput) error {
		_, err := ops.AnalyzeAll(ctx, h.runner, s)
		return err
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSessionAffinity handles the session_affinity tool call.
func (h *Handlers) HandleSessionAffinity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	s, _, err := h.cycle(ctx, input.Session, nil)
	if err != nil {
		return errorResult(err), nil
	}
	aff, err := ops.Affinity(s)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(aff)
}

// withSession runs one cycle and reports the resulting session state.
func (h *Handlers) withSession(ctx context.Context, name string, fn func(s *session.State, out *SessionOutput) error) (*SessionOutput, error) {
	_, out, err := h.cycle(ctx, name, fn)
	return out, err
}

// cycle runs one interaction cycle on the named session and reports the
// resulting state. fn errors abort without saving.
func (h *Handlers) cycle(ctx context.Context, name string, fn func(s *session.State, out *SessionOutput) error) (*session.State, *SessionOutput, error) {
	out := &SessionOutput{}
	var mutate func(s *session.State) error
	if fn != nil {
		mutate = func(s *session.State) error { return fn(s, out) }
	}

	s, cycle, err := ops.Cycle(ctx, h.db, h.runner, name, mutate)
	if err != nil {
		return nil, nil, err
	}

	out.Cycle = cycle
	out.Session = s.Name
	out.Counts = s.Tasks.Counts()
	out.Analysis = s.Analysis
	for i, raw := range s.Sequences {
		task, _ := s.Tasks.Get(i)
		out.Slots = append(out.Slots, SlotEntry{Slot: i, Input: raw, Task: task})
	}
	return s, out, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var pErr *errors.ProtkitError
	if stderrors.As(err, &pErr) {
		errorObj := map[string]any{
			"code":    pErr.Code,
			"message": pErr.Message,
			"status":  pErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if pErr.Code != errors.ErrInternal && pErr.Details != nil {
			errorObj["details"] = pErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
