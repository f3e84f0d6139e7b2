package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/db"
	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/ops"
)

const (
	seqTen = "MKTAYIAKQR"
	seqAll = "ACDEFGHIKLMNPQRSTVWY"
)

// testSetup creates a temporary database and config for testing.
func testSetup(t *testing.T) (*sql.DB, *config.Config, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.MockDelayMillis = -1 // mock predictions return immediately

	cleanup := func() {
		database.Close()
	}

	return database, cfg, cleanup
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	database, cfg, cleanup := testSetup(t)
	t.Cleanup(cleanup)
	return NewHandlers(database, cfg, ops.NewRunner(cfg, nil))
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

type handlerFunc func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// call invokes a handler and fails the test on a transport-level error.
func call(t *testing.T, fn handlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := fn(context.Background(), makeRequest(args))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return result
}

// TestHandleNormalize tests the sequence_normalize handler.
func TestHandleNormalize(t *testing.T) {
	h := newTestHandlers(t)

	tests := []struct {
		name            string
		input           string
		wantSequence    string
		wantAccession   bool
		wantPredictable bool
	}{
		{"fasta", ">sp|X|test\nmkta yiak\nqr", seqTen, false, true},
		{"accession", " 1crn ", "1crn", true, true},
		{"too short", "mkt", "MKT", false, false},
		{"no residues", "123 !!", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := parseOutput(t, call(t, h.HandleNormalize, map[string]any{"sequence": tt.input}))
			if out["sequence"] != tt.wantSequence {
				t.Errorf("sequence = %v, want %q", out["sequence"], tt.wantSequence)
			}
			if out["accession"] != tt.wantAccession {
				t.Errorf("accession = %v, want %v", out["accession"], tt.wantAccession)
			}
			if out["predictable"] != tt.wantPredictable {
				t.Errorf("predictable = %v, want %v", out["predictable"], tt.wantPredictable)
			}
		})
	}
}

func TestDecode_RejectsUnknownArguments(t *testing.T) {
	h := newTestHandlers(t)

	result := call(t, h.HandleNormalize, map[string]any{"sequnce": seqTen})

	if !result.IsError {
		t.Fatal("expected error for misspelled argument")
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

// TestHandleAnalyze tests the protein_analyze handler.
func TestHandleAnalyze(t *testing.T) {
	h := newTestHandlers(t)

	out := parseOutput(t, call(t, h.HandleAnalyze, map[string]any{"sequence": seqTen}))
	result := out["result"].(map[string]any)
	if result["length"] != float64(10) {
		t.Errorf("length = %v, want 10", result["length"])
	}
	if mw := result["molecular_weight"].(float64); mw < 1209.4 || mw > 1209.5 {
		t.Errorf("molecular_weight = %v, want ~1209.46", mw)
	}

	empty := call(t, h.HandleAnalyze, map[string]any{"sequence": "  "})
	if !empty.IsError {
		t.Fatal("expected error for empty sequence")
	}
	assertErrorCode(t, empty, "EMPTY_SEQUENCE")
}

// TestHandlePredict tests the structure_predict handler in mock mode.
func TestHandlePredict(t *testing.T) {
	h := newTestHandlers(t)

	out := parseOutput(t, call(t, h.HandlePredict, map[string]any{"sequence": seqTen}))
	if out["mode"] != "mock" {
		t.Errorf("mode = %v, want mock", out["mode"])
	}
	result := out["result"].(map[string]any)
	if result["simulation"] != true {
		t.Error("expected simulation=true for mock prediction")
	}
	structure := result["structure"].(map[string]any)
	if structure["content"] != "" {
		t.Error("structure content should be omitted by default")
	}
	if out["structure_bytes"].(float64) <= 0 {
		t.Error("expected structure_bytes > 0")
	}

	full := parseOutput(t, call(t, h.HandlePredict, map[string]any{"sequence": seqTen, "include_structure": true}))
	content := full["result"].(map[string]any)["structure"].(map[string]any)["content"].(string)
	if !strings.Contains(content, "ATOM") {
		t.Error("expected PDB content with include_structure")
	}
}

func TestHandlePredict_TooShort(t *testing.T) {
	h := newTestHandlers(t)

	result := call(t, h.HandlePredict, map[string]any{"sequence": "MKT"})

	if !result.IsError {
		t.Fatal("expected error for short sequence")
	}
	assertErrorCode(t, result, "SEQUENCE_TOO_SHORT")
}

// TestSessionWorkflow drives a session through add, predict, analyze,
// affinity and remove.
func TestSessionWorkflow(t *testing.T) {
	h := newTestHandlers(t)

	added := parseOutput(t, call(t, h.HandleSessionAdd, map[string]any{"session": "Lab", "sequence": seqTen}))
	if added["session"] != "lab" {
		t.Errorf("session = %v, want lab", added["session"])
	}
	if added["added"] != float64(0) {
		t.Errorf("added = %v, want 0 (empty first slot reused)", added["added"])
	}
	parseOutput(t, call(t, h.HandleSessionAdd, map[string]any{"session": "lab", "sequence": seqAll}))

	listed := parseOutput(t, call(t, h.HandleSessionList, map[string]any{"session": "lab"}))
	if slots := listed["slots"].([]any); len(slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(slots))
	}
	if idle := listed["counts"].(map[string]any)["idle"]; idle != float64(2) {
		t.Errorf("idle = %v, want 2", idle)
	}

	one := parseOutput(t, call(t, h.HandleSessionPredict, map[string]any{"session": "lab", "slot": 0}))
	counts := one["counts"].(map[string]any)
	if counts["success"] != float64(1) || counts["idle"] != float64(1) {
		t.Errorf("counts after one prediction = %v", counts)
	}

	all := parseOutput(t, call(t, h.HandleSessionPredict, map[string]any{"session": "lab"}))
	if all["counts"].(map[string]any)["success"] != float64(2) {
		t.Errorf("counts after predicting all = %v", all["counts"])
	}

	analyzed := parseOutput(t, call(t, h.HandleSessionAnalyze, map[string]any{"session": "lab"}))
	analysis := analyzed["analysis"].(map[string]any)
	if individual := analysis["individual"].([]any); len(individual) != 2 {
		t.Errorf("individual analyses = %d, want 2", len(individual))
	}
	if analysis["combined"] == nil {
		t.Error("expected combined analysis")
	}

	aff := parseOutput(t, call(t, h.HandleSessionAffinity, map[string]any{"session": "lab"}))
	if slots := aff["slots"].([]any); len(slots) != 2 {
		t.Errorf("affinity slots = %v", slots)
	}

	removed := parseOutput(t, call(t, h.HandleSessionRemove, map[string]any{"session": "lab", "slot": 1}))
	if slots := removed["slots"].([]any); len(slots) != 1 {
		t.Errorf("slots after remove = %d, want 1", len(slots))
	}

	first := call(t, h.HandleSessionRemove, map[string]any{"session": "lab", "slot": 0})
	if !first.IsError {
		t.Fatal("expected error removing the first slot")
	}
	assertErrorCode(t, first, "INVALID_REQUEST")
}

func TestHandleSessionPredict_AllOrNothing(t *testing.T) {
	h := newTestHandlers(t)
	call(t, h.HandleSessionAdd, map[string]any{"sequence": seqTen})
	call(t, h.HandleSessionAdd, map[string]any{"sequence": "MK"})

	result := call(t, h.HandleSessionPredict, map[string]any{})
	if !result.IsError {
		t.Fatal("expected error when a slot is not ready")
	}
	assertErrorCode(t, result, "INVALID_REQUEST")

	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	details := payload["error"].(map[string]any)["details"].(map[string]any)
	if problems := details["problems"].([]any); len(problems) != 1 {
		t.Errorf("problems = %v, want 1", problems)
	}

	listed := parseOutput(t, call(t, h.HandleSessionList, map[string]any{}))
	if listed["counts"].(map[string]any)["running"] != float64(0) {
		t.Error("no slot should have been submitted")
	}
}

func TestHandleSession_ArgumentErrors(t *testing.T) {
	h := newTestHandlers(t)

	tests := []struct {
		name      string
		fn        handlerFunc
		args      map[string]any
		errorCode string
	}{
		{"add without sequence", h.HandleSessionAdd, map[string]any{}, "INVALID_REQUEST"},
		{"remove without slot", h.HandleSessionRemove, map[string]any{}, "INVALID_REQUEST"},
		{"predict out of range", h.HandleSessionPredict, map[string]any{"slot": 7}, "INVALID_REQUEST"},
		{"affinity needs two", h.HandleSessionAffinity, map[string]any{}, "INVALID_REQUEST"},
		{"analyze empty session", h.HandleSessionAnalyze, map[string]any{}, "EMPTY_SEQUENCE"},
		{"name too long", h.HandleSessionList, map[string]any{"session": strings.Repeat("x", 80)}, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := call(t, tt.fn, tt.args)
			if !result.IsError {
				t.Fatalf("expected error result, got %s", extractErrorMessage(result))
			}
			assertErrorCode(t, result, tt.errorCode)
		})
	}
}

func TestServerRegistration(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"sequence_normalize",
		"protein_analyze",
		"structure_predict",
		"session_add",
		"session_list",
		"session_remove",
		"session_predict",
		"session_analyze",
		"session_affinity",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = []string{"structure_predict", "session_predict"}
	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()

	if len(tools) != 7 {
		t.Errorf("registered tool count = %d, want 7", len(tools))
	}

	for _, name := range cfg.DisabledTools {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = AllToolNames()
	s := NewServer(database, cfg, nil, "test")

	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestServerRegistration_DuplicateDisabled(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	// Duplicates should be handled gracefully (map lookup)
	cfg.DisabledTools = []string{"session_remove", "session_remove"}
	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()

	if len(tools) != 8 {
		t.Errorf("registered tool count = %d, want 8", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"session_remove", "structure_predict"}, 0},
		{"one unknown", []string{"session_remove", "structure_fold"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()

	if len(names) != 9 {
		t.Errorf("AllToolNames() returned %d names, want 9", len(names))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("AllToolNames() not sorted: %v", names)
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	internal := errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied"))
	internal.Details = map[string]any{"path": "/tmp/secret.db"}

	errObj := errorObject(t, errorResult(internal))

	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorKeepsCode(t *testing.T) {
	wrapped := fmt.Errorf("slot 2: %w", errors.NewSequenceTooShort(10, 3))

	errObj := errorObject(t, errorResult(wrapped))

	if errObj["code"] != string(errors.ErrSequenceTooShort) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrSequenceTooShort)
	}
	if errObj["status"] != float64(422) {
		t.Errorf("status=%v, want 422", errObj["status"])
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))

	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("error = %v", errObj)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNotFound("abc")))

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

// Helper functions

func errorObject(t *testing.T, r *mcp.CallToolResult) map[string]any {
	t.Helper()
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
