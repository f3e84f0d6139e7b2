package web

import (
	"bytes"
	"database/sql"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/db"
	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/ops"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/sequence"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	runner   *ops.Runner
	renderer *Renderer
}

// NewHandlers wires the route handlers.
func NewHandlers(db *sql.DB, cfg *config.Config, runner *ops.Runner, renderer *Renderer) *Handlers {
	if runner == nil {
		runner = ops.NewRunner(cfg, nil)
	}
	return &Handlers{db: db, cfg: cfg, runner: runner, renderer: renderer}
}

// SessionJSON is the JSON rendering of the session page.
type SessionJSON struct {
	Session  string            `json:"session"`
	Mode     string            `json:"mode"`
	Slots    []SlotView        `json:"slots"`
	Counts   tasks.Counts      `json:"counts"`
	Analysis *session.Analysis `json:"analysis,omitempty"`
	Cycle    ops.ProcessOutput `json:"cycle"`
}

// cycle runs one interaction cycle on the session named by the request.
// On failure the error response is already written.
func (h *Handlers) cycle(w http.ResponseWriter, r *http.Request, mutate func(s *session.State) error) (*session.State, ops.ProcessOutput, bool) {
	s, out, err := ops.Cycle(r.Context(), h.db, h.runner, r.FormValue("session"), mutate)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return nil, ops.ProcessOutput{}, false
	}
	return s, out, true
}

// HandleSession handles GET /session: show the session after one cycle.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	s, out, ok := h.cycle(w, r, nil)
	if !ok {
		return
	}
	h.renderSession(w, r, s, out)
}

// HandleSessions handles GET /sessions: list stored sessions.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	items, err := db.ListSessions(r.Context(), h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	h.renderer.renderPage(w, r, "sessions", SessionsPageData{
		PageData: PageData{
			Title:   "Sessions",
			Version: h.renderer.version,
			Nav:     "sessions",
		},
		Items: items,
	})
}

// HandleAdd handles POST /session/sequences: append a slot.
func (h *Handlers) HandleAdd(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.State) error {
		if raw := r.FormValue("sequence"); raw != "" {
			s.AddSequence(raw)
		} else {
			s.AppendEmpty()
		}
		return nil
	})
}

// HandleSet handles POST /session/sequences/{idx}: replace a slot's input.
func (h *Handlers) HandleSet(w http.ResponseWriter, r *http.Request) {
	idx, err := slotParam(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.mutate(w, r, func(s *session.State) error {
		return s.SetSequence(idx, r.FormValue("sequence"))
	})
}

// HandleRemove handles DELETE /session/sequences/{idx}.
func (h *Handlers) HandleRemove(w http.ResponseWriter, r *http.Request) {
	idx, err := slotParam(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.mutate(w, r, func(s *session.State) error {
		return s.RemoveSequence(idx)
	})
}

// HandlePredict handles POST /session/sequences/{idx}/predict.
func (h *Handlers) HandlePredict(w http.ResponseWriter, r *http.Request) {
	idx, err := slotParam(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.mutate(w, r, func(s *session.State) error {
		_, err := ops.Submit(s, idx)
		return err
	})
}

// HandlePredictAll handles POST /session/predict. Nothing is submitted
// unless every slot is ready.
func (h *Handlers) HandlePredictAll(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.State) error {
		_, err := ops.SubmitAll(s)
		return err
	})
}

// HandleAnalyze handles POST /session/analyze.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.State) error {
		_, err := ops.AnalyzeAll(r.Context(), h.runner, s)
		return err
	})
}

// HandleExample handles POST /session/example: add the insulin example.
func (h *Handlers) HandleExample(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *session.State) error {
		s.AddSequence(sequence.ExampleInsulin)
		return nil
	})
}

// HandleClear handles POST /session/clear.
func (h *Handlers) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("confirm") != "true" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}
	h.mutate(w, r, func(s *session.State) error {
		s.Clear()
		return nil
	})
}

// HandleStructure handles GET /session/sequences/{idx}/structure.
func (h *Handlers) HandleStructure(w http.ResponseWriter, r *http.Request) {
	idx, err := slotParam(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	s, _, ok := h.cycle(w, r, nil)
	if !ok {
		return
	}

	st, err := ops.Structure(s, idx)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	writeDownload(w, predict.FileName(st), predict.ArtifactFor(st.Format).MimeType, []byte(st.Content))
}

// HandleBundle handles GET /session/bundle?format=pdb|mmcif.
func (h *Handlers) HandleBundle(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.cycle(w, r, nil)
	if !ok {
		return
	}

	b, err := ops.Bundle(s, r.URL.Query().Get("format"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	writeDownload(w, b.FileName, b.MimeType, []byte(b.Content))
}

// HandleWorkbook handles GET /session/export.xlsx.
func (h *Handlers) HandleWorkbook(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.cycle(w, r, func(s *session.State) error {
		if s.Analysis != nil {
			return nil
		}
		if _, err := ops.AnalyzeAll(r.Context(), h.runner, s); err != nil && !errors.Is(err, errors.ErrEmptySequence) {
			return err
		}
		return nil
	})
	if !ok {
		return
	}

	f, err := ops.BuildWorkbook(s)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}
	name := fmt.Sprintf("%s-report-%s.xlsx", ops.SanitizeForFilename(s.Name), time.Now().Format("20060102_150405"))
	writeDownload(w, name, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// HandleAffinity handles GET /session/affinity.
func (h *Handlers) HandleAffinity(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.cycle(w, r, nil)
	if !ok {
		return
	}

	aff, err := ops.Affinity(s)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, aff)
		return
	}

	h.renderer.renderPage(w, r, "affinity", AffinityPageData{
		PageData: PageData{
			Title:   "Affinity",
			Version: h.renderer.version,
			Nav:     "affinity",
		},
		Session:  s.Name,
		Affinity: aff,
	})
}

// mutate runs a cycle around fn and answers the way the client asked:
// JSON, an htmx fragment, or a redirect back to the session page.
func (h *Handlers) mutate(w http.ResponseWriter, r *http.Request, fn func(s *session.State) error) {
	s, out, ok := h.cycle(w, r, fn)
	if !ok {
		return
	}
	if wantsJSON(r) || isHTMX(r) {
		h.renderSession(w, r, s, out)
		return
	}
	http.Redirect(w, r, sessionURL(s.Name), http.StatusSeeOther)
}

func (h *Handlers) renderSession(w http.ResponseWriter, r *http.Request, s *session.State, out ops.ProcessOutput) {
	slots := slotViews(s)

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, SessionJSON{
			Session:  s.Name,
			Mode:     out.Mode,
			Slots:    slots,
			Counts:   s.Tasks.Counts(),
			Analysis: s.Analysis,
			Cycle:    out,
		})
		return
	}

	h.renderer.renderPage(w, r, "session", SessionPageData{
		PageData: PageData{
			Title:   "Session " + s.Name,
			Version: h.renderer.version,
			Nav:     "session",
		},
		Session:  s.Name,
		Mode:     out.Mode,
		Slots:    slots,
		Counts:   s.Tasks.Counts(),
		Analysis: s.Analysis,
		Cycle:    out,
		Notes:    h.renderer.notes,
	})
}

func slotViews(s *session.State) []SlotView {
	s.Sync()
	views := make([]SlotView, len(s.Sequences))
	for i, raw := range s.Sequences {
		task, _ := s.Tasks.Get(i)
		views[i] = SlotView{Index: i, Input: raw, Task: task}
		if task.Status == tasks.StatusSuccess && task.Result.HasStructure() {
			views[i].FileName = predict.FileName(task.Result.Structure)
		}
	}
	return views
}

// slotParam parses the {idx} path value.
func slotParam(r *http.Request) (int, error) {
	idx, err := strconv.Atoi(r.PathValue("idx"))
	if err != nil || idx < 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid slot index %q", r.PathValue("idx")))
	}
	return idx, nil
}

func sessionURL(name string) string {
	if name == session.DefaultName {
		return "/session"
	}
	return "/session?session=" + url.QueryEscape(name)
}

// writeDownload sends body as an attachment.
func writeDownload(w http.ResponseWriter, name, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
