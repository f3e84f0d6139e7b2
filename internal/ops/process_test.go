package ops

import (
	"context"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/protkit/internal/config"
	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/rcsb"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
)

const (
	seqTen    = "MKTAYIAKQR"
	seqAll    = "ACDEFGHIKLMNPQRSTVWY"
	crambin   = "TTCCPSIVARSNFNVCRLPGTPEAICATYTGCIIIPGATCPGDYAN"
	crambinFA = ">1CRN_1|Chain A|CRAMBIN|Crambe hispanica subsp. abyssinica (3721)\n" + crambin + "\n"
)

// fakePredictor records submitted sequences and answers with fn, or a
// PDB stub when fn is nil.
type fakePredictor struct {
	calls []string
	fn    func(seq string) (*predict.Result, error)
}

func (f *fakePredictor) Predict(ctx context.Context, seq string) (*predict.Result, error) {
	f.calls = append(f.calls, seq)
	if f.fn != nil {
		return f.fn(seq)
	}
	conf := 90.0
	return &predict.Result{
		Confidence: &conf,
		Time:       time.Now(),
		Structure:  &predict.Structure{Format: predict.FormatPDB, Content: "ATOM " + seq, ID: "fake_" + seq[:3]},
	}, nil
}

// newTestRunner returns a runner that sends predictions to remote (or the
// seeded mock when remote is nil) and resolves accessions at rcsbURL.
func newTestRunner(t *testing.T, remote predict.Predictor, rcsbURL string) *Runner {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true

	r := &Runner{
		Mock:     predict.NewMock(0, rand.NewPCG(1, 2)),
		Resolver: rcsb.NewResolver(rcsbURL, time.Second),
		Cfg:      cfg,
		Logger:   log.New(io.Discard, "", 0),
	}
	if remote != nil {
		cfg.APIKey = "test-key"
		r.Remote = remote
	}
	return r
}

func newRCSBServer(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/fasta/%s"
}

func sessionWith(seqs ...string) *session.State {
	s := session.New("test")
	for _, seq := range seqs {
		if seq == "" {
			s.AppendEmpty()
			continue
		}
		s.AddSequence(seq)
	}
	return s
}

func submitAll(t *testing.T, s *session.State) {
	t.Helper()
	for i := range s.Sequences {
		_, err := Submit(s, i)
		require.NoError(t, err)
	}
}

func TestProcessPending_ShortSequenceNeverReachesPredictor(t *testing.T) {
	fake := &fakePredictor{}
	r := newTestRunner(t, fake, "")
	s := sessionWith("mkt")
	submitAll(t, s)

	out := ProcessPending(context.Background(), r, s)

	assert.Equal(t, 1, out.Failed)
	assert.Empty(t, fake.calls)
	task, _ := s.Tasks.Get(0)
	require.Equal(t, tasks.StatusError, task.Status)
	assert.Equal(t, errors.ErrSequenceTooShort, task.Error.Code)
	assert.Equal(t, "MKT", task.Sequence)
}

func TestProcessPending_SlotOrderAndOutcomes(t *testing.T) {
	fake := &fakePredictor{}
	r := newTestRunner(t, fake, "")
	s := sessionWith(seqTen, "", ">query\n"+seqAll)
	submitAll(t, s)

	out := ProcessPending(context.Background(), r, s)

	assert.Equal(t, ProcessOutput{Mode: "remote", Processed: 3, Succeeded: 2, Failed: 1}, out)
	assert.Equal(t, []string{seqTen, seqAll}, fake.calls)

	statuses := []tasks.Status{}
	for _, task := range s.Tasks.Tasks() {
		statuses = append(statuses, task.Status)
	}
	assert.Equal(t, []tasks.Status{tasks.StatusSuccess, tasks.StatusError, tasks.StatusSuccess}, statuses)

	empty, _ := s.Tasks.Get(1)
	assert.Equal(t, errors.ErrEmptySequence, empty.Error.Code)
	assert.Empty(t, s.Tasks.Running())
}

func TestProcessPending_MockMode(t *testing.T) {
	r := newTestRunner(t, nil, "")
	s := sessionWith(seqTen)
	submitAll(t, s)

	out := ProcessPending(context.Background(), r, s)

	assert.Equal(t, "mock", out.Mode)
	task, _ := s.Tasks.Get(0)
	require.Equal(t, tasks.StatusSuccess, task.Status)
	assert.True(t, task.Result.Simulation)
	assert.True(t, task.Result.HasStructure())
}

func TestProcessPending_PanicIsolatedToSlot(t *testing.T) {
	fake := &fakePredictor{}
	fake.fn = func(seq string) (*predict.Result, error) {
		if seq == seqTen {
			panic("boom")
		}
		return &predict.Result{Structure: &predict.Structure{Format: predict.FormatPDB, Content: "ATOM"}}, nil
	}
	r := newTestRunner(t, fake, "")
	s := sessionWith(seqTen, seqAll)
	submitAll(t, s)

	out := ProcessPending(context.Background(), r, s)

	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Succeeded)
	bad, _ := s.Tasks.Get(0)
	assert.Equal(t, errors.ErrInternal, bad.Error.Code)
	assert.Contains(t, bad.Error.Message, "boom")
	good, _ := s.Tasks.Get(1)
	assert.Equal(t, tasks.StatusSuccess, good.Status)
}

func TestProcessPending_PredictorError(t *testing.T) {
	fake := &fakePredictor{fn: func(string) (*predict.Result, error) {
		return nil, errors.NewUpstreamStatus(503, "busy")
	}}
	r := newTestRunner(t, fake, "")
	s := sessionWith(seqTen)
	submitAll(t, s)

	ProcessPending(context.Background(), r, s)

	task, _ := s.Tasks.Get(0)
	assert.Equal(t, tasks.StatusError, task.Status)
	assert.Equal(t, errors.ErrUpstreamStatus, task.Error.Code)
	assert.Nil(t, task.Result)
}

func TestProcessPending_ResolvesAccession(t *testing.T) {
	fake := &fakePredictor{}
	r := newTestRunner(t, fake, newRCSBServer(t, http.StatusOK, crambinFA))
	s := sessionWith(" 1crn ")
	submitAll(t, s)

	ProcessPending(context.Background(), r, s)

	require.Equal(t, []string{crambin}, fake.calls)
	task, _ := s.Tasks.Get(0)
	assert.Equal(t, tasks.StatusSuccess, task.Status)
	assert.Equal(t, crambin, task.Sequence)
}

func TestProcessPending_AccessionLookupFails(t *testing.T) {
	fake := &fakePredictor{}
	r := newTestRunner(t, fake, newRCSBServer(t, http.StatusNotFound, "no such entry"))
	s := sessionWith("9ZZZ")
	submitAll(t, s)

	ProcessPending(context.Background(), r, s)

	assert.Empty(t, fake.calls)
	task, _ := s.Tasks.Get(0)
	assert.Equal(t, errors.ErrAccessionLookup, task.Error.Code)
}

func TestProcessPending_CancelledContextDefers(t *testing.T) {
	fake := &fakePredictor{}
	r := newTestRunner(t, fake, "")
	s := sessionWith(seqTen, seqAll)
	submitAll(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ProcessPending(ctx, r, s)

	assert.Equal(t, 2, out.Deferred)
	assert.Equal(t, 0, out.Processed)
	assert.Equal(t, []int{0, 1}, s.Tasks.Running())
}

func TestSubmit_DoubleSubmitIsNoOp(t *testing.T) {
	s := sessionWith(seqTen)

	first, err := Submit(s, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, first.Submitted)
	before, _ := s.Tasks.Get(0)

	second, err := Submit(s, 0)
	require.NoError(t, err)
	assert.Empty(t, second.Submitted)
	assert.Equal(t, []int{0}, second.Skipped)

	after, _ := s.Tasks.Get(0)
	assert.Equal(t, before.SubmittedAt, after.SubmittedAt)
}

func TestSubmit_OutOfRange(t *testing.T) {
	s := sessionWith(seqTen)
	_, err := Submit(s, 4)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSubmitAll_AllOrNothing(t *testing.T) {
	s := sessionWith(seqTen, "MK", "")

	out, err := SubmitAll(s)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	require.Len(t, out.Problems, 2)
	assert.Equal(t, 1, out.Problems[0].Slot)
	assert.Equal(t, errors.ErrSequenceTooShort, out.Problems[0].Code)
	assert.Equal(t, 2, out.Problems[1].Slot)
	assert.Equal(t, errors.ErrEmptySequence, out.Problems[1].Code)
	assert.Empty(t, s.Tasks.Running())
}

func TestSubmitAll_AcceptsAccessions(t *testing.T) {
	s := sessionWith("1CRN", seqTen)

	out, err := SubmitAll(s)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, out.Submitted)
	assert.Equal(t, []int{0, 1}, s.Tasks.Running())
}

func TestNewRunner_Mode(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "mock", NewRunner(cfg, nil).Mode())

	cfg.APIKey = "key"
	assert.Equal(t, "remote", NewRunner(cfg, nil).Mode())

	cfg.UseMock = true
	assert.Equal(t, "mock", NewRunner(cfg, nil).Mode())
}

func TestClientOptions(t *testing.T) {
	off := false
	cfg := config.DefaultConfig()
	cfg.PollIntervalSeconds = 5
	cfg.MaxPolls = 3
	cfg.Sampling.WithoutPotentials = &off
	cfg.Sampling.SamplingSteps = 0

	opts := clientOptions(cfg, nil)

	assert.Equal(t, 5*time.Second, opts.PollInterval)
	assert.Equal(t, 3, opts.MaxPolls)
	assert.False(t, opts.Sampling.WithoutPotentials)
	assert.Equal(t, 50, opts.Sampling.SamplingSteps)
	assert.Equal(t, config.DefaultAPIURL, opts.APIURL)
}
