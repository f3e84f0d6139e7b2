package ops

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/protkit/internal/db"
	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
)

// gatedPredictor counts calls and blocks each one until release is closed.
type gatedPredictor struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedPredictor() *gatedPredictor {
	return &gatedPredictor{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedPredictor) Predict(ctx context.Context, seq string) (*predict.Result, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	<-g.release
	conf := 88.0
	return &predict.Result{
		Confidence: &conf,
		Time:       time.Now(),
		Structure:  &predict.Structure{Format: predict.FormatPDB, Content: "ATOM " + seq, ID: "gated"},
	}, nil
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestLocker_SerializesAndCleansUp(t *testing.T) {
	l := NewLocker()

	unlock := l.Lock("a")
	assert.Equal(t, 1, l.held("a"))

	// Other names are independent
	unlockB := l.Lock("b")
	unlockB()
	assert.Equal(t, 0, l.held("b"))

	acquired := make(chan struct{})
	go func() {
		release := l.Lock("a")
		close(acquired)
		release()
	}()

	require.Eventually(t, func() bool { return l.held("a") == 2 }, time.Second, time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second caller acquired a held lock")
	default:
	}

	unlock()
	<-acquired
	require.Eventually(t, func() bool { return l.held("a") == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, l.locks)
}

func TestCycle_OverlappingCyclesKeepBothUpdates(t *testing.T) {
	database := openTestDB(t)
	gate := newGatedPredictor()
	r := newTestRunner(t, gate, "")
	r.Locks = NewLocker()
	ctx := context.Background()

	predictErr := make(chan error, 1)
	go func() {
		_, _, err := Cycle(ctx, database, r, "race", func(s *session.State) error {
			s.AddSequence(seqTen)
			_, err := Submit(s, 0)
			return err
		})
		predictErr <- err
	}()
	<-gate.started

	addErr := make(chan error, 1)
	go func() {
		_, _, err := Cycle(ctx, database, r, "race", func(s *session.State) error {
			s.AddSequence(seqAll)
			return nil
		})
		addErr <- err
	}()

	// The add waits for the running cycle instead of loading stale state
	require.Eventually(t, func() bool { return r.Locks.held("race") == 2 }, time.Second, time.Millisecond)
	close(gate.release)
	require.NoError(t, <-predictErr)
	require.NoError(t, <-addErr)

	s, err := Load(ctx, database, "race")
	require.NoError(t, err)
	require.Equal(t, []string{seqTen, seqAll}, s.Sequences)
	task, err := s.Tasks.Get(0)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusSuccess, task.Status)
	task, err = s.Tasks.Get(1)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusIdle, task.Status)
	assert.Equal(t, int32(1), gate.calls.Load())
}

func TestCycle_RunningSlotPredictedOnce(t *testing.T) {
	database := openTestDB(t)
	gate := newGatedPredictor()
	r := newTestRunner(t, gate, "")
	r.Locks = NewLocker()
	ctx := context.Background()

	s := session.New("once")
	s.AddSequence(seqTen)
	_, err := Submit(s, 0)
	require.NoError(t, err)
	require.NoError(t, Save(ctx, database, s))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := Cycle(ctx, database, r, "once", nil)
			errs <- err
		}()
	}

	<-gate.started
	require.Eventually(t, func() bool { return r.Locks.held("once") == 2 }, time.Second, time.Millisecond)
	close(gate.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), gate.calls.Load())
	s, err = Load(ctx, database, "once")
	require.NoError(t, err)
	task, _ := s.Tasks.Get(0)
	assert.Equal(t, tasks.StatusSuccess, task.Status)
}

func TestCycle_NameVariantsShareLock(t *testing.T) {
	database := openTestDB(t)
	gate := newGatedPredictor()
	r := newTestRunner(t, gate, "")
	r.Locks = NewLocker()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, _, err := Cycle(ctx, database, r, "Shared", func(s *session.State) error {
			s.AddSequence(seqTen)
			_, err := Submit(s, 0)
			return err
		})
		done <- err
	}()
	<-gate.started

	other := make(chan error, 1)
	go func() {
		_, _, err := Cycle(ctx, database, r, "shared", nil)
		other <- err
	}()

	key := session.NormalizeName("Shared")
	require.Eventually(t, func() bool { return r.Locks.held(key) == 2 }, time.Second, time.Millisecond)
	close(gate.release)
	require.NoError(t, <-done)
	require.NoError(t, <-other)
	assert.Equal(t, int32(1), gate.calls.Load())
}

func TestCycle_MutateErrorSkipsSave(t *testing.T) {
	database := openTestDB(t)
	r := newTestRunner(t, nil, "")
	r.Locks = NewLocker()
	ctx := context.Background()

	_, _, err := Cycle(ctx, database, r, "untouched", func(s *session.State) error {
		s.AddSequence(seqTen)
		_, err := Submit(s, 5)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, 0, r.Locks.held("untouched"))

	s, err := Load(ctx, database, "untouched")
	require.NoError(t, err)
	assert.Equal(t, []string{""}, s.Sequences)
}

func TestCycle_InvalidName(t *testing.T) {
	r := newTestRunner(t, nil, "")
	name := strings.Repeat("x", session.MaxNameLen+1)
	_, _, err := Cycle(context.Background(), openTestDB(t), r, name, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
