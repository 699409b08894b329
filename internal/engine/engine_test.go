package engine

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/mocks"
)

// -- Mock Implementations --

// mockWorker records every execution and delegates to a per-test function.
type mockWorker struct {
	mu          sync.Mutex
	calls       []Task
	callTimes   []time.Time
	processFunc func(ctx context.Context, task Task) (Outcome, error)
}

func (m *mockWorker) Process(ctx context.Context, task Task) (Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, task)
	m.callTimes = append(m.callTimes, time.Now())
	m.mu.Unlock()
	if m.processFunc != nil {
		return m.processFunc(ctx, task)
	}
	return Outcome{}, nil
}

func (m *mockWorker) callLinks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := make([]string, len(m.calls))
	for i, task := range m.calls {
		links[i] = task.Item.Link
	}
	return links
}

func testConfig(delay time.Duration) *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			RetryAttempts: 3,
			RetryDelay:    delay,
		},
	}
}

func okStore() *mocks.MockStore {
	store := new(mocks.MockStore)
	store.On("PersistResult", mock.Anything, mock.Anything).Return(nil)
	return store
}

func item(link, region string) schemas.WorkItem {
	return schemas.WorkItem{Link: link, Region: region, Title: "t-" + link}
}

// -- Test Suite --

func TestNewValidatesDependencies(t *testing.T) {
	cfg := testConfig(time.Minute)
	worker := &mockWorker{}
	store := okStore()

	_, err := New(nil, zap.NewNop(), worker, store)
	assert.Error(t, err)
	_, err = New(cfg, zap.NewNop(), nil, store)
	assert.Error(t, err)
	_, err = New(cfg, zap.NewNop(), worker, nil)
	assert.Error(t, err)

	e, err := New(cfg, zap.NewNop(), worker, store)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestRunPreservesFIFOOrder(t *testing.T) {
	worker := &mockWorker{}
	store := okStore()
	e, err := New(testConfig(time.Minute), zap.NewNop(), worker, store)
	require.NoError(t, err)

	items := []schemas.WorkItem{item("a", "kz"), item("b", "kz"), item("c", "ae")}
	results, err := e.Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, worker.callLinks())
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, items[i].Link, res.Item.Link)
		assert.Equal(t, schemas.StatusOK, res.Status)
		assert.Equal(t, 1, res.Attempts)
		assert.NotEmpty(t, res.RunID)
	}
	store.AssertNumberOfCalls(t, "PersistResult", 3)
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	worker := &mockWorker{}
	worker.processFunc = func(ctx context.Context, task Task) (Outcome, error) {
		if task.Attempt < 3 {
			return Outcome{}, schemas.NewTaskError(schemas.ErrCloakDetected, "titles matched", nil)
		}
		return Outcome{ArtifactPath: "websites/kz/1"}, nil
	}
	store := okStore()
	e, err := New(testConfig(20*time.Millisecond), zap.NewNop(), worker, store)
	require.NoError(t, err)

	results, err := e.Run(context.Background(), []schemas.WorkItem{item("a", "kz")})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, schemas.StatusOK, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, "websites/kz/1", results[0].ArtifactPath)
	assert.Len(t, worker.calls, 3)

	// Attempt numbers count every execution.
	assert.Equal(t, 1, worker.calls[0].Attempt)
	assert.Equal(t, 2, worker.calls[1].Attempt)
	assert.Equal(t, 3, worker.calls[2].Attempt)
}

func TestRunHonorsRetryDelay(t *testing.T) {
	const delay = 60 * time.Millisecond
	worker := &mockWorker{}
	worker.processFunc = func(ctx context.Context, task Task) (Outcome, error) {
		if task.Attempt == 1 {
			return Outcome{}, schemas.NewTaskError(schemas.ErrCaptureFailure, "flaky render", nil)
		}
		return Outcome{}, nil
	}
	e, err := New(testConfig(delay), zap.NewNop(), worker, okStore())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), []schemas.WorkItem{item("a", "kz")})
	require.NoError(t, err)

	require.Len(t, worker.callTimes, 2)
	gap := worker.callTimes[1].Sub(worker.callTimes[0])
	assert.GreaterOrEqual(t, gap, delay-5*time.Millisecond, "retry ran before its gate")
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	worker := &mockWorker{}
	worker.processFunc = func(ctx context.Context, task Task) (Outcome, error) {
		return Outcome{}, schemas.NewTaskError(schemas.ErrCloakDetected, "titles matched", nil)
	}
	store := okStore()
	e, err := New(testConfig(time.Millisecond), zap.NewNop(), worker, store)
	require.NoError(t, err)

	results, err := e.Run(context.Background(), []schemas.WorkItem{item("a", "kz")})
	require.NoError(t, err)

	// One primary pass plus three retries.
	assert.Len(t, worker.calls, 4)
	require.Len(t, results, 1)
	assert.Equal(t, schemas.StatusError, results[0].Status)
	assert.Equal(t, "stale or expired link", results[0].Context)
	assert.Equal(t, 4, results[0].Attempts)
	store.AssertNumberOfCalls(t, "PersistResult", 1)
}

func TestRunDrainsDueRetriesBetweenItems(t *testing.T) {
	worker := &mockWorker{}
	worker.processFunc = func(ctx context.Context, task Task) (Outcome, error) {
		if task.Item.Link == "a" && task.Attempt == 1 {
			return Outcome{}, schemas.NewTaskError(schemas.ErrCaptureFailure, "first pass failed", nil)
		}
		return Outcome{}, nil
	}
	// Zero delay makes the retry due the moment the primary item finishes.
	e, err := New(testConfig(0), zap.NewNop(), worker, okStore())
	require.NoError(t, err)

	results, err := e.Run(context.Background(), []schemas.WorkItem{item("a", "kz"), item("b", "kz")})
	require.NoError(t, err)

	// The due retry for "a" runs before "b" is touched.
	assert.Equal(t, []string{"a", "a", "b"}, worker.callLinks())
	assert.Len(t, results, 2)
}

func TestRunTerminalKindsSkipRetry(t *testing.T) {
	testCases := []struct {
		name string
		kind schemas.ErrorKind
	}{
		{name: "unreachable link", kind: schemas.ErrUnreachableLink},
		{name: "no proxy for region", kind: schemas.ErrNoProxyForRegion},
		{name: "archive failure", kind: schemas.ErrArchiveFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			worker := &mockWorker{}
			worker.processFunc = func(ctx context.Context, task Task) (Outcome, error) {
				return Outcome{}, schemas.NewTaskError(tc.kind, "boom", nil)
			}
			e, err := New(testConfig(time.Millisecond), zap.NewNop(), worker, okStore())
			require.NoError(t, err)

			results, err := e.Run(context.Background(), []schemas.WorkItem{item("a", "xx")})
			require.NoError(t, err)

			assert.Len(t, worker.calls, 1, "terminal kinds must not re-enter the queue")
			require.Len(t, results, 1)
			assert.Equal(t, schemas.StatusError, results[0].Status)
			assert.Contains(t, results[0].Context, string(tc.kind))
			assert.Equal(t, 1, results[0].Attempts)
		})
	}
}

func TestRunPinsProxyAcrossRetries(t *testing.T) {
	profile := schemas.ProxyProfile{Host: "10.0.0.5", Port: 1080, Username: "u"}
	worker := &mockWorker{}
	worker.processFunc = func(ctx context.Context, task Task) (Outcome, error) {
		if task.Attempt == 1 {
			// The route was resolved before the failure, so it rides along.
			return Outcome{Proxy: &profile}, schemas.NewTaskError(schemas.ErrCloakDetected, "titles matched", nil)
		}
		return Outcome{Proxy: task.Proxy}, nil
	}
	e, err := New(testConfig(time.Millisecond), zap.NewNop(), worker, okStore())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), []schemas.WorkItem{item("a", "kz")})
	require.NoError(t, err)

	require.Len(t, worker.calls, 2)
	assert.Nil(t, worker.calls[0].Proxy)
	require.NotNil(t, worker.calls[1].Proxy)
	assert.Equal(t, profile, *worker.calls[1].Proxy)
}

func TestRunRecoversWorkerPanic(t *testing.T) {
	worker := &mockWorker{}
	worker.processFunc = func(ctx context.Context, task Task) (Outcome, error) {
		if task.Attempt == 1 {
			panic("nil map write somewhere deep")
		}
		return Outcome{}, nil
	}
	e, err := New(testConfig(time.Millisecond), zap.NewNop(), worker, okStore())
	require.NoError(t, err)

	results, err := e.Run(context.Background(), []schemas.WorkItem{item("a", "kz")})
	require.NoError(t, err)

	assert.Len(t, worker.calls, 2)
	require.Len(t, results, 1)
	assert.Equal(t, schemas.StatusOK, results[0].Status)
	assert.Equal(t, 2, results[0].Attempts)
}

func TestRunUnclassifiedErrorsAreRetried(t *testing.T) {
	worker := &mockWorker{}
	worker.processFunc = func(ctx context.Context, task Task) (Outcome, error) {
		if task.Attempt == 1 {
			return Outcome{}, errors.New("some transport hiccup")
		}
		return Outcome{}, nil
	}
	e, err := New(testConfig(time.Millisecond), zap.NewNop(), worker, okStore())
	require.NoError(t, err)

	results, err := e.Run(context.Background(), []schemas.WorkItem{item("a", "kz")})
	require.NoError(t, err)
	assert.Len(t, worker.calls, 2)
	assert.Equal(t, schemas.StatusOK, results[0].Status)
}

func TestRunCancellationClosesOutQueuedItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	worker := &mockWorker{}
	worker.processFunc = func(workerCtx context.Context, task Task) (Outcome, error) {
		if task.Item.Link == "a" {
			cancel()
			return Outcome{}, schemas.NewTaskError(schemas.ErrCaptureFailure, "interrupted", workerCtx.Err())
		}
		return Outcome{}, nil
	}
	store := okStore()
	e, err := New(testConfig(time.Minute), zap.NewNop(), worker, store)
	require.NoError(t, err)

	items := []schemas.WorkItem{item("a", "kz"), item("b", "kz"), item("c", "ae")}
	results, err := e.Run(ctx, items)
	require.ErrorIs(t, err, context.Canceled)

	// Only the first item ever ran, but every item still has its Result.
	assert.Equal(t, []string{"a"}, worker.callLinks())
	require.Len(t, results, 3)
	seen := make(map[string]schemas.Result)
	for _, res := range results {
		seen[res.Item.Link] = res
		assert.Equal(t, schemas.StatusError, res.Status)
		assert.Equal(t, "run canceled before item completed", res.Context)
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, 1, seen["a"].Attempts)
	assert.Equal(t, 0, seen["b"].Attempts)
	store.AssertNumberOfCalls(t, "PersistResult", 3)
}

func TestRunPersistErrorsAreNotFatal(t *testing.T) {
	worker := &mockWorker{}
	store := new(mocks.MockStore)
	store.On("PersistResult", mock.Anything, mock.Anything).Return(errors.New("database unavailable"))
	e, err := New(testConfig(time.Minute), zap.NewNop(), worker, store)
	require.NoError(t, err)

	results, err := e.Run(context.Background(), []schemas.WorkItem{item("a", "kz")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, schemas.StatusOK, results[0].Status)
}

func TestRetryQueueOrdersByNotBefore(t *testing.T) {
	now := time.Now()
	q := &retryQueue{}
	heap.Init(q)
	for _, offset := range []time.Duration{50 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond} {
		heap.Push(q, &schemas.PendingRetry{
			Item:      item("a", "kz"),
			NotBefore: now.Add(offset),
		})
	}

	var got []time.Duration
	for q.Len() > 0 {
		pending := heap.Pop(q).(*schemas.PendingRetry)
		got = append(got, pending.NotBefore.Sub(now))
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 50 * time.Millisecond}, got)
}
