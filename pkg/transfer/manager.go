package transfer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/limsync/limsync/pkg/metrics"
	"github.com/limsync/limsync/pkg/retry"
	"github.com/limsync/limsync/pkg/types"
)

// ManagerConfig defines configuration for the transfer manager.
type ManagerConfig struct {
	// Workers is the pool size. Defaults to 2x available parallelism.
	Workers int

	// QueueSize is the pending-task buffer. Defaults to 16x Workers.
	QueueSize int

	// Executor performs individual fetch attempts. Defaults to NewExecutor().
	Executor *Executor

	// Clock for backoff sleeps (optional, defaults to real clock).
	Clock types.Clock

	// Logger for retry and completion logging.
	Logger *zap.Logger

	// Metrics receives download.success / download.failure increments.
	// May be nil.
	Metrics *metrics.Collector
}

const (
	managerRunning int32 = iota + 1
	managerClosed
)

// Manager schedules transfer requests onto a fixed-size worker pool. Each
// request is retried with a fixed delay until its policy's attempt budget
// is exhausted, and its terminal Result is delivered through a Handle.
type Manager struct {
	workers  int
	executor *Executor
	clock    types.Clock
	logger   *zap.Logger
	metrics  *metrics.Collector

	tasks chan *task
	state int32
	wg    sync.WaitGroup

	// closeMu orders Submit's state-check-and-send against Shutdown's
	// channel close: Submit holds the read side across both steps, so a
	// concurrent Shutdown can never close the channel between them.
	closeMu sync.RWMutex

	mu       sync.Mutex
	registry map[string]*Handle
}

type task struct {
	ctx    context.Context
	req    *Request
	handle *Handle
}

// Handle is the asynchronous result slot for one submitted request.
type Handle struct {
	url    string
	done   chan struct{}
	once   sync.Once
	result Result
}

// Done is closed when the request reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the terminal result. Only valid after Done is closed;
// use Wait to block.
func (h *Handle) Result() Result {
	return h.result
}

// Wait blocks until the request completes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// NewManager creates a transfer manager and starts its worker pool.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 2 * runtime.GOMAXPROCS(0)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16 * cfg.Workers
	}
	if cfg.Executor == nil {
		cfg.Executor = NewExecutor()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	m := &Manager{
		workers:  cfg.Workers,
		executor: cfg.Executor,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tasks:    make(chan *task, cfg.QueueSize),
		state:    managerRunning,
		registry: make(map[string]*Handle),
	}

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.run()
	}

	return m
}

// Submit enqueues a request and returns its handle immediately. The
// request's context is observed at chunk boundaries, so cancelling it
// abandons the transfer cooperatively.
//
// The in-flight registry is keyed by locator: a second request for the
// same locator submitted before the first completes gets its own handle
// but overwrites the registry's lookup slot. The registry is bookkeeping,
// not a dedup guarantee.
func (m *Manager) Submit(ctx context.Context, req *Request) (*Handle, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()

	if atomic.LoadInt32(&m.state) != managerRunning {
		return nil, types.ErrManagerClosed
	}

	h := &Handle{url: req.URL, done: make(chan struct{})}

	m.mu.Lock()
	m.registry[req.URL] = h
	m.mu.Unlock()

	select {
	case m.tasks <- &task{ctx: ctx, req: req, handle: h}:
		return h, nil
	default:
		m.remove(req.URL)
		return nil, types.ErrQueueFull
	}
}

// Pending looks up the registry slot for a locator.
func (m *Manager) Pending(url string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.registry[url]
	return h, ok
}

// PendingCount returns the number of in-flight registry entries.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registry)
}

// Shutdown stops accepting new work and blocks until all in-flight work
// completes, then releases pool resources. In-flight transfers drain; they
// are not cancelled.
func (m *Manager) Shutdown() {
	m.closeMu.Lock()
	if !atomic.CompareAndSwapInt32(&m.state, managerRunning, managerClosed) {
		m.closeMu.Unlock()
		return
	}
	close(m.tasks)
	m.closeMu.Unlock()
	m.wg.Wait()
}

// run is a worker loop. It exits once the task channel is closed and
// drained.
func (m *Manager) run() {
	defer m.wg.Done()
	for t := range m.tasks {
		m.process(t)
	}
}

// process executes one request to its terminal state. The completion hook
// runs exactly once regardless of outcome, including a panicking progress
// sink.
func (m *Manager) process(t *task) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("transfer panicked",
				zap.String("url", t.req.URL),
				zap.Any("panic", r))
			m.complete(t.handle, Result{
				Status:       StatusFailed,
				ErrorMessage: fmt.Sprintf("transfer panicked: %v", r),
			})
		}
	}()

	// Download retries use a fixed delay and treat every failure as
	// retryable until the budget runs out.
	executor := retry.NewExecutor(t.req.Policy,
		retry.WithBackoff(retry.NewFixedBackoff(t.req.Policy)),
		retry.WithClassifier(retry.AlwaysRetry),
		retry.WithClock(m.clock),
		retry.WithLogger(m.logger.With(zap.String("url", t.req.URL))),
	)

	result, err := retry.Execute(executor, t.ctx, func(ctx context.Context) (Result, error) {
		return m.executor.RunOnce(ctx, t.req)
	})
	if err != nil {
		status := StatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = StatusCancelled
		}
		m.complete(t.handle, Result{Status: status, ErrorMessage: err.Error()})
		return
	}

	m.complete(t.handle, result)
}

// complete records the terminal result, removes the registry entry, and
// wakes waiters. Idempotent per handle.
func (m *Manager) complete(h *Handle, result Result) {
	h.once.Do(func() {
		h.result = result
		m.remove(h.url)

		if result.Successful() {
			m.metrics.Inc(metrics.DownloadSuccess)
			m.logger.Info("transfer complete",
				zap.String("url", h.url),
				zap.String("path", result.Path))
		} else {
			m.metrics.Inc(metrics.DownloadFailure)
			m.logger.Error("transfer failed",
				zap.String("url", h.url),
				zap.String("status", result.Status.String()),
				zap.String("error", result.ErrorMessage))
		}

		close(h.done)
	})
}

func (m *Manager) remove(url string) {
	m.mu.Lock()
	delete(m.registry, url)
	m.mu.Unlock()
}
