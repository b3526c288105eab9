package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// =============================================================================
// API SCHEDULER - SHARED LLM CALL SLOTS
// =============================================================================
//
// Every component that talks to the LLM (router, planner, executors) shares
// one pool of API slots. Workflows may run many tasks at once, but the number
// of in-flight LLM calls stays within the provider's concurrency limit.
// Callers acquire a slot per call and release it immediately after, so local
// work (parsing, aggregation) never holds a slot.

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	MaxConcurrentCalls int           // Max simultaneous API calls (matches provider limit)
	SlotAcquireTimeout time.Duration // Max time to wait for a slot
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentCalls: 4,
		SlotAcquireTimeout: 5 * time.Minute,
	}
}

// Scheduler manages LLM API call slots.
type Scheduler struct {
	config SchedulerConfig
	slots  chan struct{} // Semaphore for API slots

	// Metrics
	totalCalls         int64
	totalWaitTime      int64 // nanoseconds
	currentlyWaiting   int32
	currentlyExecuting int32

	// Lifecycle
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a new scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.MaxConcurrentCalls < 1 {
		config.MaxConcurrentCalls = 1
	}
	return &Scheduler{
		config: config,
		slots:  make(chan struct{}, config.MaxConcurrentCalls),
		stopCh: make(chan struct{}),
	}
}

// Acquire blocks until an API slot is available or the context is cancelled.
// caller names the component acquiring the slot, for logging only.
func (s *Scheduler) Acquire(ctx context.Context, caller string) error {
	waitStart := time.Now()

	atomic.AddInt32(&s.currentlyWaiting, 1)
	defer atomic.AddInt32(&s.currentlyWaiting, -1)

	if len(s.slots) >= s.config.MaxConcurrentCalls {
		logging.LLMDebug("Scheduler: %s waiting for slot (active=%d/%d, waiting=%d)",
			caller, len(s.slots), s.config.MaxConcurrentCalls, atomic.LoadInt32(&s.currentlyWaiting))
	}

	if s.config.SlotAcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SlotAcquireTimeout)
		defer cancel()
	}

	select {
	case s.slots <- struct{}{}:
		waitDuration := time.Since(waitStart)
		atomic.AddInt64(&s.totalWaitTime, int64(waitDuration))
		atomic.AddInt32(&s.currentlyExecuting, 1)

		if waitDuration > 100*time.Millisecond {
			logging.LLM("Scheduler: %s acquired slot after %v", caller, waitDuration)
		}
		return nil

	case <-ctx.Done():
		logging.Get(logging.CategoryLLM).Warn("Scheduler: %s cancelled while waiting for slot (waited %v)",
			caller, time.Since(waitStart))
		return ctx.Err()

	case <-s.stopCh:
		return fmt.Errorf("scheduler stopped")
	}
}

// Release returns the API slot after the call completes.
func (s *Scheduler) Release(caller string) {
	select {
	case <-s.slots:
	default:
		// Shouldn't happen - means we're releasing without acquiring
		logging.Get(logging.CategoryLLM).Error("Scheduler: %s released slot it didn't hold", caller)
		return
	}

	atomic.AddInt32(&s.currentlyExecuting, -1)
	atomic.AddInt64(&s.totalCalls, 1)

	logging.LLMDebug("Scheduler: %s released slot (total_calls=%d)", caller, atomic.LoadInt64(&s.totalCalls))
}

// Metrics returns current scheduler metrics.
func (s *Scheduler) Metrics() SchedulerMetrics {
	return SchedulerMetrics{
		MaxSlots:       s.config.MaxConcurrentCalls,
		ActiveSlots:    int(atomic.LoadInt32(&s.currentlyExecuting)),
		WaitingForSlot: int(atomic.LoadInt32(&s.currentlyWaiting)),
		TotalCalls:     atomic.LoadInt64(&s.totalCalls),
		TotalWaitNs:    atomic.LoadInt64(&s.totalWaitTime),
	}
}

// SchedulerMetrics provides observability into scheduler state.
type SchedulerMetrics struct {
	MaxSlots       int
	ActiveSlots    int
	WaitingForSlot int
	TotalCalls     int64
	TotalWaitNs    int64
}

// String returns a human-readable summary.
func (m SchedulerMetrics) String() string {
	avgWait := time.Duration(0)
	if m.TotalCalls > 0 {
		avgWait = time.Duration(m.TotalWaitNs / m.TotalCalls)
	}
	return fmt.Sprintf("slots=%d/%d, waiting=%d, calls=%d, avg_wait=%v",
		m.ActiveSlots, m.MaxSlots, m.WaitingForSlot, m.TotalCalls, avgWait)
}

// Stop shuts down the scheduler. Waiters are released with an error.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// -----------------------------------------------------------------------------
// Scheduled Client Wrapper
// -----------------------------------------------------------------------------

// ScheduledClient wraps an LLM client with slot acquisition/release.
// It implements types.LLMClient so it can be injected transparently wherever
// a raw client would go.
type ScheduledClient struct {
	Scheduler *Scheduler
	Caller    string
	Client    types.LLMClient
}

// Compile-time assertion that ScheduledClient implements types.LLMClient
var _ types.LLMClient = (*ScheduledClient)(nil)

// Complete makes an LLM call under slot scheduling (single prompt).
func (c *ScheduledClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.Scheduler.Acquire(ctx, c.Caller); err != nil {
		return "", fmt.Errorf("failed to acquire API slot: %w", err)
	}
	defer c.Scheduler.Release(c.Caller)

	return c.Client.Complete(ctx, prompt)
}

// CompleteWithOptions makes an LLM call with sampling options under slot scheduling.
func (c *ScheduledClient) CompleteWithOptions(ctx context.Context, messages []types.Message, temperature float64, maxTokens int) (string, error) {
	if err := c.Scheduler.Acquire(ctx, c.Caller); err != nil {
		return "", fmt.Errorf("failed to acquire API slot: %w", err)
	}
	defer c.Scheduler.Release(c.Caller)

	return c.Client.CompleteWithOptions(ctx, messages, temperature, maxTokens)
}

// CompleteWithImage schedules a vision call, forwarding image input to the
// wrapped client. The wrapper always satisfies types.VisionClient; when the
// inner client is text-only the call fails here with a descriptive error
// rather than at the caller's type assertion.
func (c *ScheduledClient) CompleteWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	vc, ok := c.Client.(types.VisionClient)
	if !ok {
		return "", fmt.Errorf("%s: wrapped client has no vision support", c.Caller)
	}

	if err := c.Scheduler.Acquire(ctx, c.Caller); err != nil {
		return "", fmt.Errorf("failed to acquire API slot: %w", err)
	}
	defer c.Scheduler.Release(c.Caller)

	return vc.CompleteWithImage(ctx, prompt, image, mimeType)
}

// CompleteWithRetry makes an LLM call with retries, re-acquiring a slot per attempt.
func (c *ScheduledClient) CompleteWithRetry(ctx context.Context, messages []types.Message, temperature float64, maxTokens int, maxRetries int) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.Scheduler.Acquire(ctx, c.Caller); err != nil {
			return "", fmt.Errorf("failed to acquire API slot (attempt %d): %w", attempt+1, err)
		}

		result, err := c.Client.CompleteWithOptions(ctx, messages, temperature, maxTokens)

		// Release slot immediately after call
		c.Scheduler.Release(c.Caller)

		if err == nil {
			return result, nil
		}

		lastErr = err

		if attempt < maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
				logging.LLMDebug("ScheduledClient: %s retrying after error (attempt %d/%d): %v",
					c.Caller, attempt+1, maxRetries, err)
			}
		}
	}

	return "", fmt.Errorf("all %d attempts failed, last error: %w", maxRetries+1, lastErr)
}

// -----------------------------------------------------------------------------
// Global Scheduler Instance
// -----------------------------------------------------------------------------

var (
	globalScheduler     *Scheduler
	globalSchedulerOnce sync.Once
)

// GetScheduler returns the global scheduler instance.
func GetScheduler() *Scheduler {
	globalSchedulerOnce.Do(func() {
		globalScheduler = NewScheduler(DefaultSchedulerConfig())
		logging.LLM("Scheduler: initialized global instance (max_slots=%d)",
			globalScheduler.config.MaxConcurrentCalls)
	})
	return globalScheduler
}

// NewScheduledClient wraps a client with the given scheduler. A nil scheduler
// selects the global instance.
func NewScheduledClient(scheduler *Scheduler, caller string, client types.LLMClient) *ScheduledClient {
	if scheduler == nil {
		scheduler = GetScheduler()
	}
	return &ScheduledClient{
		Scheduler: scheduler,
		Caller:    caller,
		Client:    client,
	}
}
