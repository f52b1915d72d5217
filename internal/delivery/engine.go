// Package delivery implements the retrying delivery engine: a status table,
// an offline FIFO queue and a deterministic exponential backoff loop.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/alertmail-lite/internal/classify"
	"github.com/shineum/alertmail-lite/internal/email"
	"github.com/shineum/alertmail-lite/internal/events"
	"github.com/shineum/alertmail-lite/internal/metrics"
	"github.com/shineum/alertmail-lite/internal/provider"
)

const (
	// DefaultMaxRetries is the number of attempts per delivery.
	DefaultMaxRetries = 3

	// DefaultRetention is the default horizon for CleanupOldStatuses.
	DefaultRetention = 24 * time.Hour

	// CancelledMessage is recorded on cancelled deliveries.
	CancelledMessage = "Cancelled by user"
)

// ErrNoTransport is reported when a send is requested with no transport bound.
var ErrNoTransport = errors.New("no email provider configured")

// Publisher receives status change events.
type Publisher interface {
	Publish(events.DeliveryEvent)
}

// Classifier maps failures to error kinds.
type Classifier interface {
	Classify(err error, providerName string) classify.Response
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Engine delivers messages through a Transport with retries. It is safe for
// concurrent use. The lock is never held across a transport call or a backoff.
type Engine struct {
	mu        sync.Mutex
	transport provider.Transport
	records   map[string]*Record
	queue     []string

	maxRetries int
	sleep      Sleeper
	now        func() time.Time
	classifier Classifier
	publisher  Publisher
	logger     *slog.Logger
	newID      func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetries sets the attempts per delivery. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxRetries = n
		}
	}
}

// WithSleeper replaces the backoff wait.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithClassifier replaces the error classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator replaces the delivery id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an Engine. t may be nil; sends then fail until SetTransport.
func New(t provider.Transport, opts ...Option) *Engine {
	e := &Engine{
		transport:  t,
		records:    make(map[string]*Record),
		maxRetries: DefaultMaxRetries,
		sleep:      sleepWithContext,
		now:        time.Now,
		classifier: classify.Default,
		logger:     slog.Default(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "delivery")
	return e
}

// SetTransport hot-swaps the transport. Attempts that have not started yet
// use the new transport. A nil transport is a programming error.
func (e *Engine) SetTransport(t provider.Transport) {
	if t == nil {
		panic("delivery: SetTransport called with nil transport")
	}
	e.mu.Lock()
	e.transport = t
	e.mu.Unlock()
	e.logger.Info("transport updated", "provider", t.Name())
}

// Transport returns the bound transport, or nil.
func (e *Engine) Transport() provider.Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport
}

// MaxRetries returns the attempts per delivery.
func (e *Engine) MaxRetries() int {
	return e.maxRetries
}

// SendWithRetry delivers msg, blocking through up to MaxRetries attempts
// with 1s, 2s, 4s... waits between them.
func (e *Engine) SendWithRetry(ctx context.Context, msg *email.Message) Result {
	if msg == nil {
		return e.preconditionFailure(errors.New("message is nil"))
	}
	if e.Transport() == nil {
		return e.preconditionFailure(ErrNoTransport)
	}

	now := e.now()
	rec := &Record{
		ID:        e.newID(),
		Status:    StatusSending,
		CreatedAt: now,
		UpdatedAt: now,
		Message:   msg.Clone(),
	}

	e.mu.Lock()
	e.records[rec.ID] = rec
	ev := e.eventLocked(rec)
	e.mu.Unlock()
	e.publish(ev)

	return e.deliver(ctx, rec.ID, msg.Clone())
}

// QueueEmail records msg as Queued and appends it to the offline queue.
func (e *Engine) QueueEmail(msg *email.Message) string {
	now := e.now()
	rec := &Record{
		ID:        e.newID(),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Message:   msg.Clone(),
	}

	e.mu.Lock()
	e.records[rec.ID] = rec
	e.queue = append(e.queue, rec.ID)
	depth := len(e.queue)
	ev := e.eventLocked(rec)
	e.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	e.publish(ev)
	e.logger.Info("email queued", "delivery_id", rec.ID, "recipient", msg.Recipient, "queue_size", depth)
	return rec.ID
}

// QueueSize returns the number of queued, unprocessed deliveries.
func (e *Engine) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// ProcessQueue delivers the items queued when it was called, one at a time,
// and returns one result per item. A failing item does not stop the rest.
// If ctx is cancelled between items the remainder stays queued.
func (e *Engine) ProcessQueue(ctx context.Context) []Result {
	e.mu.Lock()
	pending := len(e.queue)
	e.mu.Unlock()

	results := make([]Result, 0, pending)
	for range pending {
		if ctx.Err() != nil {
			e.logger.Warn("queue processing interrupted", "error", ctx.Err(), "processed", len(results))
			break
		}

		id, msg, ok := e.pop()
		if !ok {
			break
		}

		if e.Transport() == nil {
			r := e.fail(id, 0, ErrNoTransport, classify.Configuration, "")
			r.Steps = classify.Steps(classify.Configuration)
			results = append(results, r)
			continue
		}
		results = append(results, e.deliver(ctx, id, msg))
	}

	e.logger.Info("queue processed", "processed", len(results), "remaining", e.QueueSize())
	return results
}

// pop removes the oldest queued item and moves it to Sending.
func (e *Engine) pop() (string, email.Message, bool) {
	e.mu.Lock()
	for len(e.queue) > 0 {
		id := e.queue[0]
		e.queue = e.queue[1:]
		rec, ok := e.records[id]
		if !ok || rec.Status != StatusQueued {
			continue
		}
		rec.Status = StatusSending
		rec.UpdatedAt = e.now()
		msg := rec.Message.Clone()
		ev := e.eventLocked(rec)
		depth := len(e.queue)
		e.mu.Unlock()

		metrics.QueueDepth.Set(float64(depth))
		e.publish(ev)
		return id, msg, true
	}
	e.mu.Unlock()
	metrics.QueueDepth.Set(0)
	return "", email.Message{}, false
}

// GetDeliveryStatus returns a copy of the record for id.
func (e *Engine) GetDeliveryStatus(id string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// GetAllDeliveryStatuses returns a copy of every record.
func (e *Engine) GetAllDeliveryStatuses() map[string]Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Record, len(e.records))
	for id, rec := range e.records {
		out[id] = rec.snapshot()
	}
	return out
}

// CancelDelivery fails a Queued or Pending delivery. It has no effect on
// deliveries already in flight or finished.
func (e *Engine) CancelDelivery(id string) bool {
	e.mu.Lock()
	rec, ok := e.records[id]
	if !ok || (rec.Status != StatusQueued && rec.Status != StatusPending) {
		e.mu.Unlock()
		return false
	}
	rec.Status = StatusFailed
	rec.UpdatedAt = e.now()
	rec.LastError = &ErrorDetail{Message: CancelledMessage}
	e.queue = slices.DeleteFunc(e.queue, func(q string) bool { return q == id })
	depth := len(e.queue)
	ev := e.eventLocked(rec)
	e.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	e.publish(ev)
	e.logger.Info("delivery cancelled", "delivery_id", id)
	return true
}

// CleanupOldStatuses removes records last updated before now-maxAge and
// returns how many were removed.
func (e *Engine) CleanupOldStatuses(maxAge time.Duration) int {
	cutoff := e.now().Add(-maxAge)

	e.mu.Lock()
	removed := 0
	for id, rec := range e.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(e.records, id)
			removed++
		}
	}
	if removed > 0 {
		e.queue = slices.DeleteFunc(e.queue, func(id string) bool {
			_, ok := e.records[id]
			return !ok
		})
	}
	e.mu.Unlock()

	if removed > 0 {
		metrics.StatusesPurged.Add(float64(removed))
		e.logger.Info("old delivery statuses purged", "count", removed, "max_age", maxAge)
	}
	return removed
}

// deliver runs the retry loop for a record already in Sending.
func (e *Engine) deliver(ctx context.Context, id string, msg email.Message) Result {
	start := e.now()

	var (
		lastErr  error
		lastResp classify.Response
		lastName string
	)

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		t := e.Transport()
		lastName = t.Name()

		e.update(id, func(r *Record) {
			r.Status = StatusSending
			r.Attempts = attempt
			r.Provider = lastName
		})

		receipt, err := e.attempt(ctx, t, &msg)
		if err == nil {
			metrics.DeliveryAttempts.WithLabelValues(lastName, "success").Inc()
			return e.succeed(id, attempt, start, lastName, receipt)
		}

		resp := e.classifier.Classify(err, lastName)
		lastErr, lastResp = err, resp
		metrics.DeliveryAttempts.WithLabelValues(lastName, "failure").Inc()
		metrics.DeliveryErrors.WithLabelValues(lastName, string(resp.Kind)).Inc()

		e.logger.Warn("delivery attempt failed",
			"delivery_id", id,
			"provider", lastName,
			"attempt", attempt,
			"max_retries", e.maxRetries,
			"kind", resp.Kind,
			"retryable", resp.Retryable,
			"error", err,
		)

		if attempt == e.maxRetries {
			break
		}

		e.update(id, func(r *Record) {
			r.Status = StatusRetrying
			r.LastError = &ErrorDetail{Kind: resp.Kind, Message: err.Error()}
		})

		if err := e.sleep(ctx, backoffDelay(attempt)); err != nil {
			lastErr = fmt.Errorf("delivery aborted during backoff: %w", err)
			break
		}
	}

	r := e.fail(id, 0, lastErr, lastResp.Kind, lastName)
	r.Steps = lastResp.Steps
	r.DeliveryTime = e.now().Sub(start)
	metrics.DeliveryDuration.WithLabelValues(lastName).Observe(r.DeliveryTime.Seconds())
	return r
}

// attempt performs one send. A panic in the transport is a failed attempt.
func (e *Engine) attempt(ctx context.Context, t provider.Transport, msg *email.Message) (receipt *provider.Receipt, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transport panic: %v", p)
		}
	}()
	return t.Send(ctx, msg)
}

func (e *Engine) succeed(id string, attempts int, start time.Time, name string, receipt *provider.Receipt) Result {
	e.update(id, func(r *Record) {
		r.Status = StatusSent
		r.Attempts = attempts
		r.LastError = nil
	})

	elapsed := e.now().Sub(start)
	metrics.DeliveriesCompleted.WithLabelValues(name, string(StatusSent)).Inc()
	metrics.DeliveryDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	res := Result{
		Success:      true,
		ID:           id,
		Timestamp:    e.now(),
		Attempts:     attempts,
		DeliveryTime: elapsed,
		Provider:     name,
	}
	if receipt != nil {
		res.ProviderID = receipt.ID
	}
	e.logger.Info("email delivered", "delivery_id", id, "provider", name, "attempts", attempts, "duration", elapsed)
	return res
}

// fail moves id to Failed. attempts of 0 keeps the recorded attempt count.
func (e *Engine) fail(id string, attempts int, err error, kind classify.Kind, name string) Result {
	if err == nil {
		err = errors.New("delivery failed")
	}
	recorded := attempts
	e.update(id, func(r *Record) {
		r.Status = StatusFailed
		if attempts > 0 {
			r.Attempts = attempts
		}
		recorded = r.Attempts
		r.LastError = &ErrorDetail{Kind: kind, Message: err.Error()}
	})

	metrics.DeliveriesCompleted.WithLabelValues(name, string(StatusFailed)).Inc()
	e.logger.Error("email delivery failed", "delivery_id", id, "provider", name, "attempts", recorded, "error", err)

	return Result{
		Success:   false,
		ID:        id,
		Timestamp: e.now(),
		Attempts:  recorded,
		Error:     err.Error(),
		ErrorKind: kind,
		Provider:  name,
	}
}

func (e *Engine) preconditionFailure(err error) Result {
	e.logger.Error("cannot send email", "error", err)
	return Result{
		Success:   false,
		Timestamp: e.now(),
		Error:     err.Error(),
		ErrorKind: classify.Configuration,
		Steps:     classify.Steps(classify.Configuration),
	}
}

// update applies fn to the record under the lock, refreshes UpdatedAt and
// publishes the new state. Illegal transitions are logged and skipped.
func (e *Engine) update(id string, fn func(*Record)) {
	e.mu.Lock()
	rec, ok := e.records[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	before := rec.Status
	next := *rec
	fn(&next)
	if next.Status != before && !before.CanTransition(next.Status) {
		e.mu.Unlock()
		e.logger.Warn("illegal status transition ignored", "delivery_id", id, "from", before, "to", next.Status)
		return
	}
	next.UpdatedAt = e.now()
	*rec = next
	ev := e.eventLocked(rec)
	e.mu.Unlock()

	e.publish(ev)
}

func (e *Engine) eventLocked(rec *Record) events.DeliveryEvent {
	ev := events.DeliveryEvent{
		DeliveryID: rec.ID,
		Recipient:  rec.Message.Recipient,
		Provider:   rec.Provider,
		Status:     string(rec.Status),
		Attempt:    rec.Attempts,
		Timestamp:  rec.UpdatedAt,
	}
	if rec.LastError != nil {
		ev.Message = rec.LastError.Message
		ev.ErrorKind = string(rec.LastError.Kind)
	}
	return ev
}

func (e *Engine) publish(ev events.DeliveryEvent) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

// backoffDelay returns the wait after the given failed attempt: 1s, 2s, 4s...
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

// sleepWithContext waits for d or until ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
