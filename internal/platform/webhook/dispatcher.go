// Package webhook delivers gateway callbacks to bridge-registered URLs with
// bounded retries, exponential backoff, HMAC payload signing, and a full
// per-attempt audit trail. Delivery is asynchronous: producers enqueue a job
// and learn the terminal outcome through a callback, never by blocking.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome classifies a single delivery attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "DELIVERED"
	case OutcomeRetryable:
		return "FAILED_RETRYABLE"
	default:
		return "FAILED_TERMINAL"
	}
}

// URLResolver resolves a bridge id to its registered webhook URL. An empty
// URL means the bridge is not configured for callbacks.
type URLResolver interface {
	WebhookURL(bridgeID string) (string, bool)
}

// Message is the webhook callback contract: the body POSTed to a bridge.
// The bridge must acknowledge with 2xx to stop retries.
type Message struct {
	MessageID   string          `json:"messageId"`
	MessageType string          `json:"messageType"`
	FromBridge  string          `json:"fromBridge"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// Job is one delivery request. Done, when set, is invoked exactly once with
// the terminal outcome after all retries are exhausted or delivery succeeds.
// OnAttempt, when set, fires after every delivery attempt with the attempt
// number and error (empty on success), before any retry is scheduled, so
// producers can surface in-flight progress. ExpiresAt bounds retry
// scheduling; a zero value means no deadline.
type Job struct {
	TargetBridgeID string
	Message        Message
	ExpiresAt      time.Time
	OnAttempt      func(attempt int, lastErr string)
	Done           func(outcome Outcome, attempts int, lastErr string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithMaxAttempts sets the attempt cap (default 5).
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// WithBaseDelay sets the first retry delay; subsequent delays double.
func WithBaseDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.baseDelay = delay }
}

// WithWorkers sets the delivery worker count (default 4).
func WithWorkers(n int) Option {
	return func(d *Dispatcher) { d.workers = n }
}

// Dispatcher owns the outbound delivery queue and worker pool.
type Dispatcher struct {
	resolver    URLResolver
	store       AttemptStore
	httpClient  *http.Client
	signSecret  []byte
	maxAttempts int
	baseDelay   time.Duration
	workers     int
	queue       chan *task
	logger      zerolog.Logger
	metrics     *metrics
	cancel      context.CancelFunc
	done        chan struct{}
}

type task struct {
	job     *Job
	attempt int
	lastErr string
}

func NewDispatcher(resolver URLResolver, store AttemptStore, signSecret string, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:    resolver,
		store:       store,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		signSecret:  []byte(signSecret),
		maxAttempts: 5,
		baseDelay:   time.Second,
		workers:     4,
		queue:       make(chan *task, 256),
		logger:      logger,
		metrics:     newMetrics(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Enqueue schedules a job for delivery. It never blocks the caller: a full
// queue fails the job terminally instead of stalling the mediated request.
func (d *Dispatcher) Enqueue(job *Job) error {
	select {
	case d.queue <- &task{job: job, attempt: 1}:
		return nil
	default:
		d.finish(job, OutcomeTerminal, 0, "delivery queue full")
		return fmt.Errorf("delivery queue full")
	}
}

// Start launches the worker pool. Stop must be called to drain it.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	for i := 0; i < d.workers; i++ {
		go d.worker(ctx)
	}
	go func() {
		<-ctx.Done()
		close(d.done)
	}()
}

// Stop cancels the workers. Pending retries are abandoned.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			d.process(ctx, t)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, t *task) {
	job := t.job

	if !job.ExpiresAt.IsZero() && time.Now().After(job.ExpiresAt) {
		d.finish(job, OutcomeTerminal, t.attempt-1, "delivery window expired")
		return
	}

	outcome, errMsg := d.deliverOnce(ctx, t)
	d.metrics.observe(outcome)
	if job.OnAttempt != nil {
		job.OnAttempt(t.attempt, errMsg)
	}

	switch outcome {
	case OutcomeDelivered:
		d.finish(job, OutcomeDelivered, t.attempt, "")
	case OutcomeRetryable:
		if t.attempt >= d.maxAttempts {
			d.finish(job, OutcomeTerminal, t.attempt, errMsg)
			return
		}
		d.metrics.retries.Inc()
		delay := d.baseDelay << (t.attempt - 1)
		next := &task{job: job, attempt: t.attempt + 1, lastErr: errMsg}
		time.AfterFunc(delay, func() {
			select {
			case d.queue <- next:
			case <-ctx.Done():
			}
		})
	default:
		d.finish(job, OutcomeTerminal, t.attempt, errMsg)
	}
}

func (d *Dispatcher) finish(job *Job, outcome Outcome, attempts int, lastErr string) {
	if job.Done != nil {
		job.Done(outcome, attempts, lastErr)
	}
}

// deliverOnce performs one outbound POST and records the attempt.
func (d *Dispatcher) deliverOnce(ctx context.Context, t *task) (Outcome, string) {
	job := t.job
	now := time.Now()

	attempt := &Attempt{
		ID:             uuid.New().String(),
		TargetBridgeID: job.TargetBridgeID,
		MessageID:      job.Message.MessageID,
		MessageType:    job.Message.MessageType,
		AttemptNumber:  t.attempt,
		Result:         AttemptPending,
		CreatedAt:      now,
	}

	url, ok := d.resolver.WebhookURL(job.TargetBridgeID)
	if !ok || url == "" {
		attempt.Result = AttemptFailed
		attempt.Error = "bridge has no webhook URL configured"
		d.store.Record(ctx, attempt)
		return OutcomeTerminal, attempt.Error
	}

	payload, err := json.Marshal(job.Message)
	if err != nil {
		attempt.Result = AttemptFailed
		attempt.Error = err.Error()
		d.store.Record(ctx, attempt)
		return OutcomeTerminal, attempt.Error
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		attempt.Result = AttemptFailed
		attempt.Error = err.Error()
		d.store.Record(ctx, attempt)
		return OutcomeTerminal, attempt.Error
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+d.sign(payload))
	req.Header.Set("X-Webhook-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	attempt.Duration = time.Since(start)
	d.metrics.duration.Observe(attempt.Duration.Seconds())

	if err != nil {
		// Timeouts and connection errors are retryable.
		attempt.Result = AttemptFailed
		attempt.Error = err.Error()
		d.scheduleNote(attempt, t.attempt)
		d.store.Record(ctx, attempt)
		return OutcomeRetryable, attempt.Error
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	attempt.StatusCode = resp.StatusCode
	outcome := classify(resp.StatusCode)
	switch outcome {
	case OutcomeDelivered:
		attempt.Result = AttemptDelivered
	case OutcomeRetryable:
		attempt.Result = AttemptFailed
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
		d.scheduleNote(attempt, t.attempt)
	default:
		attempt.Result = AttemptFailed
		attempt.Error = fmt.Sprintf("rejected by bridge: %d", resp.StatusCode)
	}
	d.store.Record(ctx, attempt)

	d.logger.Debug().
		Str("bridge_id", job.TargetBridgeID).
		Str("message_id", job.Message.MessageID).
		Int("attempt", t.attempt).
		Str("outcome", outcome.String()).
		Msg("webhook delivery attempt")

	return outcome, attempt.Error
}

func (d *Dispatcher) scheduleNote(attempt *Attempt, attemptNo int) {
	if attemptNo < d.maxAttempts {
		next := time.Now().Add(d.baseDelay << (attemptNo - 1))
		attempt.NextRetryAt = &next
	}
}

func (d *Dispatcher) sign(payload []byte) string {
	mac := hmac.New(sha256.New, d.signSecret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// classify maps an HTTP status to a delivery outcome: 2xx delivered, 5xx and
// 408/429 retryable, any other 4xx terminal.
func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeDelivered
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return OutcomeRetryable
	case status >= 500:
		return OutcomeRetryable
	default:
		return OutcomeTerminal
	}
}
