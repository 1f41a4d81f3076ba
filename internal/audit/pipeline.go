package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

const genesisHash = "genesis"

// Pipeline is the append-only audit event stream. A single writer
// goroutine drains a bounded queue, so events enqueued by one request
// in order are appended in order. Each event is sealed with an
// integrity tag and hash-chained to its predecessor.
type Pipeline struct {
	repo   Repository
	sealer Sealer
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	queue   chan *models.AuditEvent
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	subMu       sync.Mutex
	subscribers []chan *models.AuditEvent

	chainMu  sync.Mutex
	lastHash string
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.now = fn
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSink sets an external sink notified of finalized events.
func WithSink(sink Sink) Option {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

// NewPipeline creates the pipeline and starts its writer. Call Close
// to drain and stop it.
func NewPipeline(repo Repository, sealer Sealer, queueSize int, opts ...Option) (*Pipeline, error) {
	if repo == nil || sealer == nil {
		return nil, fmt.Errorf("audit: repository and sealer are required: %w", errors.ErrInvalidInput)
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Pipeline{
		repo:    repo,
		sealer:  sealer,
		logger:  slog.Default(),
		now:     time.Now,
		queue:   make(chan *models.AuditEvent, queueSize),
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(p)
	}

	// Resume the chain from the most recent persisted event.
	p.lastHash = genesisHash
	if latest, err := p.repo.Latest(context.Background()); err == nil && latest.ChainHash != "" {
		p.lastHash = latest.ChainHash
	}

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Enqueue queues an event for appending. The event id and timestamp
// are assigned here so enqueue order fixes event order. Enqueue never
// blocks the request path: a full queue drops the event with an error.
func (p *Pipeline) Enqueue(ctx context.Context, event *models.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("audit: event is required: %w", errors.ErrInvalidInput)
	}
	if event.Action == "" {
		return fmt.Errorf("audit: action is required: %w", errors.ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = p.newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	// The timestamp is part of the sealed payload, and the store keeps
	// microsecond precision. Seal what will be read back.
	event.Timestamp = event.Timestamp.UTC().Truncate(time.Microsecond)

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return fmt.Errorf("audit: pipeline closed")
	}

	select {
	case p.queue <- event:
		return nil
	default:
		p.logger.ErrorContext(ctx, "audit queue full, event dropped", "event_id", event.ID, "action", event.Action)
		return fmt.Errorf("audit: queue full, event %s dropped", event.ID)
	}
}

// Subscribe returns a channel of finalized events. Slow subscribers
// miss events rather than stall the writer.
func (p *Pipeline) Subscribe() <-chan *models.AuditEvent {
	ch := make(chan *models.AuditEvent, 64)
	p.subMu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.subMu.Unlock()
	return ch
}

// Close drains the queue and stops the writer. Enqueue calls racing a
// Close see a pipeline-closed error instead of the closed channel.
func (p *Pipeline) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for event := range p.queue {
		if err := p.append(context.Background(), event); err != nil {
			p.logger.Error("failed to append audit event",
				"event_id", event.ID, "action", event.Action, "error", err)
		}
	}
}

func (p *Pipeline) append(ctx context.Context, event *models.AuditEvent) error {
	p.chainMu.Lock()
	event.PrevHash = p.lastHash

	payload, err := canonicalPayload(event)
	if err != nil {
		p.chainMu.Unlock()
		return fmt.Errorf("serialize event: %w", err)
	}
	tag, err := p.sealer.Seal(ctx, payload)
	if err != nil {
		p.chainMu.Unlock()
		return fmt.Errorf("seal event: %w", err)
	}
	event.IntegrityTag = tag
	event.ChainHash = chainHash(tag, event.PrevHash)
	p.lastHash = event.ChainHash
	p.chainMu.Unlock()

	if err := p.repo.Create(ctx, event); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	if p.sink != nil {
		if err := p.sink.Emit(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "audit sink emit failed", "event_id", event.ID, "error", err)
		}
	}

	p.subMu.Lock()
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	p.subMu.Unlock()
	return nil
}

func (p *Pipeline) newEventID() string {
	p.entropyMu.Lock()
	defer p.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(p.now()), p.entropy).String()
}

// canonicalPayload serializes an event for sealing, excluding the
// fields derived from the seal itself.
func canonicalPayload(event *models.AuditEvent) ([]byte, error) {
	stripped := *event
	stripped.IntegrityTag = ""
	stripped.ChainHash = ""
	return json.Marshal(&stripped)
}

func chainHash(tag, prev string) string {
	sum := sha256.Sum256([]byte(tag + prev))
	return hex.EncodeToString(sum[:])
}
