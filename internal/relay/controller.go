// Package relay runs each inbound chat message through filter, extraction,
// the daily gate and the fanout.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"ndx-relay/internal/dedup"
	"ndx-relay/internal/fanout"
	"ndx-relay/internal/message"
	"ndx-relay/internal/storage"
)

// Outcome is where one event's processing ended.
type Outcome int

const (
	Rejected Outcome = iota
	NoPrice
	AlreadySent
	StoreFailed
	Relayed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case NoPrice:
		return "no_price"
	case AlreadySent:
		return "already_sent"
	case StoreFailed:
		return "store_failed"
	case Relayed:
		return "relayed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Gate is the daily idempotency check.
type Gate interface {
	AlreadyNotified(ctx context.Context) (bool, error)
	Claim(ctx context.Context, price float64) (key string, won bool, err error)
}

// Sender fans a price out to the trading bots.
type Sender interface {
	SendAll(ctx context.Context, price float64) *fanout.Dispatch
	Endpoints() []string
}

// Controller orchestrates one relay attempt per inbound message.
type Controller struct {
	filter *message.Filter
	gate   Gate
	sender Sender
	audit  storage.RelayLog
	logger zerolog.Logger

	// gateMu makes check-then-claim a critical section within the process.
	gateMu   sync.Mutex
	inflight *conc.WaitGroup
}

// New constructs the controller. audit may be nil.
func New(filter *message.Filter, gate Gate, sender Sender, audit storage.RelayLog, logger zerolog.Logger) *Controller {
	return &Controller{
		filter:   filter,
		gate:     gate,
		sender:   sender,
		audit:    audit,
		logger:   logger.With().Str("component", "relay").Logger(),
		inflight: conc.NewWaitGroup(),
	}
}

// Run consumes events one at a time until ctx is cancelled or events closes.
func (c *Controller) Run(ctx context.Context, events <-chan message.InboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			c.Handle(ctx, msg)
		}
	}
}

// Wait blocks until all dispatched fanouts have completed and been logged.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Handle processes one message. It never panics and never returns an error;
// every failure is logged here with the message that caused it.
func (c *Controller) Handle(ctx context.Context, msg message.InboundMessage) (outcome Outcome) {
	eventID := uuid.NewString()
	logger := c.logger.With().
		Str("event_id", eventID).
		Str("channel", msg.Channel).
		Str("author", msg.Author).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("content", msg.Content).
				Str("embed", msg.FirstEmbedDescription()).
				Msg("relay aborted unexpectedly")
			outcome = Failed
		}
	}()

	logger.Debug().
		Str("content", msg.Content).
		Str("embed", msg.FirstEmbedDescription()).
		Msg("message received")

	body, ok := c.filter.Accept(msg)
	if !ok {
		logger.Debug().Msg("message ignored")
		return Rejected
	}
	logger.Info().Str("body", body).Msg("price notification received")

	price, ok := message.ExtractPrice(body)
	if !ok {
		logger.Warn().Str("body", body).Msg("notification carried no parseable price; nothing relayed")
		return NoPrice
	}
	logger = logger.With().Float64("price", price).Logger()

	key, outcome, err := c.claim(ctx, price)
	if err != nil {
		logger.Error().Err(err).
			Str("content", msg.Content).
			Str("embed", msg.FirstEmbedDescription()).
			Msg("dedup store failed; event dropped")
		return StoreFailed
	}
	if outcome == AlreadySent {
		logger.Warn().Msg("price notification already relayed today; suppressing")
		return AlreadySent
	}

	dispatch := c.sender.SendAll(ctx, price)
	logger.Info().Str("day_key", key).
		Strs("endpoints", c.sender.Endpoints()).
		Msg("price relay dispatched to trading bots")

	c.inflight.Go(func() {
		c.observe(ctx, logger, eventID, key, price, dispatch)
	})
	return Relayed
}

func (c *Controller) claim(ctx context.Context, price float64) (string, Outcome, error) {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()

	sent, err := c.gate.AlreadyNotified(ctx)
	if err != nil {
		return "", StoreFailed, err
	}
	if sent {
		return "", AlreadySent, nil
	}

	key, won, err := c.gate.Claim(ctx, price)
	if err != nil {
		return "", StoreFailed, err
	}
	if !won {
		return key, AlreadySent, nil
	}
	return key, Relayed, nil
}

func (c *Controller) observe(ctx context.Context, logger zerolog.Logger, eventID, key string, price float64, dispatch *fanout.Dispatch) {
	results := dispatch.Wait()
	delivered, failed := fanout.Summary(results)

	evt := logger.Info()
	if failed > 0 {
		evt = logger.Warn()
	}
	evt.Int("delivered", delivered).Int("failed", failed).Msg("price relay finished")

	if c.audit == nil {
		return
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	rec := storage.RelayRecord{
		EventID:   eventID,
		DayKey:    key,
		Price:     decimal.NewFromFloat(price),
		Endpoints: c.sender.Endpoints(),
		Delivered: delivered,
		Failed:    failed,
	}
	if _, err := c.audit.InsertRelay(auditCtx, rec); err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		logger.Error().Err(fmt.Errorf("audit relay: %w", err)).Msg("failed to persist relay record")
	}
}

var (
	_ Gate   = (*dedup.Gate)(nil)
	_ Sender = (*fanout.Fanout)(nil)
)
