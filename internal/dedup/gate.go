// Package dedup enforces that a price is relayed at most once per calendar
// day in a fixed reference timezone.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ndx-relay/internal/storage"
)

// KeyLayout formats a day as YYMMDD.
const KeyLayout = "060102"

// Key returns the dedup key of the day containing t in loc.
func Key(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(KeyLayout)
}

// FormatPrice renders price as the shortest decimal literal that round-trips.
func FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).String()
}

// Options configure a Gate.
type Options struct {
	Location *time.Location
	TTL      time.Duration
	Now      func() time.Time
}

// Gate consults the shared store for today's mark.
type Gate struct {
	store storage.KV
	loc   *time.Location
	ttl   time.Duration
	now   func() time.Time
}

// NewGate builds a Gate over store.
func NewGate(store storage.KV, opts Options) *Gate {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{store: store, loc: opts.Location, ttl: opts.TTL, now: opts.Now}
}

// TodayKey is the key the gate currently reads and writes.
func (g *Gate) TodayKey() string {
	return Key(g.now(), g.loc)
}

// AlreadyNotified reports whether today's key exists. Store errors are
// returned as-is and must not be read as either answer.
func (g *Gate) AlreadyNotified(ctx context.Context) (bool, error) {
	_, found, err := g.store.Get(ctx, g.TodayKey())
	if err != nil {
		return false, fmt.Errorf("check dedup mark: %w", err)
	}
	return found, nil
}

// Today returns the price stored under today's key, if any.
func (g *Gate) Today(ctx context.Context) (string, bool, error) {
	val, found, err := g.store.Get(ctx, g.TodayKey())
	if err != nil {
		return "", false, fmt.Errorf("read dedup mark: %w", err)
	}
	return val, found, nil
}

// MarkNotified writes today's key unconditionally.
func (g *Gate) MarkNotified(ctx context.Context, price float64) error {
	if err := g.store.Set(ctx, g.TodayKey(), FormatPrice(price), g.ttl); err != nil {
		return fmt.Errorf("write dedup mark: %w", err)
	}
	return nil
}

// Claim writes today's key only if nobody has yet and reports whether this
// caller won. The first price of the day is kept.
func (g *Gate) Claim(ctx context.Context, price float64) (string, bool, error) {
	key := g.TodayKey()
	won, err := g.store.SetNX(ctx, key, FormatPrice(price), g.ttl)
	if err != nil {
		return key, false, fmt.Errorf("claim dedup mark: %w", err)
	}
	return key, won, nil
}
