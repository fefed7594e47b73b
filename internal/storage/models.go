package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mark is one day's dedup entry as stored in Postgres.
type Mark struct {
	Key       string
	Value     string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// RelayRecord captures one completed fanout for auditing.
type RelayRecord struct {
	ID        int64
	EventID   string
	DayKey    string
	Price     decimal.Decimal
	Endpoints []string
	Delivered int
	Failed    int
	CreatedAt time.Time
}
