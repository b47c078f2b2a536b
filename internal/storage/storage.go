// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	gateway "github.com/smartai/router/internal"
)

// UsageFilter narrows usage record queries. Zero values match everything.
type UsageFilter struct {
	ChannelID string
	Model     string
	Since     string // RFC3339, inclusive
	Until     string // RFC3339, exclusive
	Limit     int
	Offset    int
}

// UsageStore manages usage record persistence.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []gateway.UsageRecord) error
	QueryUsage(ctx context.Context, f UsageFilter) ([]gateway.UsageRecord, error)
	SumCost(ctx context.Context, channelID string) (float64, error)
}

// Store combines all storage interfaces.
type Store interface {
	UsageStore
	Ping(ctx context.Context) error
	Close() error
}
