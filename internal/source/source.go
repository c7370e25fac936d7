// Package source reads the item master from the external inventory system.
package source

import (
	"context"
	"errors"
	"time"

	"stockcount-sync-api/internal/model"
)

// ErrDisabled is returned by the disabled connector.
var ErrDisabled = errors.New("source: no external source configured")

// Connector is the external inventory source.
type Connector interface {
	// Name identifies the source in logs and status output.
	Name() string
	// TestConnection checks reachability.
	TestConnection(ctx context.Context) error
	// FetchItems returns items changed after since, or all items when since is nil.
	FetchItems(ctx context.Context, since *time.Time) ([]model.InventoryItem, error)
	Close() error
}

// Disabled is a connector for deployments without an external source.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) TestConnection(context.Context) error { return ErrDisabled }

func (Disabled) FetchItems(context.Context, *time.Time) ([]model.InventoryItem, error) {
	return nil, ErrDisabled
}

func (Disabled) Close() error { return nil }

var _ Connector = Disabled{}
