// Package storage holds product image assets in two namespaces: a staging area for
// uploads that are not yet bound to a product, and a committed area for images owned
// by a persisted product. Staged assets can be swept by age without touching
// committed ones.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors for asset operations.
var (
	// ErrAssetWrite is returned when an asset cannot be written or moved.
	ErrAssetWrite = errors.New("asset write failed")

	// ErrAssetNotFound is returned when a staged asset is missing at promotion time.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrInvalidAssetName is returned for names that could escape their namespace.
	ErrInvalidAssetName = errors.New("invalid asset name")
)

// StagedStore manages uploads prior to product association.
type StagedStore interface {
	// Stage writes content under a fresh collision-resistant name and returns it.
	Stage(ctx context.Context, r io.Reader, originalFilename string) (string, error)
	// Discard removes a staged asset. Removing an absent asset is not an error.
	Discard(ctx context.Context, stagedName string) error
	// Promote moves a staged asset into the committed namespace under committedName.
	// It returns ErrAssetNotFound when the staged asset does not exist.
	Promote(ctx context.Context, stagedName, committedName string) error
	// Sweep removes staged assets created before cutoff and returns their names.
	Sweep(ctx context.Context, cutoff time.Time) ([]string, error)
}

// CommittedStore manages assets owned by persisted products.
type CommittedStore interface {
	EnsureCommitted(ctx context.Context) error
	Has(ctx context.Context, committedName string) (bool, error)
	// Delete removes a committed asset. Removing an absent asset is not an error.
	Delete(ctx context.Context, committedName string) error
}

// AssetStore is both namespaces behind one backend.
type AssetStore interface {
	StagedStore
	CommittedStore
	Close() error
}
