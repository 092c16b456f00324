package store

import (
	"context"
	"time"

	"github.com/hubkit/hubkit/pkg/ratelimit"
)

// Store defines the interface for snapshot history persistence.
type Store interface {
	// Lifecycle.
	Start(ctx context.Context) error
	Stop() error

	// Snapshots.
	RecordSnapshot(ctx context.Context, record *SnapshotRecord) error
	LatestSnapshot(ctx context.Context, resource string) (*SnapshotRecord, error)
	ListSnapshots(ctx context.Context, opts ListOpts) ([]*SnapshotRecord, error)
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Migrations.
	Migrate(ctx context.Context) error
}

// SnapshotRecord is one persisted quota observation.
type SnapshotRecord struct {
	ID         string    `json:"id"`
	Resource   string    `json:"resource"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	Used       int       `json:"used"`
	ResetAt    time.Time `json:"reset_at"`
	ObservedAt time.Time `json:"observed_at"`
}

// ListOpts contains options for querying snapshot history.
type ListOpts struct {
	Resource string
	Since    *time.Time
	Limit    int
}

// FromSnapshot builds a record from a coordinator snapshot.
func FromSnapshot(snap ratelimit.Snapshot, observedAt time.Time) *SnapshotRecord {
	return &SnapshotRecord{
		Resource:   snap.Resource,
		Limit:      snap.Limit,
		Remaining:  snap.Remaining,
		Used:       snap.Used,
		ResetAt:    snap.ResetAt,
		ObservedAt: observedAt,
	}
}
