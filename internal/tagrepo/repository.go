// Package tagrepo provides database persistence for written snapshots, so a
// host process can query which snapshots exist for a given PID without
// re-reading every file off of tagsink.
package tagrepo

import (
	"context"
	"time"
)

// SnapshotRecord is one row describing a written snapshot document.
type SnapshotRecord struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	PID             int       `gorm:"index" json:"pid"`
	WallClock       time.Time `json:"wall_clock"`
	Format          string    `json:"format"` // "json" or "dot"
	PathOrKey       string    `json:"path_or_key"`
	GrandTotalBytes uint64    `json:"grand_total_bytes"`
	TreeCount       int       `json:"tree_count"`
}

// TableName pins the GORM table name so renaming the Go type doesn't
// silently migrate the schema.
func (SnapshotRecord) TableName() string {
	return "mtag_snapshots"
}

// SnapshotRepository persists and queries SnapshotRecords.
type SnapshotRepository interface {
	// Save inserts a new snapshot record.
	Save(ctx context.Context, rec *SnapshotRecord) error

	// ListByPID returns the snapshot records for a PID, most recent first.
	ListByPID(ctx context.Context, pid int, limit int) ([]*SnapshotRecord, error)

	// Latest returns the most recently saved record for a PID, or nil if
	// none exists.
	Latest(ctx context.Context, pid int) (*SnapshotRecord, error)

	// DeleteOlderThan removes records whose WallClock precedes cutoff,
	// returning the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
