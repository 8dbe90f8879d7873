package tagrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormSnapshotRepository implements SnapshotRepository using GORM.
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GormSnapshotRepository.
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

func (r *GormSnapshotRepository) Save(ctx context.Context, rec *SnapshotRecord) error {
	if rec.WallClock.IsZero() {
		rec.WallClock = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("tagrepo: save snapshot record: %w", err)
	}
	return nil
}

func (r *GormSnapshotRepository) ListByPID(ctx context.Context, pid int, limit int) ([]*SnapshotRecord, error) {
	var recs []*SnapshotRecord
	err := r.db.WithContext(ctx).
		Where("pid = ?", pid).
		Order("wall_clock DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("tagrepo: list snapshots for pid %d: %w", pid, err)
	}
	return recs, nil
}

func (r *GormSnapshotRepository) Latest(ctx context.Context, pid int) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	err := r.db.WithContext(ctx).
		Where("pid = ?", pid).
		Order("wall_clock DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("tagrepo: latest snapshot for pid %d: %w", pid, err)
	}
	return &rec, nil
}

func (r *GormSnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("wall_clock < ?", cutoff).
		Delete(&SnapshotRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("tagrepo: delete older than %s: %w", cutoff, result.Error)
	}
	return result.RowsAffected, nil
}
