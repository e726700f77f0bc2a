// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the derived
// ConsensusRecord model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-market-watch/internal/domain"
)

// SaveConsensus stores (or replaces) the consensus record for its product
// scope. Records are keyed by product id, with domain.GlobalConsensusID
// reserved for the cross-product reduction.
func SaveConsensus(ctx context.Context, db *gorm.DB, rec *domain.ConsensusRecord) error {
	if rec.ComputedAt.IsZero() {
		rec.ComputedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"spp", "dest", "generated_url", "sample_count", "computed_at",
			}),
		}).
		Create(rec).Error
}

// GetConsensus fetches the stored consensus record for a product scope, or
// ErrNotFound when none has been computed yet.
func GetConsensus(ctx context.Context, db *gorm.DB, productID string) (*domain.ConsensusRecord, error) {
	var rec domain.ConsensusRecord
	if err := db.WithContext(ctx).Where("product_id = ?", productID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
