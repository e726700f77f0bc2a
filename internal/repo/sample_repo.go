// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Sample
// model.
//
// The central rule here is overwrite-by-key: at most one sample is stored
// per (product, account) pair, and a newer reading replaces the older one.
// UpsertSample enforces it with an ON CONFLICT clause over the composite
// unique index.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-market-watch/internal/domain"
)

// UpsertSample stores a sample for its (product, account) pair, replacing
// any previous sample for the same pair. SampledAt is stamped here when the
// caller left it zero.
func UpsertSample(ctx context.Context, db *gorm.DB, s *domain.Sample) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SampledAt.IsZero() {
		s.SampledAt = time.Now().UTC()
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"spp", "dest", "price_basic", "price_current",
				"price_with_loyalty", "qty", "sampled_at",
			}),
		}).
		Create(s).Error
}

// ListSamplesByProduct returns all stored samples for one product, ordered
// by account id so consensus tie-breaking is deterministic.
func ListSamplesByProduct(ctx context.Context, db *gorm.DB, productID string) ([]domain.Sample, error) {
	var out []domain.Sample
	err := db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("account_id asc").
		Find(&out).Error
	return out, err
}

// ListAllSamples returns every stored sample across all products, ordered by
// product id then account id. The global consensus iterates this order.
func ListAllSamples(ctx context.Context, db *gorm.DB) ([]domain.Sample, error) {
	var out []domain.Sample
	err := db.WithContext(ctx).
		Order("product_id asc, account_id asc").
		Find(&out).Error
	return out, err
}

// CountSamples returns the total number of stored samples.
func CountSamples(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Sample{}).Count(&total).Error
	return total, err
}
