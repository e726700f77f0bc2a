// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Product
// model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/domain"
)

// CreateProduct inserts a new tracked product identified by its marketplace
// external id. The unique index on external_id rejects duplicates; callers
// should check for an existing row first to return a friendly error.
func CreateProduct(ctx context.Context, db *gorm.DB, externalID string) (*domain.Product, error) {
	p := &domain.Product{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetProduct fetches a single product by ID, or ErrNotFound if missing.
func GetProduct(ctx context.Context, db *gorm.DB, id string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductByExternalID fetches a product by its marketplace external id.
func GetProductByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns all tracked products in a fixed, deterministic order
// (creation time ascending, id as tie-breaker). The orchestrator's worklist
// iteration order depends on it.
func ListProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var out []domain.Product
	err := db.WithContext(ctx).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// UpdateProductMeta fills in the name/brand metadata observed in a sampled
// payload. Blank values are ignored so partial payloads never erase data.
func UpdateProductMeta(ctx context.Context, db *gorm.DB, id, name, brand string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if name != "" {
		updates["name"] = name
	}
	if brand != "" {
		updates["brand"] = brand
	}
	return db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// DeleteProduct removes a product by ID together with its samples (cascade).
// Returns ErrNotFound when the product does not exist.
func DeleteProduct(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Product{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
