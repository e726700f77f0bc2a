// Package services – ProductService
//
// Tracked-product CRUD plus consensus lookups. Consensus reads go against
// the stored, recomputed records; an absent record is a "not ready yet"
// condition (ErrNoSamples), not a server failure.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/repo"
)

// ProductService provides product-level operations.
type ProductService struct {
	DB *gorm.DB
}

// Track registers a new product by its marketplace external id.
func (s *ProductService) Track(ctx context.Context, externalID string) (*domain.Product, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrProductNotFound
	}
	if _, err := repo.GetProductByExternalID(ctx, s.DB, externalID); err == nil {
		return nil, ErrDuplicateProduct
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return repo.CreateProduct(ctx, s.DB, externalID)
}

// List returns all tracked products in store order.
func (s *ProductService) List(ctx context.Context) ([]domain.Product, error) {
	return repo.ListProducts(ctx, s.DB)
}

// Delete stops tracking a product, dropping its samples with it.
func (s *ProductService) Delete(ctx context.Context, id string) error {
	if err := repo.DeleteProduct(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrProductNotFound
		}
		return err
	}
	return nil
}

// Link returns the stored consensus record for a product, keyed by either
// the product id or its external id. ErrProductNotFound when the product is
// unknown; ErrNoSamples when no consensus has been computed yet.
func (s *ProductService) Link(ctx context.Context, idOrExternalID string) (*domain.ConsensusRecord, error) {
	p, err := repo.GetProduct(ctx, s.DB, idOrExternalID)
	if errors.Is(err, repo.ErrNotFound) {
		p, err = repo.GetProductByExternalID(ctx, s.DB, idOrExternalID)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	rec, err := repo.GetConsensus(ctx, s.DB, p.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoSamples
		}
		return nil, err
	}
	return rec, nil
}
