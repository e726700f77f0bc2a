// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Proxy
// model.
//
// Proxies are weakly referenced by accounts: deleting a proxy leaves the
// referencing accounts untouched, and later lookups simply resolve to
// "no proxy".
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/domain"
)

// CreateProxy inserts a new proxy definition with status "active".
func CreateProxy(ctx context.Context, db *gorm.DB, name, host string, port int, username, password string) (*domain.Proxy, error) {
	p := &domain.Proxy{
		ID:        uuid.NewString(),
		Name:      name,
		Host:      host,
		Port:      port,
		Username:  username,
		Password:  password,
		Status:    domain.ProxyStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetProxy fetches a single proxy by ID, or ErrNotFound if missing.
func GetProxy(ctx context.Context, db *gorm.DB, id string) (*domain.Proxy, error) {
	var p domain.Proxy
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProxyByName fetches a proxy by its unique name.
func GetProxyByName(ctx context.Context, db *gorm.DB, name string) (*domain.Proxy, error) {
	var p domain.Proxy
	if err := db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProxies returns all proxies ordered by creation time ascending.
func ListProxies(ctx context.Context, db *gorm.DB) ([]domain.Proxy, error) {
	var out []domain.Proxy
	err := db.WithContext(ctx).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// ListProxiesByStatus returns proxies with the given status, ordered by
// creation time ascending.
func ListProxiesByStatus(ctx context.Context, db *gorm.DB, status string) ([]domain.Proxy, error) {
	var out []domain.Proxy
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// UpdateProxyStatus changes the status field only; everything else is
// immutable after creation. Returns ErrNotFound when no row was updated.
func UpdateProxyStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Proxy{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteProxy removes a proxy by ID. Accounts referencing it keep their
// ProxyID; resolution treats the dangling reference as "no proxy".
func DeleteProxy(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Proxy{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
