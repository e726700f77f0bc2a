// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Account
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an account is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateAccount inserts a new Account row with the given display name and
// phone. The account ID is a randomly generated UUID (string), and CreatedAt
// is set to UTC. The credential blob starts empty; a login flow fills it in.
func CreateAccount(ctx context.Context, db *gorm.DB, displayName, phone string) (*domain.Account, error) {
	a := &domain.Account{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Phone:       phone,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// GetAccount fetches a single account by ID, or ErrNotFound if missing.
func GetAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns all accounts in a fixed, deterministic order
// (creation time ascending, id as tie-breaker). The orchestrator relies on
// this ordering for its worklist.
func ListAccounts(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var out []domain.Account
	err := db.WithContext(ctx).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// ListCredentialedAccounts returns accounts that completed a login flow
// (non-empty credential blob), in the same deterministic order as
// ListAccounts.
func ListCredentialedAccounts(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var out []domain.Account
	err := db.WithContext(ctx).
		Where("credential_blob IS NOT NULL AND credential_blob <> ''").
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// UpdateAccountCredentials stores the opaque credential blob produced by a
// successful login flow. Returns ErrNotFound when no row was updated.
func UpdateAccountCredentials(ctx context.Context, db *gorm.DB, id, blob string) error {
	res := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{"credential_blob": blob, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateAccount applies the non-nil fields to an existing account. A nil
// proxyID leaves the assignment untouched; an empty string clears it.
func UpdateAccount(ctx context.Context, db *gorm.DB, id string, displayName, phone, proxyID *string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if displayName != nil {
		updates["display_name"] = *displayName
	}
	if phone != nil {
		updates["phone"] = *phone
	}
	if proxyID != nil {
		if *proxyID == "" {
			updates["proxy_id"] = nil
		} else {
			updates["proxy_id"] = *proxyID
		}
	}
	res := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAccount removes an account by ID. Returns ErrNotFound when the
// account does not exist. Samples taken through the account are kept; they
// age out through overwrite semantics on later runs.
func DeleteAccount(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Account{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
