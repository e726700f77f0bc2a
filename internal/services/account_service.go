// Package services – AccountService
//
// CRUD operations over provisioned accounts. Provisioning itself goes
// through the login flow; this service covers listing, inspection, proxy
// assignment, and removal. Proxy references are weak: resolution of a
// deleted proxy yields "no proxy", never an error.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/repo"
)

// AccountView is an account enriched with its resolved proxy name and a
// credential presence flag; credential material itself never leaves the
// service layer.
type AccountView struct {
	domain.Account
	HasCredentials bool    `json:"has_credentials"`
	ProxyName      *string `json:"proxy_name,omitempty"`
}

// AccountService provides account-level operations.
type AccountService struct {
	DB *gorm.DB
}

// List returns all accounts with proxy names resolved.
func (s *AccountService) List(ctx context.Context) ([]AccountView, error) {
	accounts, err := repo.ListAccounts(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, s.view(ctx, a))
	}
	return out, nil
}

// Get returns one account by id, or ErrAccountNotFound.
func (s *AccountService) Get(ctx context.Context, id string) (*AccountView, error) {
	a, err := repo.GetAccount(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	v := s.view(ctx, *a)
	return &v, nil
}

// Update applies display-name/phone/proxy changes. A proxy assignment is
// validated against the proxy store; clearing it (empty string) is always
// allowed.
func (s *AccountService) Update(ctx context.Context, id string, displayName, phone, proxyID *string) error {
	if displayName != nil && strings.TrimSpace(*displayName) == "" {
		displayName = nil
	}
	if phone != nil && strings.TrimSpace(*phone) == "" {
		phone = nil
	}
	if proxyID != nil && *proxyID != "" {
		if _, err := repo.GetProxy(ctx, s.DB, *proxyID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrProxyNotFound
			}
			return err
		}
	}
	if err := repo.UpdateAccount(ctx, s.DB, id, displayName, phone, proxyID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}

// Delete removes an account.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	if err := repo.DeleteAccount(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}

// view resolves the weak proxy reference for one account. A dangling
// reference shows as no proxy.
func (s *AccountService) view(ctx context.Context, a domain.Account) AccountView {
	v := AccountView{Account: a, HasCredentials: a.HasCredentials()}
	if a.ProxyID != nil && *a.ProxyID != "" {
		if proxy, err := repo.GetProxy(ctx, s.DB, *a.ProxyID); err == nil {
			v.ProxyName = &proxy.Name
		}
	}
	return v
}
