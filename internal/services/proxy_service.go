// Package services – ProxyService
//
// Proxy CRUD with unique-name enforcement. Deleting a proxy never touches
// accounts that reference it; their weak references simply stop resolving.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/repo"
)

// ProxyService provides proxy-level operations.
type ProxyService struct {
	DB *gorm.DB
}

// Create registers a new proxy definition. Names must be unique.
func (s *ProxyService) Create(ctx context.Context, name, host string, port int, username, password string) (*domain.Proxy, error) {
	name = strings.TrimSpace(name)
	if _, err := repo.GetProxyByName(ctx, s.DB, name); err == nil {
		return nil, ErrDuplicateProxy
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return repo.CreateProxy(ctx, s.DB, name, host, port, username, password)
}

// List returns all proxies.
func (s *ProxyService) List(ctx context.Context) ([]domain.Proxy, error) {
	return repo.ListProxies(ctx, s.DB)
}

// Get returns one proxy by id, or ErrProxyNotFound.
func (s *ProxyService) Get(ctx context.Context, id string) (*domain.Proxy, error) {
	p, err := repo.GetProxy(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrProxyNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListAvailable returns only proxies currently marked active, the subset the
// sampling loop is allowed to route through.
func (s *ProxyService) ListAvailable(ctx context.Context) ([]domain.Proxy, error) {
	return repo.ListProxiesByStatus(ctx, s.DB, domain.ProxyStatusActive)
}

// UpdateStatus flips a proxy's status; everything else is immutable.
func (s *ProxyService) UpdateStatus(ctx context.Context, id, status string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return ErrProxyStatusInvalid
	}
	if err := repo.UpdateProxyStatus(ctx, s.DB, id, status); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrProxyNotFound
		}
		return err
	}
	return nil
}

// Delete removes a proxy. Accounts referencing it keep working proxy-less.
func (s *ProxyService) Delete(ctx context.Context, id string) error {
	if err := repo.DeleteProxy(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrProxyNotFound
		}
		return err
	}
	return nil
}
