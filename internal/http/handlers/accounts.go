// Account HTTP handlers.
//
// This file exposes REST endpoints for marketplace accounts:
//   - POST   /accounts        (begin a login session, returns WebSocket URL)
//   - GET    /accounts        (list, paginated)
//   - GET    /accounts/{id}   (fetch one)
//   - PUT    /accounts/{id}   (update display name / phone / proxy)
//   - DELETE /accounts/{id}   (remove)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Account provisioning itself is
// asynchronous: POST only registers an auth session; the login flow starts
// when the client connects to the returned WebSocket URL.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/services"
	"github.com/tbourn/go-market-watch/internal/utils"
)

//
// Service contracts (context-aware)
//

// AccountService defines account read/update operations consumed by HTTP
// handlers. Implementations should be safe for concurrent use and must honor
// the provided context for cancellation and timeouts.
type AccountService interface {
	// List returns all accounts with their credential and proxy status.
	List(ctx context.Context) ([]services.AccountView, error)
	// Get returns one account by id.
	Get(ctx context.Context, id string) (*services.AccountView, error)
	// Update patches display name, phone, and/or proxy assignment.
	Update(ctx context.Context, id string, displayName, phone, proxyID *string) error
	// Delete removes an account and its samples.
	Delete(ctx context.Context, id string) error
}

// ProductService defines tracked-product operations consumed by HTTP handlers.
type ProductService interface {
	// Track registers a new product by its marketplace article id.
	Track(ctx context.Context, externalID string) (*domain.Product, error)
	// List returns all tracked products.
	List(ctx context.Context) ([]domain.Product, error)
	// Delete stops tracking a product.
	Delete(ctx context.Context, id string) error
	// Link returns the product's consensus record, by id or external id.
	Link(ctx context.Context, idOrExternalID string) (*domain.ConsensusRecord, error)
}

// ProxyService defines proxy pool operations consumed by HTTP handlers.
type ProxyService interface {
	Create(ctx context.Context, name, host string, port int, username, password string) (*domain.Proxy, error)
	List(ctx context.Context) ([]domain.Proxy, error)
	// ListAvailable returns only proxies currently marked active.
	ListAvailable(ctx context.Context) ([]domain.Proxy, error)
	Get(ctx context.Context, id string) (*domain.Proxy, error)
	// UpdateStatus flips a proxy's status; everything else is immutable.
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for accounts, products, proxies, consensus,
// and scrape control. It depends on abstract service interfaces where the
// operation set is plain CRUD, and on the concrete coordination types
// (registry, login flow, scheduler, aggregator) where the protocol is richer.
type Handlers struct {
	accounts AccountService
	products ProductService
	proxies  ProxyService

	registry *services.SessionRegistry
	login    *services.LoginService
	sched    *services.Scheduler
	agg      *services.ConsensusAggregator
}

// New constructs and returns a Handlers instance bound to the given services.
func New(
	accounts AccountService,
	products ProductService,
	proxies ProxyService,
	registry *services.SessionRegistry,
	login *services.LoginService,
	sched *services.Scheduler,
	agg *services.ConsensusAggregator,
) *Handlers {
	return &Handlers{
		accounts: accounts,
		products: products,
		proxies:  proxies,
		registry: registry,
		login:    login,
		sched:    sched,
		agg:      agg,
	}
}

//
// DTOs
//

// BeginLoginRequest is the JSON payload for starting an account login session.
type BeginLoginRequest struct {
	// Phone is the account's phone number, digits only, without country prefix.
	Phone string `json:"phone" binding:"required" example:"9991234567"`
	// DisplayName optionally names the account in listings.
	DisplayName string `json:"display_name" example:"warehouse-msk"`
}

// BeginLoginResponse points the client at the WebSocket channel that drives
// the rest of the login flow.
type BeginLoginResponse struct {
	SessionID    string `json:"session_id"`
	WebSocketURL string `json:"websocket_url"`
}

// UpdateAccountRequest is the JSON payload for patching an account. Absent
// fields are left untouched; an empty proxy_id clears the assignment.
type UpdateAccountRequest struct {
	DisplayName *string `json:"display_name"`
	Phone       *string `json:"phone"`
	ProxyID     *string `json:"proxy_id"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListAccountsResponse wraps a page of accounts and pagination information.
type ListAccountsResponse struct {
	Accounts   []services.AccountView `json:"accounts"`
	Pagination Pagination             `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginate slices items to the requested page and returns the pagination
// envelope. The tables behind these endpoints are small, so slicing in memory
// is fine.
func paginate[T any](items []T, page, pageSize int) ([]T, Pagination) {
	total := int64(len(items))
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))

	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	return items[start:end], Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// BeginLogin registers a new auth session for the given phone number and
// returns the WebSocket URL the client must connect to. The login automation
// does not start until that connection is made, so codes and status events
// are never dropped.
func (h *Handlers) BeginLogin(c *gin.Context) {
	var req BeginLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone required")
		return
	}

	sess := h.registry.Create(phone, strings.TrimSpace(req.DisplayName))
	ok(c, http.StatusCreated, BeginLoginResponse{
		SessionID:    sess.ID,
		WebSocketURL: "/ws/auth/" + sess.ID,
	})
}

// ListAccounts returns a page of accounts with credential and proxy status.
func (h *Handlers) ListAccounts(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, err := h.accounts.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	pageItems, meta := paginate(items, page, pageSize)
	ok(c, http.StatusOK, ListAccountsResponse{Accounts: pageItems, Pagination: meta})
}

// GetAccount returns one account by id.
func (h *Handlers) GetAccount(c *gin.Context) {
	view, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
		return
	}
	ok(c, http.StatusOK, view)
}

// UpdateAccount patches an account's display name, phone, or proxy assignment.
func (h *Handlers) UpdateAccount(c *gin.Context) {
	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	err := h.accounts.Update(c.Request.Context(), c.Param("id"), req.DisplayName, req.Phone, req.ProxyID)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrAccountNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
	case errors.Is(err, services.ErrProxyNotFound):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "proxy not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// DeleteAccount removes an account and its samples.
func (h *Handlers) DeleteAccount(c *gin.Context) {
	err := h.accounts.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrAccountNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
