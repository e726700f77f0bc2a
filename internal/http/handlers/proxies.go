// Proxy HTTP handlers.
//
// This file exposes REST endpoints for the proxy pool:
//   - POST   /proxies              (register)
//   - GET    /proxies              (list, paginated)
//   - GET    /proxies/available    (active proxies only)
//   - GET    /proxies/{id}         (fetch one)
//   - PATCH  /proxies/{id}/status  (enable/disable; everything else is immutable)
//   - DELETE /proxies/{id}         (remove; accounts keep working proxy-less)
//
// Proxy passwords never appear in responses; the domain model excludes the
// field from JSON serialization.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/services"
)

// CreateProxyRequest is the JSON payload for registering a proxy.
type CreateProxyRequest struct {
	Name     string `json:"name" binding:"required" example:"dc-msk-1"`
	Host     string `json:"host" binding:"required" example:"10.0.4.17"`
	Port     int    `json:"port" binding:"required" example:"8080"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// UpdateProxyStatusRequest is the JSON payload for flipping a proxy's status.
type UpdateProxyStatusRequest struct {
	Status string `json:"status" binding:"required" example:"disabled"`
}

// ListProxiesResponse wraps a page of proxies and pagination information.
type ListProxiesResponse struct {
	Proxies    []domain.Proxy `json:"proxies"`
	Pagination Pagination     `json:"pagination"`
}

// CreateProxy registers a new proxy. Names must be unique.
func (h *Handlers) CreateProxy(c *gin.Context) {
	var req CreateProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Host) == "" || req.Port <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name, host and port required")
		return
	}

	p, err := h.proxies.Create(c.Request.Context(), req.Name, req.Host, req.Port, req.Username, req.Password)
	switch {
	case err == nil:
		ok(c, http.StatusCreated, p)
	case errors.Is(err, services.ErrDuplicateProxy):
		fail(c, http.StatusConflict, ErrCodeConflict, "proxy name already in use")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
	}
}

// ListProxies returns a page of registered proxies.
func (h *Handlers) ListProxies(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, err := h.proxies.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	pageItems, meta := paginate(items, page, pageSize)
	ok(c, http.StatusOK, ListProxiesResponse{Proxies: pageItems, Pagination: meta})
}

// ListAvailableProxies returns the active subset of the pool, unpaginated;
// callers use it to pick a proxy for an account.
func (h *Handlers) ListAvailableProxies(c *gin.Context) {
	items, err := h.proxies.ListAvailable(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"proxies": items})
}

// UpdateProxyStatus flips a proxy between active and disabled. Disabled
// proxies drop out of the available list but keep their account references.
func (h *Handlers) UpdateProxyStatus(c *gin.Context) {
	var req UpdateProxyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	err := h.proxies.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrProxyStatusInvalid):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must not be empty")
	case errors.Is(err, services.ErrProxyNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "proxy not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// GetProxy returns one proxy by id.
func (h *Handlers) GetProxy(c *gin.Context) {
	p, err := h.proxies.Get(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		ok(c, http.StatusOK, p)
	case errors.Is(err, services.ErrProxyNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "proxy not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// DeleteProxy removes a proxy from the pool.
func (h *Handlers) DeleteProxy(c *gin.Context) {
	err := h.proxies.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrProxyNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "proxy not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
