// Product HTTP handlers.
//
// This file exposes REST endpoints for tracked products and their consensus
// output:
//   - POST   /products            (track a new article)
//   - GET    /products            (list, paginated)
//   - GET    /products/{id}/link  (consensus link; 404 until data exists)
//   - DELETE /products/{id}       (stop tracking)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/services"
)

// TrackProductRequest is the JSON payload for tracking a product.
type TrackProductRequest struct {
	// ExternalID is the marketplace article id.
	ExternalID string `json:"external_id" binding:"required" example:"221312891"`
}

// ListProductsResponse wraps a page of products and pagination information.
type ListProductsResponse struct {
	Products   []domain.Product `json:"products"`
	Pagination Pagination       `json:"pagination"`
}

// TrackProduct registers a new article for sampling. The product's name and
// brand stay empty until the first successful sample fills them in.
func (h *Handlers) TrackProduct(c *gin.Context) {
	var req TrackProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "external_id required")
		return
	}

	p, err := h.products.Track(c.Request.Context(), externalID)
	switch {
	case err == nil:
		ok(c, http.StatusCreated, p)
	case errors.Is(err, services.ErrDuplicateProduct):
		fail(c, http.StatusConflict, ErrCodeConflict, "product already tracked")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
	}
}

// ListProducts returns a page of tracked products.
func (h *Handlers) ListProducts(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, err := h.products.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	pageItems, meta := paginate(items, page, pageSize)
	ok(c, http.StatusOK, ListProductsResponse{Products: pageItems, Pagination: meta})
}

// ProductLink returns the consensus record for one product, looked up by
// internal id or marketplace article id. Products with no samples yet return
// 404 with the no_data code rather than an empty record.
func (h *Handlers) ProductLink(c *gin.Context) {
	rec, err := h.products.Link(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		ok(c, http.StatusOK, rec)
	case errors.Is(err, services.ErrProductNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
	case errors.Is(err, services.ErrNoSamples):
		fail(c, http.StatusNotFound, ErrCodeNoData, "product has no consensus data yet")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// DeleteProduct stops tracking a product and drops its samples.
func (h *Handlers) DeleteProduct(c *gin.Context) {
	err := h.products.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrProductNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
