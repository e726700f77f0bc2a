// Package services – SampleSource capability
//
// The concrete sampler (browser automation, HTTP client, whatever the
// marketplace tolerates this month) stays entirely behind this interface.
// The orchestrator only needs the success/failure contract: zero or one
// sample per invocation, slow, fallible, never retried within a pass.
package services

import (
	"context"

	"github.com/tbourn/go-market-watch/internal/domain"
)

// SampleRequest identifies one (product, account) sampling unit of work.
type SampleRequest struct {
	// ProductExternalID is the marketplace article id to read.
	ProductExternalID string

	// CredentialBlob is the account's opaque serialized session state.
	CredentialBlob string

	// Proxy is the account's assigned proxy, or nil to go direct.
	Proxy *domain.Proxy
}

// SampleResult carries one observed reading plus any product metadata the
// payload happened to expose.
type SampleResult struct {
	SPP              float64
	Dest             string
	PriceBasic       int
	PriceCurrent     int
	PriceWithLoyalty *int
	Qty              int

	// ProductName / ProductBrand are optional metadata from the payload.
	ProductName  string
	ProductBrand string
}

// SampleSource produces at most one price/availability reading per request.
// Implementations are expected to be slow (seconds) and occasionally wrong;
// failures are isolated per pair and retried naturally on the next scheduled
// run, never within the same pass.
type SampleSource interface {
	Sample(ctx context.Context, req SampleRequest) (*SampleResult, error)
}
