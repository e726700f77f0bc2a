// Package domain defines the persistence models for marketplace accounts,
// proxies, tracked products, price samples, and consensus records. These
// types are mapped with GORM and form the core data layer of the price-watch
// application.
package domain

import (
	"time"
)

// GlobalConsensusID is the pseudo product id under which the cross-product
// consensus record is stored.
const GlobalConsensusID = "GLOBAL"

// Account represents a provisioned marketplace account. The credential blob
// is opaque serialized session material (cookies) produced by a successful
// login flow; it is absent until the flow completes.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - DisplayName: human label distinguishing accounts.
//   - Phone: login phone number, digits only.
//   - CredentialBlob: opaque serialized session state (nil until login).
//   - ProxyID: weak reference to an assigned proxy; the proxy may be deleted
//     independently, in which case lookups resolve to "no proxy".
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Account struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	DisplayName    string    `json:"display_name"     gorm:"type:varchar(255);not null"`
	Phone          string    `json:"phone"            gorm:"type:varchar(32);not null"`
	CredentialBlob *string   `json:"-"                gorm:"type:text"`
	ProxyID        *string   `json:"proxy_id,omitempty" gorm:"type:char(36);index"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }

// HasCredentials reports whether the account completed a login flow and can
// be used for sampling.
func (a Account) HasCredentials() bool {
	return a.CredentialBlob != nil && *a.CredentialBlob != ""
}

// Proxy is an outbound network proxy definition. Referenced by accounts via
// a weak ProxyID reference; only Status is expected to change after creation.
type Proxy struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;uniqueIndex:ux_proxies_name"`
	Host      string    `json:"host"       gorm:"type:varchar(255);not null"`
	Port      int       `json:"port"       gorm:"not null"`
	Username  string    `json:"username,omitempty" gorm:"type:varchar(255)"`
	Password  string    `json:"-"          gorm:"type:varchar(255)"`
	Status    string    `json:"status"     gorm:"type:varchar(32);not null;default:'active'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Proxy.
func (Proxy) TableName() string { return "proxies" }

// Proxy statuses. Only active proxies are eligible for sampling traffic.
const (
	ProxyStatusActive   = "active"
	ProxyStatusDisabled = "disabled"
)

// Product is a tracked marketplace identifier to sample.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ExternalID: marketplace article id, unique across tracked products.
//   - Name / Brand: optional metadata filled in from sampled payloads.
type Product struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ExternalID string    `json:"external_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_products_external_id"`
	Name       string    `json:"name,omitempty"  gorm:"type:varchar(255)"`
	Brand      string    `json:"brand,omitempty" gorm:"type:varchar(255)"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// Sample is one observed price/availability reading for a product via one
// account. At most one sample is stored per (product, account) pair: a newer
// reading overwrites the older one, freshness over history.
//
// Prices are stored in minor currency units as reported by the marketplace.
// PriceWithLoyalty carries the loyalty-program price when the payload
// exposed one.
type Sample struct {
	ID               string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ProductID        string    `json:"product_id" gorm:"type:char(36);not null;uniqueIndex:ux_samples_product_account,priority:1"`
	AccountID        string    `json:"account_id" gorm:"type:char(36);not null;uniqueIndex:ux_samples_product_account,priority:2;index"`
	SPP              float64   `json:"spp"        gorm:"not null"`
	Dest             string    `json:"dest"       gorm:"type:varchar(64);not null"`
	PriceBasic       int       `json:"price_basic"   gorm:"not null"`
	PriceCurrent     int       `json:"price_current" gorm:"not null"`
	PriceWithLoyalty *int      `json:"price_with_loyalty,omitempty"`
	Qty              int       `json:"qty"        gorm:"not null"`
	SampledAt        time.Time `json:"sampled_at"`

	// Product is the sampled product. Samples are cascade-deleted when the
	// product is removed.
	Product Product `json:"-" gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Sample.
func (Sample) TableName() string { return "samples" }

// LoyaltyDiscountPct returns the discount percentage implied by the loyalty
// price relative to the current price, and whether one is present.
func (s Sample) LoyaltyDiscountPct() (float64, bool) {
	if s.PriceWithLoyalty == nil || s.PriceCurrent <= 0 {
		return 0, false
	}
	return 100 * float64(s.PriceCurrent-*s.PriceWithLoyalty) / float64(s.PriceCurrent), true
}

// ConsensusRecord is the derived, recomputed reduction of all samples for one
// product (or for all products under GlobalConsensusID). Never hand-edited.
type ConsensusRecord struct {
	ProductID    string    `json:"product_id"    gorm:"type:char(36);primaryKey"`
	SPP          float64   `json:"spp"           gorm:"not null"`
	Dest         string    `json:"dest"          gorm:"type:varchar(64);not null"`
	GeneratedURL string    `json:"generated_url" gorm:"type:text;not null"`
	SampleCount  int       `json:"sample_count"  gorm:"not null"`
	ComputedAt   time.Time `json:"computed_at"`
}

// TableName returns the database table name for ConsensusRecord.
func (ConsensusRecord) TableName() string { return "consensus_records" }
