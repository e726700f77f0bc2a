// Package services – ConsensusAggregator
//
// Reduces the stored samples for one product (or for all products) into a
// single recommended (spp, dest) pair and a generated card-API link. SPP
// values are bucketed by flooring to the nearest multiple of ten to absorb
// server-side jitter; the most frequent bucket wins, ties broken by the
// first-seen bucket in sample order. Dest is reduced the same way over raw
// values.
package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/repo"
)

// AccountLoyalty reports the mean loyalty-price discount observed through
// one account across all its samples. Avg is nil when none of the account's
// samples carried a loyalty price.
type AccountLoyalty struct {
	AccountID string   `json:"account_id"`
	Avg       *float64 `json:"avg_loyalty_discount_pct,omitempty"`
	Samples   int      `json:"samples"`
}

// GlobalConsensus is the cross-product reduction plus per-account loyalty
// statistics, sorted by average discount descending with unset averages
// last.
type GlobalConsensus struct {
	Record   domain.ConsensusRecord `json:"record"`
	Accounts []AccountLoyalty       `json:"accounts"`
}

// ConsensusAggregator recomputes consensus records from stored samples.
type ConsensusAggregator struct {
	DB *gorm.DB

	// CardAPIBaseURL anchors generated links, e.g. the marketplace's
	// card detail endpoint.
	CardAPIBaseURL string

	Log zerolog.Logger
}

// NewConsensusAggregator constructs an aggregator over db.
func NewConsensusAggregator(db *gorm.DB, cardAPIBaseURL string, log zerolog.Logger) *ConsensusAggregator {
	return &ConsensusAggregator{
		DB:             db,
		CardAPIBaseURL: cardAPIBaseURL,
		Log:            log.With().Str("component", "consensus").Logger(),
	}
}

// bucketSPP floors an spp reading to its ten-wide bucket: 43.93 -> 40,
// 53.76 -> 50.
func bucketSPP(spp float64) float64 {
	return math.Floor(spp/10) * 10
}

// mostCommon returns the most frequent value produced by key over samples,
// breaking ties in favor of the value seen first.
func mostCommon(samples []domain.Sample, key func(domain.Sample) string) string {
	counts := make(map[string]int, len(samples))
	var order []string
	for _, s := range samples {
		k := key(s)
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}
	best := ""
	bestN := 0
	for _, k := range order {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

// reduce computes the winning spp bucket and dest over samples. Samples must
// be non-empty.
func reduce(samples []domain.Sample) (spp float64, dest string) {
	bucketOf := make(map[string]float64, len(samples))
	sppKey := mostCommon(samples, func(s domain.Sample) string {
		b := bucketSPP(s.SPP)
		k := fmt.Sprintf("%g", b)
		bucketOf[k] = b
		return k
	})
	dest = mostCommon(samples, func(s domain.Sample) string { return s.Dest })
	return bucketOf[sppKey], dest
}

// buildCardURL renders the canonical card-API link for a product with the
// consensus parameters baked in.
func (a *ConsensusAggregator) buildCardURL(externalID string, spp float64, dest string) string {
	return fmt.Sprintf(
		"%s?appType=1&curr=rub&dest=%s&spp=%d&hide_dtype=11&ab_testing=false&lang=ru&nm=%s",
		a.CardAPIBaseURL, dest, int(spp), externalID,
	)
}

// RecomputeProduct rebuilds and stores the consensus record for one product
// from its current samples. Zero samples yields ErrNoSamples and leaves any
// previous record in place.
func (a *ConsensusAggregator) RecomputeProduct(ctx context.Context, product domain.Product) (*domain.ConsensusRecord, error) {
	samples, err := repo.ListSamplesByProduct(ctx, a.DB, product.ID)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	spp, dest := reduce(samples)
	rec := &domain.ConsensusRecord{
		ProductID:    product.ID,
		SPP:          spp,
		Dest:         dest,
		GeneratedURL: a.buildCardURL(product.ExternalID, spp, dest),
		SampleCount:  len(samples),
		ComputedAt:   time.Now().UTC(),
	}
	if err := repo.SaveConsensus(ctx, a.DB, rec); err != nil {
		return nil, err
	}
	a.Log.Info().
		Str("product_id", product.ID).
		Float64("spp", spp).
		Str("dest", dest).
		Int("samples", len(samples)).
		Msg("consensus updated")
	return rec, nil
}

// RecomputeGlobal rebuilds the cross-product consensus from the union of all
// samples, anchored at an arbitrary tracked product's external id, and adds
// per-account loyalty discount averages. Zero samples anywhere yields
// ErrNoSamples, never an empty-but-successful record.
func (a *ConsensusAggregator) RecomputeGlobal(ctx context.Context) (*GlobalConsensus, error) {
	samples, err := repo.ListAllSamples(ctx, a.DB)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	products, err := repo.ListProducts(ctx, a.DB)
	if err != nil {
		return nil, err
	}
	anchor := ""
	if len(products) > 0 {
		anchor = products[0].ExternalID
	}

	spp, dest := reduce(samples)
	rec := domain.ConsensusRecord{
		ProductID:    domain.GlobalConsensusID,
		SPP:          spp,
		Dest:         dest,
		GeneratedURL: a.buildCardURL(anchor, spp, dest),
		SampleCount:  len(samples),
		ComputedAt:   time.Now().UTC(),
	}
	if err := repo.SaveConsensus(ctx, a.DB, &rec); err != nil {
		return nil, err
	}

	return &GlobalConsensus{
		Record:   rec,
		Accounts: loyaltyByAccount(samples),
	}, nil
}

// loyaltyByAccount averages the loyalty discount percentage per account over
// the samples that carried one, sorted descending with unset averages last.
func loyaltyByAccount(samples []domain.Sample) []AccountLoyalty {
	type agg struct {
		sum   float64
		withL int
		total int
	}
	byAccount := make(map[string]*agg)
	var order []string
	for _, s := range samples {
		st, ok := byAccount[s.AccountID]
		if !ok {
			st = &agg{}
			byAccount[s.AccountID] = st
			order = append(order, s.AccountID)
		}
		st.total++
		if pct, ok := s.LoyaltyDiscountPct(); ok {
			st.sum += pct
			st.withL++
		}
	}

	out := make([]AccountLoyalty, 0, len(order))
	for _, id := range order {
		st := byAccount[id]
		al := AccountLoyalty{AccountID: id, Samples: st.total}
		if st.withL > 0 {
			avg := st.sum / float64(st.withL)
			al.Avg = &avg
		}
		out = append(out, al)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Avg, out[j].Avg
		switch {
		case a != nil && b != nil:
			return *a > *b
		case a != nil:
			return true
		default:
			return false
		}
	})
	return out
}
