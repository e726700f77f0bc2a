// Package services – ScrapeOrchestrator
//
// This file fans the product x account cross product across one
// sequential run: it resolves each account's proxy up front, invokes the
// SampleSource per pair with fixed pacing, persists every successful sample
// with overwrite semantics, and recomputes consensus for every product
// touched. One pair's failure never aborts the batch.
//
// Execution is strictly sequential. The target rate-limits and blocks
// concurrent automation, so concurrency would mostly trigger CAPTCHAs
// rather than speed the batch up.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/repo"
)

// workItem is one (product, account) pair of the run's worklist. Keeping
// the worklist explicit (rather than nested loops) lets pacing, fault
// isolation, and a future per-proxy concurrency layer evolve independently.
type workItem struct {
	product domain.Product
	account domain.Account
}

// ScrapeOrchestrator executes full sampling passes over all tracked
// products and provisioned accounts.
type ScrapeOrchestrator struct {
	DB         *gorm.DB
	Source     SampleSource
	Aggregator *ConsensusAggregator

	// Pacing is the fixed delay inserted between successive SampleSource
	// invocations. Tunable, not adaptive.
	Pacing time.Duration

	Log zerolog.Logger

	mu sync.Mutex
}

// NewScrapeOrchestrator constructs an orchestrator.
func NewScrapeOrchestrator(db *gorm.DB, source SampleSource, agg *ConsensusAggregator, pacing time.Duration, log zerolog.Logger) *ScrapeOrchestrator {
	return &ScrapeOrchestrator{
		DB:         db,
		Source:     source,
		Aggregator: agg,
		Pacing:     pacing,
		Log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes one full sampling pass and returns the number of successful
// samples. Concurrent callers serialize: a second Run waits for the first
// to finish rather than interleaving.
func (o *ScrapeOrchestrator) Run(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx)
}

// TryRun executes a pass unless one is already in flight, in which case it
// reports started=false without waiting. The scheduler uses it to skip,
// not queue, overlapping ticks.
func (o *ScrapeOrchestrator) TryRun(ctx context.Context) (count int, started bool, err error) {
	if !o.mu.TryLock() {
		return 0, false, nil
	}
	defer o.mu.Unlock()
	count, err = o.run(ctx)
	return count, true, err
}

func (o *ScrapeOrchestrator) run(ctx context.Context) (int, error) {
	products, err := repo.ListProducts(ctx, o.DB)
	if err != nil {
		return 0, err
	}
	accounts, err := repo.ListCredentialedAccounts(ctx, o.DB)
	if err != nil {
		return 0, err
	}
	if len(products) == 0 || len(accounts) == 0 {
		o.Log.Warn().
			Int("products", len(products)).
			Int("accounts", len(accounts)).
			Msg("nothing to sample")
		return 0, nil
	}

	proxies := o.resolveProxies(ctx, accounts)
	worklist := buildWorklist(products, accounts)

	o.Log.Info().
		Int("products", len(products)).
		Int("accounts", len(accounts)).
		Int("pairs", len(worklist)).
		Msg("starting sampling pass")

	total := 0
	for i, item := range worklist {
		if i > 0 {
			// Fixed pacing between invocations keeps the target's
			// anti-automation defenses quiet.
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(o.Pacing):
			}
		}
		if o.samplePair(ctx, item, proxies[item.account.ID]) {
			total++
		}
	}

	o.recomputeConsensus(ctx, products)

	o.Log.Info().Int("samples", total).Msg("sampling pass finished")
	return total, nil
}

// resolveProxies looks each account's proxy up once per run. A dangling
// proxy reference resolves to nil: the account proceeds proxy-less instead
// of aborting.
func (o *ScrapeOrchestrator) resolveProxies(ctx context.Context, accounts []domain.Account) map[string]*domain.Proxy {
	out := make(map[string]*domain.Proxy, len(accounts))
	for _, acct := range accounts {
		if acct.ProxyID == nil || *acct.ProxyID == "" {
			continue
		}
		proxy, err := repo.GetProxy(ctx, o.DB, *acct.ProxyID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				o.Log.Warn().
					Str("account_id", acct.ID).
					Str("proxy_id", *acct.ProxyID).
					Msg("assigned proxy no longer exists, sampling without proxy")
				continue
			}
			o.Log.Error().Err(err).Str("account_id", acct.ID).Msg("proxy lookup failed")
			continue
		}
		out[acct.ID] = proxy
	}
	return out
}

// buildWorklist materializes the fixed iteration plan: products outer,
// accounts inner, both already in deterministic store order.
func buildWorklist(products []domain.Product, accounts []domain.Account) []workItem {
	items := make([]workItem, 0, len(products)*len(accounts))
	for _, p := range products {
		for _, a := range accounts {
			items = append(items, workItem{product: p, account: a})
		}
	}
	return items
}

// samplePair attempts one (product, account) pair and reports success. All
// failures are logged and swallowed here; nothing a single pair does can
// abort the batch.
func (o *ScrapeOrchestrator) samplePair(ctx context.Context, item workItem, proxy *domain.Proxy) bool {
	log := o.Log.With().
		Str("product", item.product.ExternalID).
		Str("account_id", item.account.ID).
		Logger()

	var blob string
	if item.account.CredentialBlob != nil {
		blob = *item.account.CredentialBlob
	}
	res, err := o.Source.Sample(ctx, SampleRequest{
		ProductExternalID: item.product.ExternalID,
		CredentialBlob:    blob,
		Proxy:             proxy,
	})
	if err != nil {
		log.Warn().Err(err).Msg("sampling failed, continuing")
		return false
	}
	if res == nil {
		log.Warn().Msg("sampler produced no reading, continuing")
		return false
	}

	sample := &domain.Sample{
		ProductID:        item.product.ID,
		AccountID:        item.account.ID,
		SPP:              res.SPP,
		Dest:             res.Dest,
		PriceBasic:       res.PriceBasic,
		PriceCurrent:     res.PriceCurrent,
		PriceWithLoyalty: res.PriceWithLoyalty,
		Qty:              res.Qty,
		SampledAt:        time.Now().UTC(),
	}
	if err := repo.UpsertSample(ctx, o.DB, sample); err != nil {
		log.Error().Err(err).Msg("failed to persist sample")
		return false
	}

	if res.ProductName != "" || res.ProductBrand != "" {
		if err := repo.UpdateProductMeta(ctx, o.DB, item.product.ID, res.ProductName, res.ProductBrand); err != nil {
			log.Warn().Err(err).Msg("failed to update product metadata")
		}
	}

	log.Info().
		Float64("spp", res.SPP).
		Str("dest", res.Dest).
		Int("qty", res.Qty).
		Msg("sample recorded")
	return true
}

// recomputeConsensus refreshes the per-product records for every product
// touched in this run, then the global one. Products without samples yet
// are skipped quietly.
func (o *ScrapeOrchestrator) recomputeConsensus(ctx context.Context, products []domain.Product) {
	for _, p := range products {
		if _, err := o.Aggregator.RecomputeProduct(ctx, p); err != nil && !errors.Is(err, ErrNoSamples) {
			o.Log.Error().Err(err).Str("product_id", p.ID).Msg("consensus recomputation failed")
		}
	}
	if _, err := o.Aggregator.RecomputeGlobal(ctx); err != nil && !errors.Is(err, ErrNoSamples) {
		o.Log.Error().Err(err).Msg("global consensus recomputation failed")
	}
}
