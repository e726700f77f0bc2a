package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-market-watch/internal/domain"
	"github.com/tbourn/go-market-watch/internal/repo"
)

func newConsensusDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("consensus_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedSample(t *testing.T, db *gorm.DB, productID, accountID string, spp float64, dest string) {
	t.Helper()
	s := &domain.Sample{
		ProductID:    productID,
		AccountID:    accountID,
		SPP:          spp,
		Dest:         dest,
		PriceBasic:   10000,
		PriceCurrent: 5000,
		Qty:          3,
	}
	if err := repo.UpsertSample(context.Background(), db, s); err != nil {
		t.Fatalf("seed sample: %v", err)
	}
}

func TestBucketSPP(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{43.93, 40},
		{47.34, 40},
		{49.99, 40},
		{53.76, 50},
		{0, 0},
		{9.99, 0},
		{10, 10},
		{100, 100},
	}
	for _, tc := range cases {
		if got := bucketSPP(tc.in); got != tc.want {
			t.Fatalf("bucketSPP(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRecomputeProduct_ModeOfBuckets(t *testing.T) {
	db := newConsensusDB(t)
	ctx := context.Background()

	p, err := repo.CreateProduct(ctx, db, "221312891")
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	// Buckets [40, 40, 40, 50] -> 40; dest mode is d1.
	seedSample(t, db, p.ID, "a1", 43.93, "d1")
	seedSample(t, db, p.ID, "a2", 47.34, "d1")
	seedSample(t, db, p.ID, "a3", 49.99, "d2")
	seedSample(t, db, p.ID, "a4", 53.76, "d1")

	agg := NewConsensusAggregator(db, "https://cards.example/detail", zerolog.Nop())
	rec, err := agg.RecomputeProduct(ctx, *p)
	if err != nil {
		t.Fatalf("RecomputeProduct: %v", err)
	}
	if rec.SPP != 40 {
		t.Fatalf("expected consensus spp 40, got %v", rec.SPP)
	}
	if rec.Dest != "d1" {
		t.Fatalf("expected consensus dest d1, got %q", rec.Dest)
	}
	if rec.SampleCount != 4 {
		t.Fatalf("expected sample count 4, got %d", rec.SampleCount)
	}

	wantURL := "https://cards.example/detail?appType=1&curr=rub&dest=d1&spp=40&hide_dtype=11&ab_testing=false&lang=ru&nm=221312891"
	if rec.GeneratedURL != wantURL {
		t.Fatalf("generated url mismatch:\n got  %s\n want %s", rec.GeneratedURL, wantURL)
	}

	// The record is persisted and readable back.
	stored, err := repo.GetConsensus(ctx, db, p.ID)
	if err != nil {
		t.Fatalf("GetConsensus: %v", err)
	}
	if stored.SPP != 40 || stored.Dest != "d1" {
		t.Fatalf("stored record mismatch: %+v", stored)
	}
}

func TestRecomputeProduct_InsertionOrderIndependent(t *testing.T) {
	db := newConsensusDB(t)
	ctx := context.Background()

	p1, _ := repo.CreateProduct(ctx, db, "100")
	p2, _ := repo.CreateProduct(ctx, db, "200")

	readings := []float64{43.93, 47.34, 49.99, 53.76}
	// Same multiset, opposite insertion order.
	for i, spp := range readings {
		seedSample(t, db, p1.ID, fmt.Sprintf("a%d", i), spp, "d1")
	}
	for i := len(readings) - 1; i >= 0; i-- {
		seedSample(t, db, p2.ID, fmt.Sprintf("a%d", i), readings[i], "d1")
	}

	agg := NewConsensusAggregator(db, "https://cards.example/detail", zerolog.Nop())
	r1, err := agg.RecomputeProduct(ctx, *p1)
	if err != nil {
		t.Fatalf("RecomputeProduct p1: %v", err)
	}
	r2, err := agg.RecomputeProduct(ctx, *p2)
	if err != nil {
		t.Fatalf("RecomputeProduct p2: %v", err)
	}
	if r1.SPP != r2.SPP || r1.Dest != r2.Dest {
		t.Fatalf("insertion order changed the outcome: %+v vs %+v", r1, r2)
	}
}

func TestRecomputeProduct_TieBreaksFirstSeen(t *testing.T) {
	db := newConsensusDB(t)
	ctx := context.Background()

	p, _ := repo.CreateProduct(ctx, db, "300")
	// One 40-bucket and one 50-bucket sample; samples iterate by account id,
	// so the 40 bucket (account a1) is seen first and wins the tie.
	seedSample(t, db, p.ID, "a1", 43.0, "d1")
	seedSample(t, db, p.ID, "a2", 52.0, "d2")

	agg := NewConsensusAggregator(db, "https://cards.example/detail", zerolog.Nop())
	rec, err := agg.RecomputeProduct(ctx, *p)
	if err != nil {
		t.Fatalf("RecomputeProduct: %v", err)
	}
	if rec.SPP != 40 {
		t.Fatalf("expected first-seen bucket 40 to win the tie, got %v", rec.SPP)
	}
	if rec.Dest != "d1" {
		t.Fatalf("expected first-seen dest d1 to win the tie, got %q", rec.Dest)
	}
}

func TestRecomputeProduct_NoSamples(t *testing.T) {
	db := newConsensusDB(t)
	ctx := context.Background()

	p, _ := repo.CreateProduct(ctx, db, "400")
	agg := NewConsensusAggregator(db, "https://cards.example/detail", zerolog.Nop())
	if _, err := agg.RecomputeProduct(ctx, *p); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
	if _, err := repo.GetConsensus(ctx, db, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("no record should have been written, got err=%v", err)
	}
}

func TestRecomputeGlobal_AnchorAndLoyaltyOrdering(t *testing.T) {
	db := newConsensusDB(t)
	ctx := context.Background()

	p1, _ := repo.CreateProduct(ctx, db, "111")
	time.Sleep(5 * time.Millisecond) // distinct created_at, deterministic product order
	p2, _ := repo.CreateProduct(ctx, db, "222")

	// Account a1: loyalty price present, 20% discount.
	// Account a2: no loyalty data.
	// Account a3: loyalty price present, 40% discount.
	loyalty80 := 4000
	loyalty60 := 3000
	if err := repo.UpsertSample(ctx, db, &domain.Sample{
		ProductID: p1.ID, AccountID: "a1", SPP: 41, Dest: "d1",
		PriceBasic: 10000, PriceCurrent: 5000, PriceWithLoyalty: &loyalty80, Qty: 1,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.UpsertSample(ctx, db, &domain.Sample{
		ProductID: p1.ID, AccountID: "a2", SPP: 42, Dest: "d1",
		PriceBasic: 10000, PriceCurrent: 5000, Qty: 1,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.UpsertSample(ctx, db, &domain.Sample{
		ProductID: p2.ID, AccountID: "a3", SPP: 44, Dest: "d1",
		PriceBasic: 10000, PriceCurrent: 5000, PriceWithLoyalty: &loyalty60, Qty: 1,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	agg := NewConsensusAggregator(db, "https://cards.example/detail", zerolog.Nop())
	res, err := agg.RecomputeGlobal(ctx)
	if err != nil {
		t.Fatalf("RecomputeGlobal: %v", err)
	}

	if res.Record.ProductID != domain.GlobalConsensusID {
		t.Fatalf("expected global record id, got %q", res.Record.ProductID)
	}
	if res.Record.SPP != 40 || res.Record.SampleCount != 3 {
		t.Fatalf("unexpected global reduction: %+v", res.Record)
	}
	// The generated link is anchored at the first tracked product.
	if !strings.Contains(res.Record.GeneratedURL, "nm=111") {
		t.Fatalf("expected link anchored at first product, got %s", res.Record.GeneratedURL)
	}

	if len(res.Accounts) != 3 {
		t.Fatalf("expected 3 account entries, got %d", len(res.Accounts))
	}
	// Sorted by avg discount desc, account without loyalty data last.
	if res.Accounts[0].AccountID != "a3" || res.Accounts[1].AccountID != "a1" || res.Accounts[2].AccountID != "a2" {
		t.Fatalf("unexpected loyalty ordering: %+v", res.Accounts)
	}
	if res.Accounts[2].Avg != nil {
		t.Fatalf("account without loyalty data should have nil average")
	}
	if got := *res.Accounts[0].Avg; got != 40 {
		t.Fatalf("expected 40%% discount for a3, got %v", got)
	}
}

func TestRecomputeGlobal_NoSamples(t *testing.T) {
	db := newConsensusDB(t)
	agg := NewConsensusAggregator(db, "https://cards.example/detail", zerolog.Nop())
	if _, err := agg.RecomputeGlobal(context.Background()); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
}
