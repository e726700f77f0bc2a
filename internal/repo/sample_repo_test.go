package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-market-watch/internal/domain"
)

func newSampleRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("sample_repo_test_%d.db", time.Now().UnixNano()))
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
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestUpsertSample_InsertsAndStamps(t *testing.T) {
	db := newSampleRepoDB(t)
	ctx := context.Background()

	p, err := CreateProduct(ctx, db, "100")
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	s := &domain.Sample{
		ProductID: p.ID, AccountID: "a1",
		SPP: 41.5, Dest: "d1", PriceBasic: 10000, PriceCurrent: 5850, Qty: 7,
	}
	if err := UpsertSample(ctx, db, s); err != nil {
		t.Fatalf("UpsertSample: %v", err)
	}
	if s.ID == "" {
		t.Fatalf("expected generated id")
	}
	if s.SampledAt.IsZero() {
		t.Fatalf("expected SampledAt stamped")
	}
}

func TestUpsertSample_OverwritesSamePair(t *testing.T) {
	db := newSampleRepoDB(t)
	ctx := context.Background()

	p, _ := CreateProduct(ctx, db, "100")

	first := &domain.Sample{
		ProductID: p.ID, AccountID: "a1",
		SPP: 41, Dest: "d1", PriceBasic: 10000, PriceCurrent: 5900, Qty: 1,
	}
	if err := UpsertSample(ctx, db, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	loyalty := 4500
	second := &domain.Sample{
		ProductID: p.ID, AccountID: "a1",
		SPP: 53, Dest: "d2", PriceBasic: 10000, PriceCurrent: 4700,
		PriceWithLoyalty: &loyalty, Qty: 9,
	}
	if err := UpsertSample(ctx, db, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	total, err := CountSamples(ctx, db)
	if err != nil || total != 1 {
		t.Fatalf("expected exactly one row for the pair, got (%d, %v)", total, err)
	}

	got, err := ListSamplesByProduct(ctx, db, p.ID)
	if err != nil || len(got) != 1 {
		t.Fatalf("list: (%d, %v)", len(got), err)
	}
	s := got[0]
	if s.SPP != 53 || s.Dest != "d2" || s.Qty != 9 {
		t.Fatalf("newer reading did not win: %+v", s)
	}
	if s.PriceWithLoyalty == nil || *s.PriceWithLoyalty != 4500 {
		t.Fatalf("loyalty price not updated: %+v", s.PriceWithLoyalty)
	}
	// The row identity is the first insert's; only the payload moved.
	if s.ID != first.ID {
		t.Fatalf("overwrite should keep the original row id")
	}
}

func TestUpsertSample_DistinctPairsCoexist(t *testing.T) {
	db := newSampleRepoDB(t)
	ctx := context.Background()

	p1, _ := CreateProduct(ctx, db, "100")
	p2, _ := CreateProduct(ctx, db, "200")

	pairs := []struct{ productID, accountID string }{
		{p1.ID, "a1"}, {p1.ID, "a2"}, {p2.ID, "a1"}, {p2.ID, "a2"},
	}
	for _, pair := range pairs {
		err := UpsertSample(ctx, db, &domain.Sample{
			ProductID: pair.productID, AccountID: pair.accountID,
			SPP: 40, Dest: "d1", PriceBasic: 100, PriceCurrent: 60, Qty: 1,
		})
		if err != nil {
			t.Fatalf("upsert %v: %v", pair, err)
		}
	}

	total, _ := CountSamples(ctx, db)
	if total != 4 {
		t.Fatalf("expected 4 rows, got %d", total)
	}

	all, err := ListAllSamples(ctx, db)
	if err != nil || len(all) != 4 {
		t.Fatalf("ListAllSamples: (%d, %v)", len(all), err)
	}
}

func TestListSamplesByProduct_OrderedByAccount(t *testing.T) {
	db := newSampleRepoDB(t)
	ctx := context.Background()

	p, _ := CreateProduct(ctx, db, "100")
	for _, acct := range []string{"c", "a", "b"} {
		err := UpsertSample(ctx, db, &domain.Sample{
			ProductID: p.ID, AccountID: acct,
			SPP: 40, Dest: "d1", PriceBasic: 100, PriceCurrent: 60, Qty: 1,
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := ListSamplesByProduct(ctx, db, p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, s := range got {
		if s.AccountID != want[i] {
			t.Fatalf("expected order %v, got position %d = %s", want, i, s.AccountID)
		}
	}
}
