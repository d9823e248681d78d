package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestGetCacheIndex_NotFound(t *testing.T) {
	db := newTestDB(t, &domain.CacheIndex{})
	_, err := GetCacheIndex(context.Background(), db, "0000000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertCacheIndex_InsertThenRefresh(t *testing.T) {
	db := newTestDB(t, &domain.CacheIndex{})
	ctx := context.Background()
	fp := domain.Fingerprint("darolutamide", []string{"BR"})

	idx := &domain.CacheIndex{
		Fingerprint:   fp,
		NormalizedKey: domain.NormalizedKey("darolutamide", []string{"BR"}),
		Molecule:      "darolutamide",
		Countries:     "BR",
		TotalPatents:  12,
	}
	if err := UpsertCacheIndex(ctx, db, idx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Bump the hit counter, then upsert again: the counter must survive.
	if err := IncrementCacheHit(ctx, db, fp); err != nil {
		t.Fatalf("increment: %v", err)
	}
	idx2 := &domain.CacheIndex{
		Fingerprint:   fp,
		NormalizedKey: idx.NormalizedKey,
		Molecule:      "darolutamide",
		Countries:     "BR",
		TotalPatents:  14,
	}
	if err := UpsertCacheIndex(ctx, db, idx2); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := GetCacheIndex(ctx, db, fp)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalPatents != 14 {
		t.Errorf("TotalPatents = %d; want refreshed 14", got.TotalPatents)
	}
	if got.HitCount != 1 {
		t.Errorf("HitCount = %d; want preserved 1", got.HitCount)
	}
}

func TestUpsertCacheData_RoundTripsBytes(t *testing.T) {
	db := newTestDB(t, &domain.CacheData{})
	ctx := context.Background()

	payload := []byte(`{"molecule":"darolutamide",  "total_patents": 12}`)
	if err := UpsertCacheData(ctx, db, "feedfacefeedface", payload); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := GetCacheData(ctx, db, "feedfacefeedface")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload altered:\n got %q\nwant %q", got.Payload, payload)
	}

	// Overwrite: last write wins.
	if err := UpsertCacheData(ctx, db, "feedfacefeedface", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = GetCacheData(ctx, db, "feedfacefeedface")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(got.Payload) != `{"v":2}` {
		t.Fatalf("payload = %q; want overwritten value", got.Payload)
	}
}

func TestDeleteCacheData_LeavesIndexIntact(t *testing.T) {
	db := newTestDB(t, &domain.CacheIndex{}, &domain.CacheData{})
	ctx := context.Background()

	if err := UpsertCacheData(ctx, db, "fp1", []byte(`{}`)); err != nil {
		t.Fatalf("data: %v", err)
	}
	if err := UpsertCacheIndex(ctx, db, &domain.CacheIndex{Fingerprint: "fp1", NormalizedKey: "k", Molecule: "m", Countries: "BR"}); err != nil {
		t.Fatalf("index: %v", err)
	}

	if err := DeleteCacheData(ctx, db, "fp1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetCacheData(ctx, db, "fp1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected data gone, got %v", err)
	}
	if _, err := GetCacheIndex(ctx, db, "fp1"); err != nil {
		t.Fatalf("index should remain: %v", err)
	}
}

func TestIncrementCacheHit_MissingRowIsNoop(t *testing.T) {
	db := newTestDB(t, &domain.CacheIndex{})
	if err := IncrementCacheHit(context.Background(), db, "nope"); err != nil {
		t.Fatalf("increment on absent row should not error: %v", err)
	}
}
