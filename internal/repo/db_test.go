package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-complaints-backend/internal/config"
	"github.com/tbourn/go-complaints-backend/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	// Be tolerant across platforms/drivers:
	// - Windows: *os.PathError ("CreateFile ... cannot find the file specified")
	// - SQLite:  "unable to open database file" / "out of memory (14)"
	// - Unix:    "no such file or directory"
	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	db, err := Open(config.DBConfig{Driver: "oracle"})
	if err == nil || db != nil {
		t.Fatalf("expected error for unsupported driver, got db=%v err=%v", db, err)
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("error should name the driver: %v", err)
	}
}

func TestOpen_SQLite_PragmasPoolAndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "complaints.db")

	db, err := Open(config.DBConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	// --- Verify PRAGMAs set by OpenSQLite ---
	var (
		journalMode string
		syncVal     int
		fkOn        int
		busyMS      int
	)
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if err := db.Raw("PRAGMA synchronous;").Row().Scan(&syncVal); err != nil {
		t.Fatalf("PRAGMA synchronous: %v", err)
	}
	// NORMAL == 1
	if syncVal != 1 {
		t.Fatalf("expected synchronous=1 (NORMAL), got %d", syncVal)
	}
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fkOn != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fkOn)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if busyMS != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", busyMS)
	}

	// --- Verify pool tuning applied ---
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	// --- AutoMigrate should create all tables ---
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.Complaint{}, &domain.Idempotency{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&domain.Complaint{}, "ux_complaints_product_complainant") {
		t.Fatalf("expected unique index on (product_id, complainant)")
	}

	// Quick insert round-trip to prove schema is usable.
	now := time.Now()
	c := &domain.Complaint{ProductID: "p1", Content: "broken", Complainant: "alice", Country: "Poland", Counter: 1, CreatedDate: now}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("insert complaint: %v", err)
	}
	idem := &domain.Idempotency{ID: "i1", ClientIP: "203.0.113.5", Key: "k1", ComplaintID: c.ID, Status: 201, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(idem).Error; err != nil {
		t.Fatalf("insert idempotency: %v", err)
	}

	var got domain.Complaint
	if err := db.First(&got, "id = ?", c.ID).Error; err != nil || got.Complainant != "alice" {
		t.Fatalf("readback complaint failed: err=%v got=%+v", err, got)
	}
}

// Compile-time guards to ensure signature stability.
var (
	_ func(string) (*gorm.DB, error)          = OpenSQLite
	_ func(config.DBConfig) (*gorm.DB, error) = Open
)
