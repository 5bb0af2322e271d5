package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (Complaint{}).TableName() != "complaints" {
		t.Fatalf("Complaint.TableName() = %q; want %q", (Complaint{}).TableName(), "complaints")
	}
	if (Idempotency{}).TableName() != "idempotency" {
		t.Fatalf("Idempotency.TableName() = %q; want %q", (Idempotency{}).TableName(), "idempotency")
	}
}

func TestComplaint_Migration_UniqueKey_AndCounterCheck(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Complaint{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasTable(&Complaint{}) {
		t.Fatalf("expected complaints table")
	}
	if !m.HasIndex(&Complaint{}, "ux_complaints_product_complainant") {
		t.Fatalf("expected unique index ux_complaints_product_complainant")
	}
	if !m.HasColumn(&Complaint{}, "complaint_counter") || !m.HasColumn(&Complaint{}, "created_date") {
		t.Fatalf("expected complaint_counter and created_date columns")
	}

	now := time.Now()
	c := &Complaint{ProductID: "p1", Content: "broken", Complainant: "Jane", Country: "Poland", Counter: 1, CreatedDate: now}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if c.ID == 0 {
		t.Fatalf("expected autoincrement id to be assigned")
	}

	// Same (product, complainant) must be rejected.
	dup := &Complaint{ProductID: "p1", Content: "again", Complainant: "Jane", Country: "Poland", Counter: 1, CreatedDate: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (product_id, complainant)")
	}

	// Different complainant for the same product is fine.
	other := &Complaint{ProductID: "p1", Content: "x", Complainant: "John", Country: "USA", Counter: 1, CreatedDate: now}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert other: %v", err)
	}

	// Counter must stay >= 1.
	err := db.Exec(`UPDATE complaints SET complaint_counter = 0 WHERE id = ?`, c.ID).Error
	if err == nil {
		t.Fatalf("expected CHECK violation for complaint_counter = 0")
	}
}

func TestNormalizeKey(t *testing.T) {
	// "é" precomposed vs "e" + combining acute accent.
	composed := "Ren\u00e9"
	decomposed := "Rene\u0301"
	if NormalizeKey(composed) != NormalizeKey(decomposed) {
		t.Fatalf("NFC normalization should make %q and %q equal", composed, decomposed)
	}
	if got := NormalizeKey("  prod123 \t"); got != "prod123" {
		t.Fatalf("NormalizeKey trim = %q", got)
	}
}
