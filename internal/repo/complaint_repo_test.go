package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-complaints-backend/internal/domain"
)

// newFileDB opens a file-backed, migrated database for tests that write
// from several goroutines.
func newFileDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("complaint_repo_test_%d.db", time.Now().UnixNano()))
	db, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	// PRAGMAs applied by OpenSQLite are per connection; pin one so
	// busy_timeout covers every writer.
	sqlDB.SetMaxOpenConns(1)
	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedComplaint(t *testing.T, db *gorm.DB, productID, complainant string) *domain.Complaint {
	t.Helper()
	c := &domain.Complaint{
		ProductID:   productID,
		Content:     "does not work",
		Complainant: complainant,
		Country:     "Poland",
		Counter:     1,
		CreatedDate: time.Now(),
	}
	if err := CreateComplaint(context.Background(), db, c); err != nil {
		t.Fatalf("seed complaint: %v", err)
	}
	return c
}

func TestCreateComplaint_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	err := CreateComplaint(context.Background(), db, &domain.Complaint{ProductID: "p", Complainant: "a", Content: "c", Country: "X", Counter: 1})
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected non-duplicate error creating without table, got %v", err)
	}
}

func TestCreateComplaint_AssignsIDAndPersists(t *testing.T) {
	db := newTestDB(t, &domain.Complaint{})

	c := seedComplaint(t, db, "p1", "alice")
	if c.ID == 0 {
		t.Fatalf("expected generated id")
	}
	got, err := GetComplaint(context.Background(), db, c.ID)
	if err != nil {
		t.Fatalf("GetComplaint: %v", err)
	}
	if got.ProductID != "p1" || got.Complainant != "alice" || got.Counter != 1 || got.Country != "Poland" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestCreateComplaint_DuplicateKey(t *testing.T) {
	db := newTestDB(t, &domain.Complaint{})
	seedComplaint(t, db, "p1", "alice")

	dup := &domain.Complaint{ProductID: "p1", Content: "again", Complainant: "alice", Country: "Poland", Counter: 1, CreatedDate: time.Now()}
	if err := CreateComplaint(context.Background(), db, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same product, other complainant is a distinct row.
	seedComplaint(t, db, "p1", "bob")
}

func TestFindComplaintByKey(t *testing.T) {
	db := newTestDB(t, &domain.Complaint{})
	seeded := seedComplaint(t, db, "p1", "alice")

	got, err := FindComplaintByKey(context.Background(), db, "p1", "alice")
	if err != nil || got.ID != seeded.ID {
		t.Fatalf("FindComplaintByKey = %+v, %v", got, err)
	}
	if _, err := FindComplaintByKey(context.Background(), db, "p1", "carol"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetComplaint_NotFound(t *testing.T) {
	db := newTestDB(t, &domain.Complaint{})
	if _, err := GetComplaint(context.Background(), db, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementComplaintCounter(t *testing.T) {
	db := newTestDB(t, &domain.Complaint{})
	seeded := seedComplaint(t, db, "p1", "alice")

	got, err := IncrementComplaintCounter(context.Background(), db, "p1", "alice")
	if err != nil {
		t.Fatalf("IncrementComplaintCounter: %v", err)
	}
	if got.ID != seeded.ID || got.Counter != 2 {
		t.Fatalf("expected counter 2 on id %d, got %+v", seeded.ID, got)
	}
	if got.Content != seeded.Content || got.Country != seeded.Country {
		t.Fatalf("increment must not touch content/country: %+v", got)
	}

	if _, err := IncrementComplaintCounter(context.Background(), db, "p1", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}
}

func TestIncrementComplaintCounter_ConcurrentNoLostUpdates(t *testing.T) {
	db := newFileDB(t)
	seedComplaint(t, db, "p1", "alice")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := IncrementComplaintCounter(context.Background(), db, "p1", "alice"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent increment: %v", err)
	}

	got, err := FindComplaintByKey(context.Background(), db, "p1", "alice")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Counter != n+1 {
		t.Fatalf("expected counter %d, got %d", n+1, got.Counter)
	}
}

func TestUpdateComplaintContent(t *testing.T) {
	db := newTestDB(t, &domain.Complaint{})
	seeded := seedComplaint(t, db, "p1", "alice")

	if err := UpdateComplaintContent(context.Background(), db, seeded.ID, "still broken"); err != nil {
		t.Fatalf("UpdateComplaintContent: %v", err)
	}
	got, _ := GetComplaint(context.Background(), db, seeded.ID)
	if got.Content != "still broken" || got.Counter != 1 || got.ProductID != "p1" {
		t.Fatalf("unexpected row after update: %+v", got)
	}

	if err := UpdateComplaintContent(context.Background(), db, 999, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListComplaints_OrderedByID(t *testing.T) {
	db := newTestDB(t, &domain.Complaint{})

	empty, err := ListComplaints(context.Background(), db)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v, %v", empty, err)
	}

	a := seedComplaint(t, db, "p1", "alice")
	b := seedComplaint(t, db, "p2", "alice")
	c := seedComplaint(t, db, "p1", "bob")

	got, err := ListComplaints(context.Background(), db)
	if err != nil {
		t.Fatalf("ListComplaints: %v", err)
	}
	if len(got) != 3 || got[0].ID != a.ID || got[1].ID != b.ID || got[2].ID != c.ID {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestIsDuplicate(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"UNIQUE constraint failed: complaints.product_id", true},
		{"constraint failed: UNIQUE constraint failed (2067)", true},
		{"ERROR: duplicate key value violates unique constraint (23505)", true},
		{"Error 1062 (23000): Duplicate entry 'p1-alice'", true},
		{"no such table: complaints", false},
	}
	for _, tc := range cases {
		if got := isDuplicate(errors.New(tc.msg)); got != tc.want {
			t.Errorf("isDuplicate(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
	if !isDuplicate(fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey)) {
		t.Errorf("expected wrapped gorm.ErrDuplicatedKey to be a duplicate")
	}
}
