// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Complaint
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: persistence and query composition only, no business rules.
//
// Error semantics:
//   - Missing rows yield ErrNotFound (an alias of gorm.ErrRecordNotFound).
//   - Inserts that hit the (product_id, complainant) unique index yield
//     ErrDuplicate regardless of the underlying driver.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-complaints-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a row with the same unique key already exists.
var ErrDuplicate = errors.New("duplicate")

// CreateComplaint inserts c and fills in its generated ID. A concurrent or
// earlier row with the same (product_id, complainant) yields ErrDuplicate.
func CreateComplaint(ctx context.Context, db *gorm.DB, c *domain.Complaint) error {
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FindComplaintByKey fetches the complaint for (productID, complainant), or
// ErrNotFound.
func FindComplaintByKey(ctx context.Context, db *gorm.DB, productID, complainant string) (*domain.Complaint, error) {
	var c domain.Complaint
	err := db.WithContext(ctx).
		Where("product_id = ? AND complainant = ?", productID, complainant).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetComplaint fetches a complaint by primary key, or ErrNotFound.
func GetComplaint(ctx context.Context, db *gorm.DB, id int64) (*domain.Complaint, error) {
	var c domain.Complaint
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementComplaintCounter bumps the counter of the (productID, complainant)
// row in a single UPDATE so concurrent duplicates never lose an increment,
// then returns the row as stored. It returns ErrNotFound when no row matches.
func IncrementComplaintCounter(ctx context.Context, db *gorm.DB, productID, complainant string) (*domain.Complaint, error) {
	res := db.WithContext(ctx).
		Model(&domain.Complaint{}).
		Where("product_id = ? AND complainant = ?", productID, complainant).
		Update("complaint_counter", gorm.Expr("complaint_counter + ?", 1))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return FindComplaintByKey(ctx, db, productID, complainant)
}

// UpdateComplaintContent replaces the content of complaint id. Other columns
// are left untouched (besides updated_at). It returns ErrNotFound when no
// row matches.
func UpdateComplaintContent(ctx context.Context, db *gorm.DB, id int64, content string) error {
	res := db.WithContext(ctx).
		Model(&domain.Complaint{}).
		Where("id = ?", id).
		Update("content", content)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListComplaints returns every stored complaint ordered by id ascending.
func ListComplaints(ctx context.Context, db *gorm.DB) ([]domain.Complaint, error) {
	out := []domain.Complaint{}
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite: "UNIQUE constraint failed"; glebarez also "constraint failed: UNIQUE"
	// Postgres: "duplicate key value violates unique constraint"
	// MySQL: "Error 1062: Duplicate entry"
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key") ||
		strings.Contains(low, "duplicate entry")
}
