// Package domain defines the persistence models for complaints. These types
// are mapped with GORM and shared across the repository, service, and cache
// layers.
package domain

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Complaint is a single complaint about a product, deduplicated per
// (ProductID, Complainant). Repeat submissions bump Counter instead of
// creating a new row.
//
// Fields:
//   - ID: autoincrement primary key, assigned by the store.
//   - ProductID / Complainant: the dedup key (unique together, immutable).
//   - Content: free text; replaced by explicit updates only.
//   - CreatedDate: set once on first submission.
//   - Country: resolved from the submitter's IP on first submission.
//   - Counter: number of submissions for the key (>= 1).
//   - UpdatedAt: managed by GORM; drives list ETags, not exposed in the API.
type Complaint struct {
	ID          int64     `json:"id"          gorm:"primaryKey;autoIncrement"`
	ProductID   string    `json:"productId"   gorm:"type:varchar(255);not null;uniqueIndex:ux_complaints_product_complainant,priority:1"`
	Content     string    `json:"content"     gorm:"type:text;not null"`
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;not null"`
	Complainant string    `json:"complainant" gorm:"type:varchar(255);not null;uniqueIndex:ux_complaints_product_complainant,priority:2"`
	Country     string    `json:"country"     gorm:"type:varchar(128);not null"`
	Counter     int       `json:"counter"     gorm:"column:complaint_counter;not null;default:1;check:complaint_counter >= 1"`
	UpdatedAt   time.Time `json:"-"`
}

// TableName returns the database table name for Complaint.
func (Complaint) TableName() string { return "complaints" }

// NormalizeKey trims surrounding whitespace and applies Unicode NFC so that
// canonically equivalent spellings map to the same dedup key.
func NormalizeKey(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
