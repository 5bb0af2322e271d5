package domain

import "time"

// Idempotency represents a recorded result of a previously processed
// complaint submission, keyed by (client_ip, key). It lets a client retry a
// POST without the retry counting as another duplicate submission.
type Idempotency struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	ClientIP    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_client_key,priority:1"`
	Key         string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_client_key,priority:2"`
	ComplaintID int64     `gorm:"not null"`
	Status      int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
