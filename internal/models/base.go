package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base is the base model for all analytics tables.
// Rows are facts or counters, so there is no soft delete column.
type Base struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"modified"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// UTM holds campaign attribution query parameters.
type UTM struct {
	Source   string `json:"utm_source,omitempty"   gorm:"column:utm_source;type:varchar(191)"`
	Medium   string `json:"utm_medium,omitempty"   gorm:"column:utm_medium;type:varchar(191)"`
	Campaign string `json:"utm_campaign,omitempty" gorm:"column:utm_campaign;type:varchar(191)"`
	Term     string `json:"utm_term,omitempty"     gorm:"column:utm_term;type:varchar(191)"`
	Content  string `json:"utm_content,omitempty"  gorm:"column:utm_content;type:varchar(191)"`
}

// Empty reports whether no UTM parameter was present.
func (u UTM) Empty() bool {
	return u.Source == "" && u.Medium == "" && u.Campaign == "" && u.Term == "" && u.Content == ""
}
