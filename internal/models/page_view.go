package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PageView is one page render. Rows are append-only.
type PageView struct {
	ID          string    `json:"id"                     gorm:"type:char(36);primaryKey"`
	SessionID   string    `json:"session_id"             gorm:"type:varchar(32);index;not null"`
	VisitorID   string    `json:"visitor_id"             gorm:"type:varchar(32);index;not null"`
	URL         string    `json:"url"                    gorm:"type:text"`
	Path        string    `json:"path"                   gorm:"type:varchar(512);index;not null"`
	Title       string    `json:"title,omitempty"        gorm:"type:varchar(512)"`
	Referrer    string    `json:"referrer,omitempty"     gorm:"type:text"`
	TimeSpent   *int64    `json:"time_spent,omitempty"`
	ScrollDepth *int64    `json:"scroll_depth,omitempty"`
	LoadTime    *int64    `json:"load_time,omitempty"`
	ExitPage    bool      `json:"exit_page"              gorm:"not null"`
	Timestamp   time.Time `json:"timestamp"              gorm:"index;not null"`
	IPAddress   string    `json:"ip_address"             gorm:"type:varchar(64)"`
	UserAgent   string    `json:"user_agent"             gorm:"type:text"`
	CreatedAt   time.Time `json:"created"`
}

func (PageView) TableName() string { return "page_views" }

func (p *PageView) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
