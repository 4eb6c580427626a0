package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is one bounded browsing episode of a visitor.
// Device and geo columns are a snapshot taken when the session starts.
type Session struct {
	ID           string     `json:"id"                    gorm:"type:char(36);primaryKey"`
	SessionID    string     `json:"session_id"            gorm:"type:varchar(32);uniqueIndex;not null"`
	VisitorID    string     `json:"visitor_id"            gorm:"type:varchar(32);index:idx_session_visitor_active,priority:1;not null"`
	SessionStart time.Time  `json:"session_start"         gorm:"index;not null"`
	SessionEnd   *time.Time `json:"session_end,omitempty"`
	Duration     int64      `json:"duration"              gorm:"not null"`
	PageViews    int64      `json:"page_views"            gorm:"not null"`
	Bounced      bool       `json:"bounced"               gorm:"not null"`
	EntryPage    string     `json:"entry_page"            gorm:"type:varchar(512)"`
	ExitPage     string     `json:"exit_page"             gorm:"type:varchar(512);index"`
	Referrer     string     `json:"referrer,omitempty"    gorm:"type:text"`
	UTM          `gorm:"embedded"`
	DeviceType   string     `json:"device_type"           gorm:"type:varchar(16)"`
	Browser      string     `json:"browser"               gorm:"type:varchar(64)"`
	OS           string     `json:"os"                    gorm:"column:os;type:varchar(64)"`
	Country      string     `json:"country,omitempty"     gorm:"type:varchar(64)"`
	City         string     `json:"city,omitempty"        gorm:"type:varchar(128)"`
	IsActive     bool       `json:"is_active"             gorm:"index:idx_session_visitor_active,priority:2;index:idx_session_active_updated,priority:1;not null"`
	CreatedAt    time.Time  `json:"created"`
	UpdatedAt    time.Time  `json:"modified"              gorm:"index:idx_session_active_updated,priority:2"`
}

func (Session) TableName() string { return "visitor_sessions" }

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
