package models

import "time"

// Visitor is the identity anchor of one browser/device across sessions.
type Visitor struct {
	Base
	VisitorID            string    `json:"visitor_id"             gorm:"type:varchar(32);uniqueIndex;not null"`
	IPAddress            string    `json:"ip_address"             gorm:"type:varchar(64)"`
	UserAgent            string    `json:"user_agent"             gorm:"type:text"`
	Country              string    `json:"country,omitempty"      gorm:"type:varchar(64);index"`
	City                 string    `json:"city,omitempty"         gorm:"type:varchar(128)"`
	Region               string    `json:"region,omitempty"       gorm:"type:varchar(128)"`
	Timezone             string    `json:"timezone,omitempty"     gorm:"type:varchar(64)"`
	DeviceType           string    `json:"device_type"            gorm:"type:varchar(16);index"`
	Browser              string    `json:"browser"                gorm:"type:varchar(64)"`
	BrowserVersion       string    `json:"browser_version"        gorm:"type:varchar(64)"`
	OS                   string    `json:"os"                     gorm:"column:os;type:varchar(64)"`
	OSVersion            string    `json:"os_version"             gorm:"column:os_version;type:varchar(64)"`
	Language             string    `json:"language"               gorm:"type:varchar(32)"`
	FirstVisit           time.Time `json:"first_visit"            gorm:"index;not null"`
	LastVisit            time.Time `json:"last_visit"             gorm:"index;not null"`
	VisitCount           int64     `json:"visit_count"            gorm:"not null"`
	TotalPageViews       int64     `json:"total_page_views"       gorm:"not null"`
	TotalSessionDuration int64     `json:"total_session_duration" gorm:"not null"`
	IsBot                bool      `json:"is_bot"                 gorm:"index;not null"`
	UTM                  `gorm:"embedded"`
}

func (Visitor) TableName() string { return "visitors" }
