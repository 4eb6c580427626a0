package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventType is the closed set of interaction kinds.
type EventType string

const (
	EventClick       EventType = "click"
	EventScroll      EventType = "scroll"
	EventFormSubmit  EventType = "form_submit"
	EventFormError   EventType = "form_error"
	EventDownload    EventType = "download"
	EventVideoPlay   EventType = "video_play"
	EventVideoPause  EventType = "video_pause"
	EventSearch      EventType = "search"
	EventShare       EventType = "share"
	EventContact     EventType = "contact"
	EventNavigation  EventType = "navigation"
	EventError       EventType = "error"
	EventPerformance EventType = "performance"
	EventCustom      EventType = "custom"
)

// EventTypes lists every accepted EventType.
var EventTypes = []EventType{
	EventClick, EventScroll, EventFormSubmit, EventFormError, EventDownload,
	EventVideoPlay, EventVideoPause, EventSearch, EventShare, EventContact,
	EventNavigation, EventError, EventPerformance, EventCustom,
}

// Valid reports whether t is one of EventTypes.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AnalyticsEvent is one discrete interaction. Rows are append-only.
type AnalyticsEvent struct {
	ID            string         `json:"id"                    gorm:"type:char(36);primaryKey"`
	SessionID     string         `json:"session_id"            gorm:"type:varchar(32);index;not null"`
	VisitorID     string         `json:"visitor_id"            gorm:"type:varchar(32);index;not null"`
	EventType     EventType      `json:"event_type"            gorm:"type:varchar(32);index;not null"`
	EventCategory string         `json:"event_category"        gorm:"type:varchar(100);not null"`
	EventAction   string         `json:"event_action"          gorm:"type:varchar(100);not null"`
	EventLabel    string         `json:"event_label,omitempty" gorm:"type:varchar(200)"`
	EventValue    *float64       `json:"event_value,omitempty"`
	CustomData    map[string]any `json:"custom_data,omitempty" gorm:"type:text;serializer:json"`
	Path          string         `json:"path,omitempty"        gorm:"type:varchar(512)"`
	Timestamp     time.Time      `json:"timestamp"             gorm:"index;not null"`
	CreatedAt     time.Time      `json:"created"`
}

func (AnalyticsEvent) TableName() string { return "analytics_events" }

func (e *AnalyticsEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}
