// Package visits records page views and answers the queries reports run
// over raw visit rows.
package visits

import "time"

// Visit is one recorded page view. Rows are append-only apart from the
// one-time geo coordinate backfill.
type Visit struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           *uint64   `gorm:"index" json:"user_id"`
	DeviceID         *string   `gorm:"size:64;index;index:idx_visits_device_time,priority:1" json:"device_id"`
	SessionID        *string   `gorm:"size:64;index;index:idx_visits_session_time,priority:1" json:"session_id"`
	IP               string    `gorm:"size:45;not null;index" json:"ip"`
	Country          *string   `gorm:"size:100" json:"country"`
	Region           *string   `gorm:"size:100" json:"region"`
	City             *string   `gorm:"size:100" json:"city"`
	PageID           *int64    `gorm:"index" json:"page_id"`
	PageType         *string   `gorm:"size:50" json:"page_type"`
	PageURL          string    `gorm:"type:text;not null" json:"page_url"`
	PageURLHash      string    `gorm:"size:40;not null;index;index:idx_visits_hash_time,priority:1" json:"page_url_hash"`
	Referrer         *string   `gorm:"type:text" json:"referrer"`
	UTMSource        *string   `gorm:"column:utm_source;size:100" json:"utm_source"`
	UTMMedium        *string   `gorm:"column:utm_medium;size:100" json:"utm_medium"`
	UTMCampaign      *string   `gorm:"column:utm_campaign;size:100" json:"utm_campaign"`
	UTMTerm          *string   `gorm:"column:utm_term;size:100" json:"utm_term"`
	UTMContent       *string   `gorm:"column:utm_content;size:100" json:"utm_content"`
	GeoLat           *float64  `gorm:"index:idx_visits_geo,priority:1" json:"geo_lat"`
	GeoLng           *float64  `gorm:"index:idx_visits_geo,priority:2" json:"geo_lng"`
	IsLanding        bool      `gorm:"not null;default:false" json:"is_landing"`
	IsSessionLanding bool      `gorm:"not null;default:false" json:"is_session_landing"`
	IsBot            bool      `gorm:"not null;default:false;index" json:"is_bot"`
	BotName          *string   `gorm:"size:100" json:"bot_name"`
	VisitedAt        time.Time `gorm:"not null;index;index:idx_visits_hash_time,priority:2;index:idx_visits_device_time,priority:2;index:idx_visits_session_time,priority:2" json:"visited_at"`
}

// TableName pins the table name.
func (Visit) TableName() string {
	return "user_visits"
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
