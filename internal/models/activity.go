package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity log actions
const (
	ActivityTradeOpened     = "trade_opened"
	ActivityTradeClosed     = "trade_closed"
	ActivityPowerUp         = "power_up"
	ActivityPositionDeleted = "position_deleted"
	ActivityBorrow          = "margin_borrow"
	ActivityPayback         = "margin_payback"
	ActivityLeverage        = "margin_leverage"
	ActivitySettings        = "settings_updated"
	ActivityReset           = "account_reset"
	ActivityEndOfDay        = "end_of_day_charges"
	ActivityThreshold       = "threshold_reached"
	ActivityClock           = "clock_changed"
)

// ActivityLog records a human-readable entry for every ledger mutation
type ActivityLog struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	AccountID string    `gorm:"size:36;not null;index" json:"account_id"`
	Action    string    `gorm:"size:50;not null" json:"action"`
	Details   string    `gorm:"type:text" json:"details"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName specifies the table name for ActivityLog model
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// BeforeCreate assigns a UUID when the caller did not provide one
func (l *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
