package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event types written to the outbox
const (
	EventTradeOpened     = "trade.opened"
	EventTradeClosed     = "trade.closed"
	EventPositionPowerUp = "position.powered_up"
	EventPositionDeleted = "position.deleted"
	EventMarginChanged   = "margin.changed"
	EventFeesCharged     = "fees.charged"
	EventThresholdWin    = "threshold.win"
	EventThresholdLose   = "threshold.lose"
	EventAccountReset    = "account.reset"
	EventClockChanged    = "clock.changed"
)

// OutboxStatus represents the delivery state of an outbox event
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
)

// OutboxEvent is a settlement event committed in the same transaction as the
// ledger change it describes and relayed to subscribers afterwards. Seq is
// assigned by the database and gives the relay order.
type OutboxEvent struct {
	Seq         uint64       `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID          string       `gorm:"size:36;not null;uniqueIndex" json:"id"`
	AccountID   string       `gorm:"size:36;not null;index" json:"account_id"`
	EventType   string       `gorm:"size:50;not null" json:"event_type"`
	Payload     string       `gorm:"type:text;not null" json:"payload"`
	Status      OutboxStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts    int          `gorm:"not null" json:"attempts"`
	CreatedAt   time.Time    `json:"created_at"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
}

// TableName specifies the table name for OutboxEvent model
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// BeforeCreate assigns a UUID when the caller did not provide one
func (e *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// AllModels lists every model managed by AutoMigrate
func AllModels() []interface{} {
	return []interface{}{
		&Account{},
		&Settings{},
		&Position{},
		&Transaction{},
		&ActivityLog{},
		&OutboxEvent{},
	}
}
