package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeAction represents the kind of trade execution a transaction records
type TradeAction string

const (
	ActionBuy   TradeAction = "buy"
	ActionShort TradeAction = "short"
	ActionSell  TradeAction = "sell"
	ActionCover TradeAction = "cover"
)

// OpenAction returns the action recorded when a position of type t is opened
func OpenAction(t PositionType) TradeAction {
	if t == PositionShort {
		return ActionShort
	}
	return ActionBuy
}

// CloseAction returns the action recorded when a position of type t is closed
func CloseAction(t PositionType) TradeAction {
	if t == PositionShort {
		return ActionCover
	}
	return ActionSell
}

// Transaction is an immutable record of a trade execution
type Transaction struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	AccountID         string          `gorm:"size:36;not null;index" json:"account_id"`
	PositionID        string          `gorm:"size:36;not null;index" json:"position_id"`
	Symbol            string          `gorm:"size:20;not null" json:"symbol"`
	Shares            decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"shares"`
	Price             decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"price"`
	Action            TradeAction     `gorm:"size:10;not null" json:"action"`
	CommissionCharged decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"commission_charged"`
	CommissionType    BalanceType     `gorm:"size:10;not null" json:"commission_type"`
	Timestamp         time.Time       `gorm:"not null;index" json:"timestamp"`
	Notes             string          `gorm:"size:500" json:"notes"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TableName specifies the table name for Transaction model
func (Transaction) TableName() string {
	return "transactions"
}

// BeforeCreate assigns a UUID when the caller did not provide one
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
