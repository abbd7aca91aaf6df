package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PositionType represents the direction of a position
type PositionType string

const (
	PositionLong  PositionType = "Long"
	PositionShort PositionType = "Short"
)

// Valid reports whether the position type is Long or Short
func (t PositionType) Valid() bool {
	return t == PositionLong || t == PositionShort
}

// PositionStatus represents the lifecycle state of a position
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position represents an open or closed simulated stake in a symbol
type Position struct {
	ID                string              `gorm:"primaryKey;size:36" json:"id"`
	AccountID         string              `gorm:"size:36;not null;index:idx_positions_account_status" json:"account_id"`
	Symbol            string              `gorm:"size:20;not null;index" json:"symbol"`
	PositionType      PositionType        `gorm:"size:10;not null" json:"position_type"`
	OpenPrice         decimal.Decimal     `gorm:"type:decimal(20,8);not null" json:"open_price"`
	OpenShares        decimal.Decimal     `gorm:"type:decimal(20,8);not null" json:"open_shares"`
	OpenTime          time.Time           `gorm:"not null" json:"open_time"`
	Status            PositionStatus      `gorm:"size:10;not null;index:idx_positions_account_status" json:"status"`
	ClosePrice        decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"close_price"`
	CloseShares       decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"close_shares"`
	CloseTime         *time.Time          `json:"close_time,omitempty"`
	RealizedPL        decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"realized_pl"`
	OpenTransactionID string              `gorm:"size:36" json:"open_transaction_id"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// TableName specifies the table name for Position model
func (Position) TableName() string {
	return "positions"
}

// BeforeCreate assigns a UUID when the caller did not provide one
func (p *Position) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// IsOpen reports whether the position can still be settled
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// Notional returns the entry value of the position
func (p *Position) Notional() decimal.Decimal {
	return p.OpenPrice.Mul(p.OpenShares)
}

// RealizedPLAt calculates the cent-rounded P&L of closing the whole position at price
func (p *Position) RealizedPLAt(price decimal.Decimal) decimal.Decimal {
	pl := price.Sub(p.OpenPrice).Mul(p.OpenShares)
	if p.PositionType == PositionShort {
		pl = pl.Neg()
	}
	return pl.Round(2)
}
