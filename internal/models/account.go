package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceType selects which balance pool a fee is charged against
type BalanceType string

const (
	BalanceSim  BalanceType = "sim"
	BalanceReal BalanceType = "real"
)

// Valid reports whether the balance type is one of the known pools
func (t BalanceType) Valid() bool {
	return t == BalanceSim || t == BalanceReal
}

// ThresholdOutcome is the latched result of the win/lose detector
type ThresholdOutcome string

const (
	OutcomeNone ThresholdOutcome = ""
	OutcomeWin  ThresholdOutcome = "win"
	OutcomeLose ThresholdOutcome = "lose"
)

// Account represents a simulated trading account with its two balance pools
type Account struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	Name             string          `gorm:"size:100" json:"name"`
	SimulatedBalance decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"simulated_balance"`
	RealBalance      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"real_balance"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	// Relations
	Settings  *Settings  `gorm:"foreignKey:AccountID" json:"settings,omitempty"`
	Positions []Position `gorm:"foreignKey:AccountID" json:"-"`
}

// TableName specifies the table name for Account model
func (Account) TableName() string {
	return "accounts"
}

// BeforeCreate assigns a UUID when the caller did not provide one
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Balance returns the balance of the given pool
func (a *Account) Balance(t BalanceType) decimal.Decimal {
	if t == BalanceReal {
		return a.RealBalance
	}
	return a.SimulatedBalance
}

// Debit subtracts amount from the given pool
func (a *Account) Debit(t BalanceType, amount decimal.Decimal) {
	if t == BalanceReal {
		a.RealBalance = a.RealBalance.Sub(amount)
		return
	}
	a.SimulatedBalance = a.SimulatedBalance.Sub(amount)
}

// Settings holds the per-account simulation parameters and clock state
type Settings struct {
	AccountID               string           `gorm:"primaryKey;size:36" json:"account_id"`
	CommissionRate          decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"commission_rate"`
	CommissionType          BalanceType      `gorm:"size:10;not null" json:"commission_type"`
	HoldingCostRate         decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"holding_cost_rate"`
	HoldingCostType         BalanceType      `gorm:"size:10;not null" json:"holding_cost_type"`
	MarginLimit             decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"margin_limit"`
	BorrowedMargin          decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"borrowed_margin"`
	OvernightFeeRate        decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"overnight_fee_rate"`
	OvernightFeeType        BalanceType      `gorm:"size:10;not null" json:"overnight_fee_type"`
	PowerUpFee              decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"power_up_fee"`
	PowerUpType             BalanceType      `gorm:"size:10;not null" json:"power_up_type"`
	GainRateThreshold       decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"gain_rate_threshold"`
	DrawdownRateThreshold   decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"drawdown_rate_threshold"`
	InitialSimulatedBalance decimal.Decimal  `gorm:"type:decimal(20,8);not null" json:"initial_simulated_balance"`
	Speed                   float64          `gorm:"not null" json:"speed"`
	Paused                  bool             `gorm:"not null" json:"paused"`
	StartTime               time.Time        `json:"start_time"`
	SimulatedTime           time.Time        `json:"simulated_time"`
	LastProcessedDay        string           `gorm:"size:10" json:"last_processed_day"`
	ThresholdOutcome        ThresholdOutcome `gorm:"size:10" json:"threshold_outcome"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

// TableName specifies the table name for Settings model
func (Settings) TableName() string {
	return "account_settings"
}

// Now returns the simulated clock reading, falling back to wall time
// for settings that were never given a start time
func (s *Settings) Now() time.Time {
	if s.SimulatedTime.IsZero() {
		return time.Now().UTC()
	}
	return s.SimulatedTime
}

// DayLayout is the format used for LastProcessedDay
const DayLayout = "2006-01-02"
