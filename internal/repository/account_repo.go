package repository

import (
	"errors"

	"github.com/papersim/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = errors.New("account not found")
)

// AccountRepository handles account and settings data access
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new account together with its settings row
func (r *AccountRepository) Create(account *models.Account) error {
	return r.db.Create(account).Error
}

// GetByID retrieves an account and its settings by ID
func (r *AccountRepository) GetByID(id string) (*models.Account, error) {
	var account models.Account
	result := r.db.Preload("Settings").Where("id = ?", id).First(&account)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, result.Error
	}
	if account.Settings == nil {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

// GetForUpdate retrieves an account with a row lock held until the
// surrounding transaction ends
func (r *AccountRepository) GetForUpdate(id string) (*models.Account, error) {
	var account models.Account
	result := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&account)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, result.Error
	}

	var settings models.Settings
	if err := r.db.Where("account_id = ?", id).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	account.Settings = &settings
	return &account, nil
}

// List retrieves every account with its settings
func (r *AccountRepository) List() ([]models.Account, error) {
	var accounts []models.Account
	result := r.db.Preload("Settings").Order("created_at").Find(&accounts)
	return accounts, result.Error
}

// ListRunningIDs returns the IDs of accounts whose clock is not paused
func (r *AccountRepository) ListRunningIDs() ([]string, error) {
	var ids []string
	err := r.db.Model(&models.Settings{}).
		Where("paused = ?", false).
		Order("account_id").
		Pluck("account_id", &ids).Error
	return ids, err
}

// UpdateBalances persists both balance pools of an account
func (r *AccountRepository) UpdateBalances(account *models.Account) error {
	result := r.db.Model(&models.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"simulated_balance": account.SimulatedBalance,
			"real_balance":      account.RealBalance,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SaveSettings persists every settings field
func (r *AccountRepository) SaveSettings(settings *models.Settings) error {
	result := r.db.Model(settings).
		Select("*").
		Omit("account_id").
		Updates(settings)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
