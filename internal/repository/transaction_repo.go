package repository

import (
	"github.com/papersim/internal/models"
	"gorm.io/gorm"
)

// TransactionRepository handles the append-only trade journal
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new TransactionRepository
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a new transaction
func (r *TransactionRepository) Create(txn *models.Transaction) error {
	return r.db.Create(txn).Error
}

// GetByPositionID retrieves the transactions recorded against a position, oldest first
func (r *TransactionRepository) GetByPositionID(positionID string) ([]models.Transaction, error) {
	var txns []models.Transaction
	result := r.db.Where("position_id = ?", positionID).Order("timestamp, created_at").Find(&txns)
	return txns, result.Error
}

// GetByAccountIDPaginated retrieves transactions with pagination, newest first
func (r *TransactionRepository) GetByAccountIDPaginated(accountID string, page, pageSize int) ([]models.Transaction, int64, error) {
	var txns []models.Transaction
	var total int64

	if err := r.db.Model(&models.Transaction{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("account_id = ?", accountID).
		Order("timestamp DESC, created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&txns)

	return txns, total, result.Error
}
