package repository

import (
	"errors"

	"github.com/papersim/internal/models"
	"gorm.io/gorm"
)

var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository handles position data access
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new PositionRepository
func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create creates a new position
func (r *PositionRepository) Create(position *models.Position) error {
	return r.db.Create(position).Error
}

// GetByID retrieves a position by ID
func (r *PositionRepository) GetByID(id string) (*models.Position, error) {
	var position models.Position
	result := r.db.Where("id = ?", id).First(&position)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, result.Error
	}
	return &position, nil
}

// GetByAccountID retrieves positions for an account in stored order,
// optionally filtered by status
func (r *PositionRepository) GetByAccountID(accountID string, status models.PositionStatus) ([]models.Position, error) {
	var positions []models.Position
	query := r.db.Where("account_id = ?", accountID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	result := query.Order("open_time, created_at, id").Find(&positions)
	return positions, result.Error
}

// GetOpenByAccountID retrieves the open positions of an account in stored order
func (r *PositionRepository) GetOpenByAccountID(accountID string) ([]models.Position, error) {
	return r.GetByAccountID(accountID, models.PositionOpen)
}

// MarkClosed writes the close fields of a position that is still open.
// It returns the number of rows changed so callers can detect a lost race.
func (r *PositionRepository) MarkClosed(position *models.Position) (int64, error) {
	result := r.db.Model(&models.Position{}).
		Where("id = ? AND status = ?", position.ID, models.PositionOpen).
		Updates(map[string]interface{}{
			"status":       models.PositionClosed,
			"close_price":  position.ClosePrice,
			"close_shares": position.CloseShares,
			"close_time":   position.CloseTime,
			"realized_pl":  position.RealizedPL,
		})
	return result.RowsAffected, result.Error
}

// Delete removes a position
func (r *PositionRepository) Delete(id string) (int64, error) {
	result := r.db.Where("id = ?", id).Delete(&models.Position{})
	return result.RowsAffected, result.Error
}

// DeleteByAccountID removes all positions for an account
func (r *PositionRepository) DeleteByAccountID(accountID string) (int64, error) {
	result := r.db.Where("account_id = ?", accountID).Delete(&models.Position{})
	return result.RowsAffected, result.Error
}
