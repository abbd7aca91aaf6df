package repository

import (
	"github.com/papersim/internal/models"
	"gorm.io/gorm"
)

// ActivityLogRepository handles activity log data access
type ActivityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository creates a new ActivityLogRepository
func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Create appends a log entry
func (r *ActivityLogRepository) Create(entry *models.ActivityLog) error {
	return r.db.Create(entry).Error
}

// GetByAccountIDPaginated retrieves log entries with pagination, newest first
func (r *ActivityLogRepository) GetByAccountIDPaginated(accountID string, page, pageSize int) ([]models.ActivityLog, int64, error) {
	var entries []models.ActivityLog
	var total int64

	if err := r.db.Model(&models.ActivityLog{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("account_id = ?", accountID).
		Order("timestamp DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&entries)

	return entries, total, result.Error
}

// CountByAction counts entries of one action for an account
func (r *ActivityLogRepository) CountByAction(accountID, action string) (int64, error) {
	var count int64
	err := r.db.Model(&models.ActivityLog{}).
		Where("account_id = ? AND action = ?", accountID, action).
		Count(&count).Error
	return count, err
}
