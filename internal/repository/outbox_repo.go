package repository

import (
	"time"

	"github.com/papersim/internal/models"
	"gorm.io/gorm"
)

// OutboxRepository handles the settlement event outbox
type OutboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create stores a pending event
func (r *OutboxRepository) Create(event *models.OutboxEvent) error {
	if event.Status == "" {
		event.Status = models.OutboxPending
	}
	return r.db.Create(event).Error
}

// GetPending retrieves up to limit pending events in insertion order
func (r *OutboxRepository) GetPending(limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	result := r.db.Where("status = ?", models.OutboxPending).
		Order("seq").
		Limit(limit).
		Find(&events)
	return events, result.Error
}

// GetByAccountID retrieves all events for an account in insertion order
func (r *OutboxRepository) GetByAccountID(accountID string) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	result := r.db.Where("account_id = ?", accountID).Order("seq").Find(&events)
	return events, result.Error
}

// MarkPublished flags an event as delivered
func (r *OutboxRepository) MarkPublished(id string, at time.Time) error {
	return r.db.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.OutboxPublished,
			"published_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error
}

// MarkFailed records a failed delivery attempt; the event stays pending
func (r *OutboxRepository) MarkFailed(id string) error {
	return r.db.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}
