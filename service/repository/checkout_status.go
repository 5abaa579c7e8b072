package repository

import (
	"context"

	"github.com/antinvestor/service-ticket-payments/service/models"
	"gorm.io/gorm/clause"
)

type CheckoutStatusRepository interface {
	GetByID(ctx context.Context, id string) (*models.CheckoutStatus, error)
	GetByCheckoutID(ctx context.Context, checkoutID string) ([]models.CheckoutStatus, error)
	Save(ctx context.Context, status *models.CheckoutStatus) error
}

type checkoutStatusRepository struct {
	abstractRepository
}

func NewCheckoutStatusRepository(db DatastoreProvider) CheckoutStatusRepository {
	return &checkoutStatusRepository{abstractRepository{db: db}}
}

func (repo *checkoutStatusRepository) GetByID(ctx context.Context, id string) (*models.CheckoutStatus, error) {
	status := models.CheckoutStatus{}
	err := repo.readDB(ctx).First(&status, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (repo *checkoutStatusRepository) GetByCheckoutID(ctx context.Context, checkoutID string) ([]models.CheckoutStatus, error) {
	var statusList []models.CheckoutStatus

	err := repo.readDB(ctx).Order("created_at ASC").Find(&statusList,
		"checkout_id = ?", checkoutID).Error
	if err != nil {
		return nil, err
	}
	return statusList, nil
}

// Save upserts on id so a redelivered audit event does not duplicate the entry.
func (repo *checkoutStatusRepository) Save(ctx context.Context, status *models.CheckoutStatus) error {
	return repo.writeDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(status).Error
}
