package repository

import (
	"context"

	"github.com/antinvestor/service-ticket-payments/service/models"
	"gorm.io/gorm/clause"
)

type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Ticket, error)
	ListByCheckoutID(ctx context.Context, checkoutID string) ([]*models.Ticket, error)
	// SaveIfAbsent stores the ticket unless one already exists for its transaction.
	// It reports whether a new row was written.
	SaveIfAbsent(ctx context.Context, ticket *models.Ticket) (bool, error)
}

type ticketRepository struct {
	abstractRepository
}

func NewTicketRepository(db DatastoreProvider) TicketRepository {
	return &ticketRepository{abstractRepository{db: db}}
}

func (repo *ticketRepository) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	ticket := models.Ticket{}
	err := repo.readDB(ctx).First(&ticket, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (repo *ticketRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Ticket, error) {
	ticket := models.Ticket{}
	err := repo.readDB(ctx).First(&ticket, "transaction_id = ?", transactionID).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (repo *ticketRepository) ListByCheckoutID(ctx context.Context, checkoutID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := repo.readDB(ctx).Order("issued_at ASC").Find(&tickets, "checkout_id = ?", checkoutID).Error
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (repo *ticketRepository) SaveIfAbsent(ctx context.Context, ticket *models.Ticket) (bool, error) {
	result := repo.writeDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(ticket)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
