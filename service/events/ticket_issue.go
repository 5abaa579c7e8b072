package events

import (
	"context"
	"errors"

	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/antinvestor/service-ticket-payments/service/repository"
	"github.com/pitabwire/util"
)

const TicketIssueEventName = "ticket.issue"

// TicketIssue stores an issued ticket and announces it on the ticket topic. Redelivery
// of the same ticket is a no-op.
type TicketIssue struct {
	Tickets   repository.TicketRepository
	Publisher Publisher
	Topic     string
}

func (e *TicketIssue) Name() string {
	return TicketIssueEventName
}

func (e *TicketIssue) PayloadType() any {
	return &models.Ticket{}
}

func (e *TicketIssue) Validate(_ context.Context, payload any) error {
	ticket, ok := payload.(*models.Ticket)
	if !ok {
		return errors.New(" payload is not of type models.Ticket")
	}
	if ticket.GetID() == "" {
		return errors.New(" ticket Id should already have been set ")
	}
	if ticket.TransactionID == "" {
		return errors.New(" ticket has no transaction id ")
	}
	return nil
}

func (e *TicketIssue) Execute(ctx context.Context, payload any) error {
	ticket := payload.(*models.Ticket)

	logger := util.Log(ctx).WithField("ticketId", ticket.GetID()).
		WithField("transactionId", ticket.TransactionID).WithField("type", e.Name())
	logger.Debug("handling event")

	created, err := e.Tickets.SaveIfAbsent(ctx, ticket)
	if err != nil {
		logger.WithError(err).Warn("could not save ticket to db")
		return err
	}
	if !created {
		logger.Info("ticket already stored for transaction")
		return nil
	}

	if e.Publisher == nil || e.Topic == "" {
		return nil
	}

	err = e.Publisher.Publish(ctx, e.Topic, ticket.ToIssued())
	if err != nil {
		logger.WithError(err).Warn("could not publish issued ticket")
		return err
	}

	logger.Info("ticket issued")
	return nil
}
