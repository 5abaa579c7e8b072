package business

import (
	"context"
	"fmt"

	"github.com/antinvestor/service-ticket-payments/service/checkout"
	"github.com/antinvestor/service-ticket-payments/service/events"
	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/pitabwire/util"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	MessageTypeUpdate       = "update"
	MessageTypeNotification = "notification"
	MessageTypeTicket       = "ticket"
)

// Emitter queues an internal event; frame.Service.Emit fits through EmitterFunc.
type Emitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

type EmitterFunc func(ctx context.Context, name string, payload any) error

func (f EmitterFunc) Emit(ctx context.Context, name string, payload any) error {
	return f(ctx, name, payload)
}

// Broadcaster pushes a message to the stream clients of a checkout.
type Broadcaster interface {
	Publish(ctx context.Context, topic, msgType string, data any) error
}

type streamNotifier struct {
	checkoutID  string
	broadcaster Broadcaster
}

func (n *streamNotifier) Notify(ctx context.Context, notification checkout.Notification) {
	util.Log(ctx).WithField("checkoutId", n.checkoutID).
		WithField("title", notification.Title).
		WithField("severity", string(notification.Severity)).
		Info(notification.Description)

	if n.broadcaster == nil {
		return
	}
	if err := n.broadcaster.Publish(ctx, n.checkoutID, MessageTypeNotification, notification); err != nil {
		util.Log(ctx).WithError(err).WithField("checkoutId", n.checkoutID).Debug("could not stream notification")
	}
}

// ticketSink hands issued tickets to the ticket.issue event for storage and
// publication.
type ticketSink struct {
	checkoutID  string
	emitter     Emitter
	broadcaster Broadcaster
}

func (s *ticketSink) Deliver(ctx context.Context, record checkout.TicketRecord) error {
	ticket := ticketFromRecord(s.checkoutID, record)
	ticket.GenID(ctx)

	if s.broadcaster != nil {
		if err := s.broadcaster.Publish(ctx, s.checkoutID, MessageTypeTicket, record); err != nil {
			util.Log(ctx).WithError(err).WithField("checkoutId", s.checkoutID).Debug("could not stream ticket")
		}
	}

	if err := s.emitter.Emit(ctx, events.TicketIssueEventName, ticket); err != nil {
		return fmt.Errorf("emit ticket %s: %w", record.TicketID, err)
	}
	return nil
}

func ticketFromRecord(checkoutID string, record checkout.TicketRecord) *models.Ticket {
	ticket := &models.Ticket{
		CheckoutID:    checkoutID,
		TicketNumber:  record.TicketID,
		TransactionID: record.TransactionID,
		BuyerName:     record.BuyerName,
		BuyerEmail:    record.BuyerEmail,
		MatchID:       record.Match.ID,
		HomeTeam:      record.Match.HomeTeam,
		AwayTeam:      record.Match.AwayTeam,
		Venue:         record.Match.Venue,
		Quantity:      record.Quantity,
		Amount:        decimal.NewNullDecimal(record.TotalAmount),
		Currency:      record.Currency,
		Gate:          record.Gate,
		Section:       record.Section,
		Row:           record.Row,
		GateOpenAt:    record.GateOpenTime,
		IssuedAt:      record.IssuedAt,
	}
	if !record.Match.Kickoff.IsZero() {
		kickoff := record.Match.Kickoff
		ticket.Kickoff = &kickoff
	}

	extra := datatypes.JSONMap{}
	if record.Match.City != "" {
		extra["city"] = record.Match.City
	}
	if record.ProviderReference != "" {
		extra["providerReference"] = record.ProviderReference
	}
	if len(extra) > 0 {
		ticket.Extra = extra
	}
	return ticket
}

// auditObserver records every state change and mirrors each update to the stream.
type auditObserver struct {
	checkoutID  string
	emitter     Emitter
	broadcaster Broadcaster
}

func (o *auditObserver) observe(ctx context.Context, update checkout.Update) {
	if o.broadcaster != nil {
		if err := o.broadcaster.Publish(ctx, o.checkoutID, MessageTypeUpdate, update.Snapshot); err != nil {
			util.Log(ctx).WithError(err).WithField("checkoutId", o.checkoutID).Debug("could not stream update")
		}
	}

	if !update.StateChanged {
		return
	}

	snapshot := update.Snapshot
	status := &models.CheckoutStatus{
		CheckoutID:    o.checkoutID,
		TransactionID: snapshot.TransactionID,
		State:         snapshot.State.String(),
		PreviousState: update.Previous.String(),
		AttemptCount:  snapshot.AttemptCount,
		Progress:      snapshot.Progress.Value,
		Reason:        snapshot.LastError,
	}
	if snapshot.ProviderReference != "" {
		status.Extra = datatypes.JSONMap{"providerReference": snapshot.ProviderReference}
	}
	status.GenID(ctx)

	if err := o.emitter.Emit(ctx, events.CheckoutStatusSaveEventName, status); err != nil {
		util.Log(ctx).WithError(err).WithField("checkoutId", o.checkoutID).Warn("could not emit checkout status event")
	}
}
