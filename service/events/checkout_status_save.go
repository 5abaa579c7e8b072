package events

import (
	"context"
	"errors"

	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/antinvestor/service-ticket-payments/service/repository"
	"github.com/pitabwire/util"
)

const CheckoutStatusSaveEventName = "checkout.status.save"

type CheckoutStatusSave struct {
	Statuses repository.CheckoutStatusRepository
}

func (e *CheckoutStatusSave) Name() string {
	return CheckoutStatusSaveEventName
}

func (e *CheckoutStatusSave) PayloadType() any {
	return &models.CheckoutStatus{}
}

func (e *CheckoutStatusSave) Validate(_ context.Context, payload any) error {
	status, ok := payload.(*models.CheckoutStatus)
	if !ok {
		return errors.New(" payload is not of type models.CheckoutStatus")
	}
	if status.GetID() == "" {
		return errors.New(" checkoutStatus Id should already have been set ")
	}
	return nil
}

func (e *CheckoutStatusSave) Execute(ctx context.Context, payload any) error {
	status := payload.(*models.CheckoutStatus)

	logger := util.Log(ctx).WithField("checkoutId", status.CheckoutID).
		WithField("state", status.State).WithField("type", e.Name())
	logger.Debug("handling event")

	err := e.Statuses.Save(ctx, status)
	if err != nil {
		logger.WithError(err).Warn("could not save checkout status to db")
		return err
	}
	logger.Debug("successfully saved record to db")
	return nil
}
