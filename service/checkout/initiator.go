package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/pitabwire/util"
)

//go:generate mockgen -source=initiator.go -destination=mock_gateway.go -package=checkout

// Gateway is the remote mobile money gateway.
type Gateway interface {
	Initiate(ctx context.Context, request models.InitiateRequest) (*models.InitiateResponse, error)
	CheckStatus(ctx context.Context, transactionID string) (*models.StatusResponse, error)
}

// InitiationRequest carries already validated inputs for a push payment.
type InitiationRequest struct {
	Phone     string
	Amount    int64
	Currency  string
	BuyerName string
	MatchID   string
}

// Initiator sends the push payment request and extracts the transaction reference.
type Initiator struct {
	gateway  Gateway
	provider string
}

func NewInitiator(gateway Gateway, provider string) *Initiator {
	return &Initiator{gateway: gateway, provider: provider}
}

// Initiate returns the transaction reference of an accepted push request.
// Failures are GatewayInitiationError or MissingReferenceError and are not retried.
func (i *Initiator) Initiate(ctx context.Context, req InitiationRequest) (string, error) {
	logger := util.Log(ctx).WithField("phone", req.Phone).WithField("amount", req.Amount)

	request := models.InitiateRequest{
		Amount:           req.Amount,
		Currency:         req.Currency,
		Phone:            req.Phone,
		Provider:         i.provider,
		AccountReference: req.MatchID,
		Description:      fmt.Sprintf("Match tickets for %s", req.BuyerName),
	}

	response, err := i.gateway.Initiate(ctx, request)
	if err == nil && response == nil {
		err = errors.New("gateway returned an empty response")
	}
	if err != nil {
		logger.WithError(err).Error("push payment initiation failed")
		return "", &GatewayInitiationError{Cause: err}
	}

	if !response.Success {
		initErr := &GatewayInitiationError{Message: response.RejectionMessage()}
		if response.Error != nil {
			initErr.Code = response.Error.Code
		}
		logger.WithField("gatewayMessage", initErr.Message).WithField("gatewayCode", initErr.Code).
			Warn("push payment rejected by gateway")
		return "", initErr
	}

	reference := response.TransactionReference()
	if reference == "" {
		logger.WithField("response", response).Error("push payment accepted without a reference")
		return "", &MissingReferenceError{}
	}

	logger.WithField("transactionId", reference).Info("push payment initiated")
	return reference, nil
}
