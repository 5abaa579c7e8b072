package checkout

import (
	"strings"

	"github.com/antinvestor/service-ticket-payments/service/models"
)

type VerdictKind int

const (
	VerdictContinue VerdictKind = iota
	VerdictSuccess
	VerdictFailure
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictSuccess:
		return "success"
	case VerdictFailure:
		return "failure"
	default:
		return "continue"
	}
}

// Verdict is the classification of one gateway status reply.
type Verdict struct {
	Kind    VerdictKind
	Reason  string
	Code    string
	Message ProgressMessage
	// Transient marks a reply that could not be read at all. It always continues polling.
	Transient bool
	Cause     error
	// Reference is the provider receipt carried by a successful reply.
	Reference string
}

const (
	gatewayStatusSuccess    = "SUCCESS"
	gatewayStatusFailed     = "FAILED"
	gatewayStatusQueued     = "QUEUED"
	gatewayStatusPending    = "PENDING"
	gatewayStatusProcessing = "PROCESSING"

	gatewayErrorTimeout        = "TIMEOUT"
	gatewayErrorInvalidAccount = "INVALID_ACCOUNT"
)

const (
	reasonUnsuccessful   = "Payment unsuccessful. Please try again."
	reasonUnknownStatus  = "Unable to determine payment status."
	reasonTimeout        = "The M-Pesa request timed out. Please try again."
	reasonInvalidAccount = "The M-Pesa account is invalid. Check the number and try again."
	reasonVerification   = "Payment verification failed."
)

var continueMessages = map[string]ProgressMessage{
	gatewayStatusQueued:     {Main: "Payment request queued", Sub: "Waiting for M-Pesa to send the prompt to your phone"},
	gatewayStatusPending:    {Main: "Waiting for confirmation", Sub: "Enter your M-Pesa PIN on your phone to complete payment"},
	gatewayStatusProcessing: {Main: "Processing payment", Sub: "M-Pesa is confirming your transaction"},
}

var transientMessage = ProgressMessage{Main: "Checking payment status", Sub: "Still waiting for a response from M-Pesa"}

// Classify maps a status reply, or the error that replaced it, to a verdict.
func Classify(resp *models.StatusResponse, err error) Verdict {
	if err != nil || resp == nil {
		return Verdict{Kind: VerdictContinue, Transient: true, Cause: err, Message: transientMessage}
	}

	status := strings.ToUpper(strings.TrimSpace(resp.Status))

	reference := resp.ProviderReference
	if reference == "" {
		reference = resp.ThirdPartyReference
	}

	if reference != "" && status == gatewayStatusSuccess {
		return Verdict{Kind: VerdictSuccess, Reference: reference}
	}

	if !resp.Success {
		code := strings.ToUpper(strings.TrimSpace(resp.ErrorCode()))
		switch code {
		case gatewayErrorTimeout:
			return Verdict{Kind: VerdictFailure, Code: code, Reason: reasonTimeout}
		case gatewayErrorInvalidAccount:
			return Verdict{Kind: VerdictFailure, Code: code, Reason: reasonInvalidAccount}
		default:
			return Verdict{Kind: VerdictFailure, Code: code, Reason: reasonVerification}
		}
	}

	switch status {
	case gatewayStatusSuccess:
		return Verdict{Kind: VerdictSuccess, Reference: reference}
	case gatewayStatusFailed:
		return Verdict{Kind: VerdictFailure, Code: status, Reason: reasonUnsuccessful}
	case gatewayStatusQueued, gatewayStatusPending, gatewayStatusProcessing:
		return Verdict{Kind: VerdictContinue, Message: continueMessages[status]}
	default:
		return Verdict{Kind: VerdictFailure, Code: status, Reason: reasonUnknownStatus}
	}
}
