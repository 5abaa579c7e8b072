package checkout

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")

	ErrTransactionIDAssigned = errors.New("transaction id already assigned")

	ErrFlowClosed = errors.New("checkout flow is closed")
)

const (
	defaultUserMessage = "Something went wrong. Please try again."

	initiationFailedMessage = "We could not send the M-Pesa request. Please try again."
	maxGatewayMessageRunes  = 120
)

// rejectionMessages replaces the gateway text for rejection codes we recognise.
var rejectionMessages = map[string]string{
	"INSUFFICIENT_FUNDS":  "Your M-Pesa balance is too low for this payment.",
	"INVALID_ACCOUNT":     reasonInvalidAccount,
	"DUPLICATE_REQUEST":   "A payment request is already waiting on your phone. Complete it or try again shortly.",
	"SUBSCRIBER_LOCKED":   "Your M-Pesa account is locked. Contact Safaricom and try again.",
	"INVALID_PHONE":       "The phone number is not registered for M-Pesa.",
	"TRANSACTION_EXPIRED": reasonTimeout,
}

// ValidationError reports bad phone or amount input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) UserMessage() string {
	return e.Reason
}

func (e *ValidationError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Reason)
}

// GatewayInitiationError reports a push request the gateway rejected or never answered.
// Message and Code are the gateway's own and are only shown to users once cleaned.
type GatewayInitiationError struct {
	Code    string
	Message string
	Cause   error
}

func (e *GatewayInitiationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("payment initiation failed: %v", e.Cause)
	}
	return fmt.Sprintf("payment initiation rejected: %s", e.Message)
}

func (e *GatewayInitiationError) Unwrap() error {
	return e.Cause
}

func (e *GatewayInitiationError) UserMessage() string {
	if e.Cause != nil {
		return initiationFailedMessage
	}
	if message, ok := rejectionMessages[strings.ToUpper(strings.TrimSpace(e.Code))]; ok {
		return message
	}
	if message := sanitizeGatewayMessage(e.Message); message != "" {
		return message
	}
	return initiationFailedMessage
}

// sanitizeGatewayMessage drops control characters, collapses whitespace and
// caps the length of text received from the gateway.
func sanitizeGatewayMessage(message string) string {
	message = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case !unicode.IsPrint(r):
			return -1
		}
		return r
	}, message)
	message = strings.Join(strings.Fields(message), " ")

	runes := []rune(message)
	if len(runes) > maxGatewayMessageRunes {
		message = strings.TrimSpace(string(runes[:maxGatewayMessageRunes])) + "..."
	}
	return message
}

func (e *GatewayInitiationError) GRPCStatus() *status.Status {
	if e.Cause != nil {
		return status.New(codes.Unavailable, e.UserMessage())
	}
	return status.New(codes.FailedPrecondition, e.UserMessage())
}

// MissingReferenceError reports an accepted initiation that carried no transaction reference.
type MissingReferenceError struct{}

func (e *MissingReferenceError) Error() string {
	return "payment initiation accepted without a transaction reference"
}

func (e *MissingReferenceError) UserMessage() string {
	return "The payment could not be tracked. Please try again."
}

func (e *MissingReferenceError) GRPCStatus() *status.Status {
	return status.New(codes.Internal, e.UserMessage())
}

// TransientPollingError wraps a malformed or failed status check. Polling continues.
type TransientPollingError struct {
	Cause error
}

func (e *TransientPollingError) Error() string {
	return fmt.Sprintf("status check failed: %v", e.Cause)
}

func (e *TransientPollingError) Unwrap() error {
	return e.Cause
}

func (e *TransientPollingError) UserMessage() string {
	return "We are having trouble confirming your payment. Still trying."
}

func (e *TransientPollingError) GRPCStatus() *status.Status {
	return status.New(codes.Unavailable, e.UserMessage())
}

// TerminalFailure reports an explicit failure verdict for the payment.
type TerminalFailure struct {
	Code   string
	Reason string
}

func (e *TerminalFailure) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment failed [%s]: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("payment failed: %s", e.Reason)
}

func (e *TerminalFailure) UserMessage() string {
	return e.Reason
}

func (e *TerminalFailure) GRPCStatus() *status.Status {
	return status.New(codes.Aborted, e.Reason)
}

// TimeoutAdvisory reports that the attempt budget ran out without a terminal verdict.
// The session stays Pending.
type TimeoutAdvisory struct {
	Attempts int
}

func (e *TimeoutAdvisory) Error() string {
	return fmt.Sprintf("no payment confirmation after %d status checks", e.Attempts)
}

func (e *TimeoutAdvisory) UserMessage() string {
	return "We have not received a confirmation yet. If you approved the payment, contact support with your M-Pesa message."
}

func (e *TimeoutAdvisory) GRPCStatus() *status.Status {
	return status.New(codes.DeadlineExceeded, e.UserMessage())
}

type userMessager interface {
	UserMessage() string
}

// UserMessage converts any error into a short message that is safe to show a buyer.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var um userMessager
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return defaultUserMessage
}
