package models

// InitiateRequest represents the push payment request sent to the gateway.
type InitiateRequest struct {
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Phone            string `json:"phone"`
	Provider         string `json:"provider"`
	AccountReference string `json:"accountReference,omitempty"`
	Description      string `json:"description,omitempty"`
}

// GatewayError is the error object returned by the gateway on rejected calls.
type GatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InitiateResponse represents the gateway reply to a push payment request.
type InitiateResponse struct {
	Success           bool          `json:"success"`
	Message           string        `json:"message,omitempty"`
	Reference         string        `json:"reference,omitempty"`
	CheckoutRequestID string        `json:"CheckoutRequestID,omitempty"`
	Error             *GatewayError `json:"error,omitempty"`
}

// TransactionReference returns the reference used to poll for the payment outcome.
// The reference field wins, CheckoutRequestID is the fallback.
func (r *InitiateResponse) TransactionReference() string {
	if r == nil {
		return ""
	}
	if r.Reference != "" {
		return r.Reference
	}
	return r.CheckoutRequestID
}

// RejectionMessage returns the most specific message the gateway gave for a rejection.
func (r *InitiateResponse) RejectionMessage() string {
	if r == nil {
		return ""
	}
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return r.Message
}

// StatusResponse represents the gateway reply to a status check.
type StatusResponse struct {
	Success             bool          `json:"success"`
	Status              string        `json:"status"`
	ProviderReference   string        `json:"providerReference,omitempty"`
	ThirdPartyReference string        `json:"thirdPartyReference,omitempty"`
	Error               *GatewayError `json:"error,omitempty"`
}

// ErrorCode returns the gateway error code or an empty string.
func (r *StatusResponse) ErrorCode() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Code
}
