package checkout

import (
	"fmt"
	"time"
)

type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// PaymentSession is the single record a Flow drives. Only the Flow's control loop
// touches it; everything else reads a Snapshot.
type PaymentSession struct {
	generation uint64

	transactionID string
	phoneNumber   string
	amount        int64
	currency      string
	buyer         Buyer
	matchID       string
	quantity      int

	state        State
	attemptCount int
	lastError    error

	// pollingEstablished flips on the first answered status check.
	pollingEstablished bool
	consecutiveErrors  int
	ticketIssued       bool

	// pollingStopped is set once the attempt budget is spent.
	pollingStopped    bool
	providerReference string

	startedAt time.Time
	updatedAt time.Time
}

func newPaymentSession(generation uint64, phone string, amount int64, order Order, now time.Time) *PaymentSession {
	return &PaymentSession{
		generation:  generation,
		phoneNumber: phone,
		amount:      amount,
		currency:    order.Currency,
		buyer:       order.Buyer,
		matchID:     order.MatchID,
		quantity:    order.Quantity,
		state:       StateIdle,
		startedAt:   now,
		updatedAt:   now,
	}
}

func (s *PaymentSession) transition(to State, now time.Time) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	s.updatedAt = now
	return nil
}

func (s *PaymentSession) assignTransactionID(id string) error {
	if s.transactionID != "" {
		return ErrTransactionIDAssigned
	}
	s.transactionID = id
	return nil
}

// Snapshot is a read-only copy of a session plus its progress estimate.
type Snapshot struct {
	CheckoutID    string    `json:"checkoutId"`
	TransactionID string    `json:"transactionId,omitempty"`
	PhoneNumber   string    `json:"phoneNumber,omitempty"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	MatchID       string    `json:"matchId,omitempty"`
	Quantity      int       `json:"quantity,omitempty"`
	State         State     `json:"state"`
	AttemptCount  int       `json:"attemptCount"`
	LastError     string    `json:"lastError,omitempty"`
	Progress      Progress  `json:"progress"`
	StartedAt     time.Time `json:"startedAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`

	// PollingStopped marks a pending session nothing is checking any more.
	PollingStopped    bool   `json:"pollingStopped,omitempty"`
	ProviderReference string `json:"providerReference,omitempty"`
}

func (s *PaymentSession) snapshot(checkoutID string, progress Progress) Snapshot {
	return Snapshot{
		CheckoutID:    checkoutID,
		TransactionID: s.transactionID,
		PhoneNumber:   s.phoneNumber,
		Amount:        s.amount,
		Currency:      s.currency,
		MatchID:       s.matchID,
		Quantity:      s.quantity,
		State:         s.state,
		AttemptCount:  s.attemptCount,
		LastError:     UserMessage(s.lastError),
		Progress:      progress,
		StartedAt:     s.startedAt,
		UpdatedAt:     s.updatedAt,

		PollingStopped:    s.pollingStopped,
		ProviderReference: s.providerReference,
	}
}
