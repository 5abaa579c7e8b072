package models

import (
	"strconv"
	"time"

	"github.com/antinvestor/service-ticket-payments/service/utility"
	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	money "google.golang.org/genproto/googleapis/type/money"
	"gorm.io/datatypes"
)

// Ticket holds an e-ticket issued for a confirmed payment. There is at most one
// ticket per transaction.
type Ticket struct {
	frame.BaseModel

	CheckoutID    string `gorm:"type:varchar(50);index"`
	TicketNumber  string `gorm:"type:varchar(50)"`
	TransactionID string `gorm:"type:varchar(100);uniqueIndex"`

	BuyerName  string `gorm:"type:varchar(250)"`
	BuyerEmail string `gorm:"type:varchar(250)"`

	MatchID  string `gorm:"type:varchar(50)"`
	HomeTeam string `gorm:"type:varchar(100)"`
	AwayTeam string `gorm:"type:varchar(100)"`
	Venue    string `gorm:"type:varchar(250)"`
	Kickoff  *time.Time

	Quantity int
	Amount   decimal.NullDecimal `gorm:"type:numeric" json:"amount"`
	Currency string              `gorm:"type:varchar(10)"`

	Gate       string `gorm:"type:varchar(10)"`
	Section    string `gorm:"type:varchar(10)"`
	Row        int
	GateOpenAt *time.Time
	IssuedAt   time.Time

	Extra datatypes.JSONMap `gorm:"index:,type:gin,option:jsonb_path_ops" json:"extra"`
}

// Seat renders the seat allocation the way it is printed on the ticket.
func (model *Ticket) Seat() string {
	if model.Gate == "" {
		return ""
	}
	return "Gate " + model.Gate + ", Section " + model.Section + ", Row " + strconv.Itoa(model.Row)
}

// TicketIssued is the message published once a ticket has been stored.
type TicketIssued struct {
	TicketID      string       `json:"ticketId"`
	TicketNumber  string       `json:"ticketNumber"`
	CheckoutID    string       `json:"checkoutId"`
	TransactionID string       `json:"transactionId"`
	BuyerName     string       `json:"buyerName"`
	BuyerEmail    string       `json:"buyerEmail,omitempty"`
	MatchID       string       `json:"matchId"`
	Venue         string       `json:"venue,omitempty"`
	Quantity      int          `json:"quantity"`
	Amount        *money.Money `json:"amount"`
	Seat          string       `json:"seat"`
	GateOpenAt    *time.Time   `json:"gateOpenAt,omitempty"`
	IssuedAt      time.Time    `json:"issuedAt"`
}

func (model *Ticket) ToIssued() *TicketIssued {
	return &TicketIssued{
		TicketID:      model.GetID(),
		TicketNumber:  model.TicketNumber,
		CheckoutID:    model.CheckoutID,
		TransactionID: model.TransactionID,
		BuyerName:     model.BuyerName,
		BuyerEmail:    model.BuyerEmail,
		MatchID:       model.MatchID,
		Venue:         model.Venue,
		Quantity:      model.Quantity,
		Amount:        utility.ToMoney(model.Currency, model.Amount.Decimal),
		Seat:          model.Seat(),
		GateOpenAt:    model.GateOpenAt,
		IssuedAt:      model.IssuedAt,
	}
}

// CheckoutStatus is one audit entry of a checkout state change.
type CheckoutStatus struct {
	frame.BaseModel

	CheckoutID    string `gorm:"type:varchar(50);index"`
	TransactionID string `gorm:"type:varchar(100)"`
	State         string `gorm:"type:varchar(20)"`
	PreviousState string `gorm:"type:varchar(20)"`
	AttemptCount  int
	Progress      float64
	Reason        string            `gorm:"type:text"`
	Extra         datatypes.JSONMap `gorm:"index:,type:gin,option:jsonb_path_ops" json:"extra"`
}
