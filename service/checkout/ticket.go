package checkout

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ticketIDPrefix     = "TKT-"
	ticketIDSuffixSize = 8
	maxTicketRow       = 30
	gateOpenLead       = 2 * time.Hour
)

var (
	ticketGates    = []string{"A", "B", "C", "D", "E", "F"}
	ticketSections = []string{"101", "102", "103", "104", "105", "106", "107", "108", "109", "110", "111", "112", "VIP"}
)

// Match describes the fixture a ticket admits to.
type Match struct {
	ID       string    `json:"id"`
	HomeTeam string    `json:"homeTeam"`
	AwayTeam string    `json:"awayTeam"`
	Venue    string    `json:"venue"`
	City     string    `json:"city,omitempty"`
	Kickoff  time.Time `json:"kickoff"`
}

// MatchCatalog resolves fixture details for a match id.
type MatchCatalog interface {
	Lookup(matchID string) (Match, bool)
}

// StaticCatalog is a MatchCatalog backed by a fixed map.
type StaticCatalog map[string]Match

func (c StaticCatalog) Lookup(matchID string) (Match, bool) {
	match, ok := c[matchID]
	return match, ok
}

// TicketRecord is the e-ticket handed to the display collaborator.
type TicketRecord struct {
	TicketID      string          `json:"ticketId"`
	TransactionID string          `json:"transactionId"`
	BuyerName     string          `json:"buyerName"`
	BuyerEmail    string          `json:"buyerEmail,omitempty"`
	Match         Match           `json:"match"`
	Quantity      int             `json:"quantity"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
	Gate          string          `json:"gate"`
	Section       string          `json:"section"`
	Row           int             `json:"row"`
	GateOpenTime  *time.Time      `json:"gateOpenTime,omitempty"`
	IssuedAt      time.Time       `json:"issuedAt"`

	ProviderReference string `json:"providerReference,omitempty"`
}

type ticketIssuer struct {
	catalog MatchCatalog
	intN    func(n int) int
}

func newTicketIssuer(catalog MatchCatalog) *ticketIssuer {
	return &ticketIssuer{catalog: catalog, intN: rand.IntN}
}

// issue builds the ticket for a session the first time it is called for it.
func (ti *ticketIssuer) issue(s *PaymentSession, now time.Time) (*TicketRecord, bool) {
	if s.ticketIssued {
		return nil, false
	}
	s.ticketIssued = true

	record := &TicketRecord{
		TicketID:      ticketIDFor(s.transactionID, now),
		TransactionID: s.transactionID,
		BuyerName:     s.buyer.Name,
		BuyerEmail:    s.buyer.Email,
		Match:         Match{ID: s.matchID},
		Quantity:      s.quantity,
		TotalAmount:   decimal.NewFromInt(s.amount),
		Currency:      s.currency,
		Gate:          ticketGates[ti.intN(len(ticketGates))],
		Section:       ticketSections[ti.intN(len(ticketSections))],
		Row:           ti.intN(maxTicketRow) + 1,
		IssuedAt:      now,

		ProviderReference: s.providerReference,
	}

	if ti.catalog != nil {
		if match, ok := ti.catalog.Lookup(s.matchID); ok {
			record.Match = match
			if !match.Kickoff.IsZero() {
				gateOpen := match.Kickoff.Add(-gateOpenLead)
				record.GateOpenTime = &gateOpen
			}
		}
	}

	return record, true
}

// ticketIDFor derives the ticket id from the tail of the transaction reference,
// falling back to a time based id when there is no reference.
func ticketIDFor(transactionID string, now time.Time) string {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return ticketIDPrefix + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	}
	runes := []rune(transactionID)
	if len(runes) > ticketIDSuffixSize {
		runes = runes[len(runes)-ticketIDSuffixSize:]
	}
	return ticketIDPrefix + strings.ToUpper(string(runes))
}
