package business

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/antinvestor/service-ticket-payments/service/checkout"
	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/antinvestor/service-ticket-payments/service/repository"
	"github.com/google/uuid"
	"github.com/pitabwire/util"
	"gorm.io/gorm"
)

// CheckoutView is what callers see of a checkout: the session snapshot plus the
// ticket once one has been issued.
type CheckoutView struct {
	checkout.Snapshot
	Ticket *checkout.TicketRecord `json:"ticket,omitempty"`
}

type CheckoutBusiness interface {
	Create(ctx context.Context, order checkout.Order) (*CheckoutView, error)
	Retry(ctx context.Context, checkoutID string, order checkout.Order) (*CheckoutView, error)
	Get(ctx context.Context, checkoutID string) (*CheckoutView, error)
	Cancel(ctx context.Context, checkoutID string) (*CheckoutView, error)
	GetTicket(ctx context.Context, transactionID string) (*models.Ticket, error)
	Sweep(ctx context.Context) int
	Shutdown(ctx context.Context)
}

// Options tunes the checkouts a CheckoutBusiness creates.
type Options struct {
	Schedule  checkout.Schedule
	Provider  string
	Currency  string
	Catalog   checkout.MatchCatalog
	Retention time.Duration
}

type checkoutEntry struct {
	flow      *checkout.Flow
	createdAt time.Time
}

type checkoutBusiness struct {
	ctx         context.Context
	gateway     checkout.Gateway
	emitter     Emitter
	broadcaster Broadcaster
	tickets     repository.TicketRepository
	options     Options
	now         func() time.Time

	mu        sync.RWMutex
	checkouts map[string]*checkoutEntry
}

// NewCheckoutBusiness builds the checkout registry. ctx bounds the lifetime of every
// checkout it creates.
func NewCheckoutBusiness(ctx context.Context, gateway checkout.Gateway, emitter Emitter,
	broadcaster Broadcaster, tickets repository.TicketRepository, options Options) (CheckoutBusiness, error) {
	if gateway == nil || emitter == nil || tickets == nil {
		return nil, ErrorInitializationFail
	}
	if err := options.Schedule.Validate(); err != nil {
		return nil, ErrorInitializationFail
	}

	return &checkoutBusiness{
		ctx:         ctx,
		gateway:     gateway,
		emitter:     emitter,
		broadcaster: broadcaster,
		tickets:     tickets,
		options:     options,
		now:         time.Now,
		checkouts:   make(map[string]*checkoutEntry),
	}, nil
}

func (cb *checkoutBusiness) newFlow(checkoutID string) (*checkout.Flow, error) {
	observer := &auditObserver{checkoutID: checkoutID, emitter: cb.emitter, broadcaster: cb.broadcaster}

	opts := []checkout.Option{
		checkout.WithNotifier(&streamNotifier{checkoutID: checkoutID, broadcaster: cb.broadcaster}),
		checkout.WithTicketSink(&ticketSink{checkoutID: checkoutID, emitter: cb.emitter, broadcaster: cb.broadcaster}),
		checkout.WithObserver(observer.observe),
	}
	if cb.options.Catalog != nil {
		opts = append(opts, checkout.WithMatchCatalog(cb.options.Catalog))
	}
	if cb.options.Provider != "" {
		opts = append(opts, checkout.WithProvider(cb.options.Provider))
	}
	if cb.options.Currency != "" {
		opts = append(opts, checkout.WithDefaultCurrency(cb.options.Currency))
	}

	return checkout.NewFlow(cb.ctx, checkoutID, cb.gateway, cb.options.Schedule, opts...)
}

func (cb *checkoutBusiness) Create(ctx context.Context, order checkout.Order) (*CheckoutView, error) {
	checkoutID := uuid.NewString()
	logger := util.Log(ctx).WithField("checkoutId", checkoutID)

	flow, err := cb.newFlow(checkoutID)
	if err != nil {
		logger.WithError(err).Error("could not create checkout flow")
		return nil, ErrorInitializationFail
	}

	cb.mu.Lock()
	cb.checkouts[checkoutID] = &checkoutEntry{flow: flow, createdAt: cb.now()}
	cb.mu.Unlock()

	view, err := cb.start(ctx, flow, order)

	var validationErr *checkout.ValidationError
	if errors.As(err, &validationErr) {
		cb.remove(ctx, checkoutID)
		return nil, err
	}
	return view, err
}

func (cb *checkoutBusiness) Retry(ctx context.Context, checkoutID string, order checkout.Order) (*CheckoutView, error) {
	flow, err := cb.lookup(checkoutID)
	if err != nil {
		return nil, err
	}
	return cb.start(ctx, flow, order)
}

func (cb *checkoutBusiness) start(ctx context.Context, flow *checkout.Flow, order checkout.Order) (*CheckoutView, error) {
	_, startErr := flow.Start(ctx, order)
	if errors.Is(startErr, checkout.ErrFlowClosed) {
		return nil, ErrorCheckoutClosed
	}

	var validationErr *checkout.ValidationError
	if errors.As(startErr, &validationErr) {
		return nil, startErr
	}

	view, err := cb.view(ctx, flow)
	if err != nil {
		return nil, err
	}
	return view, startErr
}

func (cb *checkoutBusiness) Get(ctx context.Context, checkoutID string) (*CheckoutView, error) {
	flow, err := cb.lookup(checkoutID)
	if err != nil {
		return nil, err
	}
	return cb.view(ctx, flow)
}

func (cb *checkoutBusiness) Cancel(ctx context.Context, checkoutID string) (*CheckoutView, error) {
	flow, err := cb.lookup(checkoutID)
	if err != nil {
		return nil, err
	}
	if err := flow.Cancel(ctx); err != nil {
		return nil, ErrorCheckoutClosed
	}
	util.Log(ctx).WithField("checkoutId", checkoutID).Info("checkout cancelled")
	return cb.view(ctx, flow)
}

func (cb *checkoutBusiness) GetTicket(ctx context.Context, transactionID string) (*models.Ticket, error) {
	ticket, err := cb.tickets.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorTicketDoesNotExist
		}
		return nil, err
	}
	return ticket, nil
}

// Sweep closes and forgets checkouts that have been settled, idle or abandoned by
// polling for longer than the retention period. It returns how many were removed.
func (cb *checkoutBusiness) Sweep(ctx context.Context) int {
	if cb.options.Retention <= 0 {
		return 0
	}

	cutoff := cb.now().Add(-cb.options.Retention)

	cb.mu.RLock()
	candidates := make(map[string]*checkoutEntry, len(cb.checkouts))
	for id, entry := range cb.checkouts {
		candidates[id] = entry
	}
	cb.mu.RUnlock()

	removed := 0
	for id, entry := range candidates {
		snapshot, err := entry.flow.Snapshot(ctx)
		if err == nil {
			if snapshot.State.InFlight() && !snapshot.PollingStopped {
				continue
			}
			lastActive := entry.createdAt
			if snapshot.UpdatedAt.After(lastActive) {
				lastActive = snapshot.UpdatedAt
			}
			if lastActive.After(cutoff) {
				continue
			}
		}
		cb.remove(ctx, id)
		removed++
	}

	if removed > 0 {
		util.Log(ctx).WithField("removed", removed).Debug("swept inactive checkouts")
	}
	return removed
}

// RunSweeper calls Sweep periodically until ctx is done.
func RunSweeper(ctx context.Context, business CheckoutBusiness, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			business.Sweep(ctx)
		}
	}
}

func (cb *checkoutBusiness) Shutdown(ctx context.Context) {
	cb.mu.Lock()
	entries := cb.checkouts
	cb.checkouts = make(map[string]*checkoutEntry)
	cb.mu.Unlock()

	for _, entry := range entries {
		_ = entry.flow.Close(ctx)
	}
}

func (cb *checkoutBusiness) lookup(checkoutID string) (*checkout.Flow, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	entry, ok := cb.checkouts[checkoutID]
	if !ok {
		return nil, ErrorCheckoutDoesNotExist
	}
	return entry.flow, nil
}

func (cb *checkoutBusiness) remove(ctx context.Context, checkoutID string) {
	cb.mu.Lock()
	entry, ok := cb.checkouts[checkoutID]
	delete(cb.checkouts, checkoutID)
	cb.mu.Unlock()

	if ok {
		_ = entry.flow.Close(ctx)
	}
}

func (cb *checkoutBusiness) view(ctx context.Context, flow *checkout.Flow) (*CheckoutView, error) {
	snapshot, err := flow.Snapshot(ctx)
	if err != nil {
		return nil, ErrorCheckoutClosed
	}
	ticket, err := flow.Ticket(ctx)
	if err != nil {
		return nil, ErrorCheckoutClosed
	}
	return &CheckoutView{Snapshot: snapshot, Ticket: ticket}, nil
}
