package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/antinvestor/service-ticket-payments/service/utility"
	"github.com/pitabwire/util"
)

var ErrSessionCancelled = errors.New("payment session was cancelled before initiation completed")

const (
	defaultProvider = "MPESA"
	defaultCurrency = "KES"

	opQueueSize       = 64
	dispatchQueueSize = 256
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const (
	titlePromptSent     = "Check your phone"
	titleConfirmed      = "Payment confirmed"
	titleFailed         = "Payment failed"
	titleNotStarted     = "Payment not started"
	titleCheckingIssues = "Still checking"
	titleTimeout        = "Confirmation delayed"
)

// Notification is a fire and forget message for the buyer.
type Notification struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	Duration    time.Duration `json:"-"`
}

type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

// TicketSink receives the ticket issued for a confirmed payment.
type TicketSink interface {
	Deliver(ctx context.Context, ticket TicketRecord) error
}

// Update is published to observers after every change to the session.
type Update struct {
	Snapshot     Snapshot
	Previous     State
	StateChanged bool
}

type Observer func(ctx context.Context, update Update)

// Order is the buyer's input for one payment attempt.
type Order struct {
	Phone    string `json:"phone"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Buyer    Buyer  `json:"buyer"`
	MatchID  string `json:"matchId"`
	Quantity int    `json:"quantity"`
}

type Option func(*Flow)

func WithNotifier(notifier Notifier) Option {
	return func(f *Flow) { f.notifier = notifier }
}

func WithTicketSink(sink TicketSink) Option {
	return func(f *Flow) { f.sink = sink }
}

func WithMatchCatalog(catalog MatchCatalog) Option {
	return func(f *Flow) { f.issuer.catalog = catalog }
}

func WithObserver(observer Observer) Option {
	return func(f *Flow) { f.observers = append(f.observers, observer) }
}

func WithProvider(provider string) Option {
	return func(f *Flow) { f.provider = provider }
}

func WithDefaultCurrency(currency string) Option {
	return func(f *Flow) { f.currency = currency }
}

// WithRandom replaces the source used for seat allocation.
func WithRandom(intN func(n int) int) Option {
	return func(f *Flow) { f.issuer.intN = intN }
}

// Flow drives one checkout: a single payment session at a time, its polling
// schedule, its progress estimate and its cancellation. All session mutations
// run on one control loop goroutine; gateway calls run beside it and post their
// results back, where results for a superseded session are discarded.
type Flow struct {
	id        string
	ctx       context.Context
	stop      context.CancelFunc
	schedule  Schedule
	gateway   Gateway
	initiator *Initiator
	issuer    *ticketIssuer
	notifier  Notifier
	sink      TicketSink
	observers []Observer
	provider  string
	currency  string
	now       func() time.Time

	ops          chan func()
	dispatches   chan func(ctx context.Context)
	quit         chan struct{}
	loopDone     chan struct{}
	dispatchDone chan struct{}
	closeOnce    sync.Once

	// Owned by the control loop.
	generation     uint64
	session        *PaymentSession
	progress       *progressEstimator
	pollTimers     *timerSet
	progressTimers *timerSet
	callCtx        context.Context
	cancelCalls    context.CancelFunc
	ticket         *TicketRecord
}

// NewFlow starts the control loop of a checkout. ctx bounds the lifetime of the
// flow and should outlive any single request.
func NewFlow(ctx context.Context, id string, gateway Gateway, schedule Schedule, opts ...Option) (*Flow, error) {
	if gateway == nil {
		return nil, errors.New("a payment gateway is required")
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	flowCtx, stop := context.WithCancel(ctx)
	f := &Flow{
		id:             id,
		ctx:            flowCtx,
		stop:           stop,
		schedule:       schedule,
		gateway:        gateway,
		issuer:         newTicketIssuer(nil),
		provider:       defaultProvider,
		currency:       defaultCurrency,
		now:            time.Now,
		ops:            make(chan func(), opQueueSize),
		dispatches:     make(chan func(ctx context.Context), dispatchQueueSize),
		quit:           make(chan struct{}),
		loopDone:       make(chan struct{}),
		dispatchDone:   make(chan struct{}),
		progress:       newProgressEstimator(schedule.ProgressTarget, schedule.ProgressTick),
		pollTimers:     newTimerSet(),
		progressTimers: newTimerSet(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.notifier == nil {
		f.notifier = logNotifier{}
	}
	f.initiator = NewInitiator(gateway, f.provider)

	go f.run()
	go f.runDispatcher()
	return f, nil
}

func (f *Flow) ID() string {
	return f.id
}

// Start validates the order, supersedes any session still in flight and initiates
// a new push payment. It returns once the gateway accepted or rejected the request;
// confirmation continues in the background.
func (f *Flow) Start(ctx context.Context, order Order) (Snapshot, error) {
	phone, err := ValidatePhone(order.Phone)
	if err != nil {
		return Snapshot{}, err
	}

	amount, err := utility.ParseDisplayAmount(order.Amount)
	if err != nil {
		return Snapshot{}, &ValidationError{Field: "amount", Reason: amountReason(err)}
	}

	if order.Quantity < 1 {
		return Snapshot{}, &ValidationError{Field: "quantity", Reason: "Select at least one ticket"}
	}
	if order.Currency == "" {
		order.Currency = f.currency
	}

	var (
		generation uint64
		callCtx    context.Context
	)
	err = f.call(func() {
		if f.session != nil && f.session.state.InFlight() {
			f.cancelSession("superseded")
		}
		generation, callCtx = f.beginSession(phone, amount, order)
	})
	if err != nil {
		return Snapshot{}, err
	}

	reference, initErr := f.initiator.Initiate(callCtx, InitiationRequest{
		Phone:     phone,
		Amount:    amount,
		Currency:  order.Currency,
		BuyerName: order.Buyer.Name,
		MatchID:   order.MatchID,
	})

	var (
		snapshot Snapshot
		applied  bool
	)
	err = f.call(func() {
		applied = f.completeInitiation(generation, reference, initErr)
		snapshot = f.snapshot()
	})
	if err != nil {
		return Snapshot{}, err
	}
	if !applied {
		return snapshot, ErrSessionCancelled
	}
	return snapshot, initErr
}

// Cancel stops every scheduled check and resets a session that is still in flight
// to Idle. An issued ticket is kept.
func (f *Flow) Cancel(_ context.Context) error {
	return f.call(func() {
		f.cancelSession("cancelled")
	})
}

// Close cancels the session and stops the control loop. It is safe to call twice.
func (f *Flow) Close(_ context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		err = f.call(func() {
			f.cancelSession("closed")
		})
		close(f.quit)
		<-f.loopDone
		<-f.dispatchDone
		f.stop()
	})
	return err
}

func (f *Flow) Snapshot(_ context.Context) (Snapshot, error) {
	var snapshot Snapshot
	err := f.call(func() {
		snapshot = f.snapshot()
	})
	return snapshot, err
}

// Ticket returns the most recent ticket issued by this checkout, if any.
func (f *Flow) Ticket(_ context.Context) (*TicketRecord, error) {
	var ticket *TicketRecord
	err := f.call(func() {
		if f.ticket != nil {
			record := *f.ticket
			ticket = &record
		}
	})
	return ticket, err
}

func (f *Flow) run() {
	defer close(f.loopDone)
	for {
		select {
		case op := <-f.ops:
			op()
		case <-f.quit:
			return
		}
	}
}

func (f *Flow) runDispatcher() {
	defer close(f.dispatchDone)
	for {
		select {
		case fn := <-f.dispatches:
			fn(f.ctx)
		case <-f.quit:
			for {
				select {
				case fn := <-f.dispatches:
					fn(f.ctx)
				default:
					return
				}
			}
		}
	}
}

// post queues op on the control loop without waiting for it.
func (f *Flow) post(op func()) bool {
	select {
	case <-f.quit:
		return false
	default:
	}
	select {
	case f.ops <- op:
		return true
	case <-f.quit:
		return false
	}
}

// call runs op on the control loop and waits for it to finish.
func (f *Flow) call(op func()) error {
	done := make(chan struct{})
	if !f.post(func() {
		defer close(done)
		op()
	}) {
		return ErrFlowClosed
	}
	select {
	case <-done:
		return nil
	case <-f.loopDone:
		select {
		case <-done:
			return nil
		default:
			return ErrFlowClosed
		}
	}
}

// dispatch hands collaborator work to the dispatcher so the loop never waits on it.
func (f *Flow) dispatch(fn func(ctx context.Context)) {
	select {
	case f.dispatches <- fn:
	case <-f.quit:
	}
}

func (f *Flow) notify(notification Notification) {
	notifier := f.notifier
	f.dispatch(func(ctx context.Context) {
		notifier.Notify(ctx, notification)
	})
}

func (f *Flow) publish(previous State) {
	if len(f.observers) == 0 {
		return
	}
	snapshot := f.snapshot()
	update := Update{Snapshot: snapshot, Previous: previous, StateChanged: previous != snapshot.State}
	observers := f.observers
	f.dispatch(func(ctx context.Context) {
		for _, observer := range observers {
			observer(ctx, update)
		}
	})
}

func (f *Flow) snapshot() Snapshot {
	if f.session == nil {
		return Snapshot{CheckoutID: f.id, State: StateIdle}
	}
	return f.session.snapshot(f.id, f.progress.current())
}

func (f *Flow) isCurrent(generation uint64) bool {
	return f.session != nil && f.session.generation == generation && f.generation == generation
}

func (f *Flow) logger() *util.LogEntry {
	entry := util.Log(f.ctx).WithField("checkoutId", f.id)
	if f.session != nil {
		entry = entry.WithField("transactionId", f.session.transactionID).WithField("state", f.session.state.String())
	}
	return entry
}

func (f *Flow) beginSession(phone string, amount int64, order Order) (uint64, context.Context) {
	f.generation++
	now := f.now()
	f.session = newPaymentSession(f.generation, phone, amount, order, now)
	f.callCtx, f.cancelCalls = context.WithCancel(f.ctx)

	_ = f.session.transition(StateInitiating, now)
	f.progress.observe(StateInitiating, "")
	f.logger().Info("payment session started")
	f.publish(StateIdle)

	return f.generation, f.callCtx
}

func (f *Flow) completeInitiation(generation uint64, reference string, initErr error) bool {
	if !f.isCurrent(generation) || f.session.state != StateInitiating {
		f.logger().Debug("dropping initiation result of a superseded session")
		return false
	}

	if initErr != nil {
		f.fail(initErr, titleNotStarted)
		return true
	}

	if err := f.session.assignTransactionID(reference); err != nil {
		f.logger().WithError(err).Error("transaction reference reassignment refused")
		return true
	}

	_ = f.session.transition(StatePending, f.now())
	f.progress.observe(StatePending, "")

	f.scheduleCheck(generation, 1)
	f.progressTimers.every(f.schedule.ProgressTick, func() {
		f.post(func() { f.tickProgress(generation) })
	})

	f.notify(Notification{
		Title:       titlePromptSent,
		Description: "Enter your M-Pesa PIN on your phone to complete the payment.",
		Severity:    SeverityInfo,
		Duration:    5 * time.Second,
	})
	f.publish(StateInitiating)
	return true
}

func (f *Flow) scheduleCheck(generation uint64, attempt int) {
	f.pollTimers.after(f.schedule.Delay(attempt), func() {
		f.post(func() { f.runCheck(generation, attempt) })
	})
}

// runCheck issues status check number attempt and schedules the next one without
// waiting for the reply, so slow replies may overlap.
func (f *Flow) runCheck(generation uint64, attempt int) {
	if !f.isCurrent(generation) || f.session.state != StatePending {
		return
	}
	if attempt > f.schedule.MaxAttempts {
		f.exhaust()
		return
	}

	f.session.attemptCount = attempt
	transactionID := f.session.transactionID
	ctx := f.callCtx

	go func() {
		resp, err := f.gateway.CheckStatus(ctx, transactionID)
		f.post(func() { f.handleStatus(generation, transactionID, resp, err) })
	}()

	f.scheduleCheck(generation, attempt+1)
}

func (f *Flow) handleStatus(generation uint64, transactionID string, resp *models.StatusResponse, err error) {
	if !f.isCurrent(generation) || f.session.transactionID != transactionID {
		util.Log(f.ctx).WithField("checkoutId", f.id).WithField("transactionId", transactionID).
			Debug("dropping stale status result")
		return
	}
	if f.session.state != StatePending {
		f.logger().Debug("ignoring status result for a settled session")
		return
	}

	verdict := Classify(resp, err)
	logger := f.logger().WithField("verdict", verdict.Kind.String()).WithField("attempt", f.session.attemptCount)

	switch {
	case verdict.Transient:
		if !f.session.pollingEstablished {
			f.session.pollingEstablished = true
			f.progress.describe(verdict.Message)
			logger.WithError(err).Debug("status not available yet, treating as a premature check")
			f.publish(StatePending)
			return
		}

		cause := err
		if cause == nil {
			cause = errors.New("empty status response")
		}
		f.session.lastError = &TransientPollingError{Cause: cause}
		f.session.consecutiveErrors++
		logger.WithError(cause).WithField("consecutiveErrors", f.session.consecutiveErrors).
			Warn("status check failed")

		if f.session.consecutiveErrors >= f.schedule.AdvisoryErrorThreshold {
			f.session.consecutiveErrors = 0
			f.notify(Notification{
				Title:       titleCheckingIssues,
				Description: f.session.lastError.(*TransientPollingError).UserMessage(),
				Severity:    SeverityWarning,
				Duration:    5 * time.Second,
			})
		}
		f.progress.describe(verdict.Message)
		f.publish(StatePending)

	case verdict.Kind == VerdictContinue:
		f.session.pollingEstablished = true
		f.session.consecutiveErrors = 0
		f.session.lastError = nil
		_ = f.session.transition(StatePending, f.now())
		f.progress.describe(verdict.Message)
		f.publish(StatePending)

	case verdict.Kind == VerdictSuccess:
		logger.WithField("providerReference", verdict.Reference).Info("payment confirmed")
		f.succeed(verdict.Reference)

	default:
		logger.WithField("code", verdict.Code).Info("payment failed")
		f.fail(&TerminalFailure{Code: verdict.Code, Reason: verdict.Reason}, titleFailed)
	}
}

func (f *Flow) succeed(reference string) {
	previous := f.session.state
	f.stopActivity()

	now := f.now()
	_ = f.session.transition(StateSuccess, now)
	f.session.pollingEstablished = true
	f.session.pollingStopped = false
	f.session.providerReference = reference
	f.session.consecutiveErrors = 0
	f.session.lastError = nil
	f.progress.observe(StateSuccess, "")

	if ticket, issued := f.issuer.issue(f.session, now); issued {
		f.ticket = ticket
		record := *ticket
		sink := f.sink
		if sink != nil {
			f.dispatch(func(ctx context.Context) {
				if err := sink.Deliver(ctx, record); err != nil {
					util.Log(ctx).WithError(err).WithField("ticketId", record.TicketID).
						Error("could not deliver issued ticket")
				}
			})
		}
	}

	f.notify(Notification{
		Title:       titleConfirmed,
		Description: "Your e-ticket is ready.",
		Severity:    SeveritySuccess,
		Duration:    5 * time.Second,
	})
	f.publish(previous)
}

func (f *Flow) fail(err error, title string) {
	previous := f.session.state
	f.stopActivity()

	_ = f.session.transition(StateFailed, f.now())
	f.session.pollingStopped = false
	f.session.lastError = err
	f.session.consecutiveErrors = 0
	f.progress.observe(StateFailed, UserMessage(err))

	f.logger().WithError(err).Warn("payment session failed")
	f.notify(Notification{
		Title:       title,
		Description: UserMessage(err),
		Severity:    SeverityError,
		Duration:    8 * time.Second,
	})
	f.publish(previous)
}

// exhaust stops polling once the attempt budget is spent. The session stays Pending:
// a late confirmation from a check already in flight is still honoured. The
// session is marked so the owner can evict it once it goes quiet.
func (f *Flow) exhaust() {
	f.pollTimers.stopAll()
	f.progressTimers.stopAll()
	advisory := &TimeoutAdvisory{Attempts: f.session.attemptCount}
	f.session.lastError = advisory
	f.session.pollingStopped = true
	f.session.updatedAt = f.now()

	f.logger().WithField("attempts", advisory.Attempts).Warn("status check budget exhausted")
	f.notify(Notification{
		Title:       titleTimeout,
		Description: advisory.UserMessage(),
		Severity:    SeverityWarning,
		Duration:    10 * time.Second,
	})
	f.publish(f.session.state)
}

func (f *Flow) tickProgress(generation uint64) {
	if !f.isCurrent(generation) || f.session.state != StatePending {
		return
	}
	f.progress.advance()
	if f.progress.current().Value >= progressCeiling {
		f.progressTimers.stopAll()
	}
	f.publish(StatePending)
}

func (f *Flow) stopActivity() {
	f.pollTimers.stopAll()
	f.progressTimers.stopAll()
	if f.cancelCalls != nil {
		f.cancelCalls()
		f.cancelCalls = nil
	}
}

// cancelSession invalidates every outstanding timer and gateway result of the
// current session and clears its progress. Terminal sessions keep their state,
// failure reason and ticket.
func (f *Flow) cancelSession(reason string) {
	f.stopActivity()
	f.generation++

	if f.session == nil {
		return
	}

	previous := f.session.state
	f.session.consecutiveErrors = 0
	f.session.pollingStopped = false
	f.progress.reset()
	if !previous.IsTerminal() {
		f.session.lastError = nil
		if previous != StateIdle {
			_ = f.session.transition(StateIdle, f.now())
		}
	}

	f.logger().WithField("reason", reason).WithField("previousState", previous.String()).
		Info("payment session reset")
	f.publish(previous)
}

func amountReason(err error) string {
	switch {
	case errors.Is(err, utility.ErrAmountNotPositive):
		return "Amount must be greater than zero"
	case errors.Is(err, utility.ErrAmountTooLarge):
		return "Amount is too large"
	default:
		return "Enter the amount to pay"
	}
}

type logNotifier struct{}

func (logNotifier) Notify(ctx context.Context, notification Notification) {
	util.Log(ctx).WithField("title", notification.Title).
		WithField("severity", string(notification.Severity)).
		Info(notification.Description)
}
