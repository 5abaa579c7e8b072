package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func testSchedule() Schedule {
	return Schedule{
		GracePeriod:            time.Millisecond,
		ShortInterval:          5 * time.Millisecond,
		ShortIntervalCount:     3,
		LongInterval:           10 * time.Millisecond,
		MaxAttempts:            40,
		AdvisoryErrorThreshold: 3,
		ProgressTarget:         time.Second,
		ProgressTick:           5 * time.Millisecond,
	}
}

func testOrder() Order {
	return Order{
		Phone:    "0712 345 678",
		Amount:   "KES 1,500",
		Buyer:    Buyer{Name: "Achieng Otieno", Email: "achieng@example.com"},
		MatchID:  "gor-afc",
		Quantity: 2,
	}
}

type statusStep struct {
	resp *models.StatusResponse
	err  error
}

func reply(value string) statusStep {
	return statusStep{resp: &models.StatusResponse{Success: true, Status: value}}
}

func malformed() statusStep {
	return statusStep{err: errors.New("invalid character '<' looking for beginning of value")}
}

// statusScript replays steps in order and repeats the last one forever.
type statusScript struct {
	mu    sync.Mutex
	steps []statusStep
	calls int
}

func newStatusScript(steps ...statusStep) *statusScript {
	return &statusScript{steps: steps}
}

func (s *statusScript) next(_ context.Context, _ string) (*models.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	return step.resp, step.err
}

func (s *statusScript) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notification)
}

func (n *recordingNotifier) count(title string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, item := range n.items {
		if item.Title == title {
			total++
		}
	}
	return total
}

type recordingSink struct {
	mu      sync.Mutex
	tickets []TicketRecord
}

func (s *recordingSink) Deliver(_ context.Context, ticket TicketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, ticket)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

type flowHarness struct {
	flow     *Flow
	gateway  *MockGateway
	notifier *recordingNotifier
	sink     *recordingSink
}

func newFlowHarness(t *testing.T, schedule Schedule) *flowHarness {
	t.Helper()

	ctrl := gomock.NewController(t)
	h := &flowHarness{
		gateway:  NewMockGateway(ctrl),
		notifier: &recordingNotifier{},
		sink:     &recordingSink{},
	}

	flow, err := NewFlow(context.Background(), "checkout-1", h.gateway, schedule,
		WithNotifier(h.notifier),
		WithTicketSink(h.sink),
	)
	require.NoError(t, err)
	h.flow = flow
	t.Cleanup(func() { _ = flow.Close(context.Background()) })
	return h
}

func (h *flowHarness) acceptInitiation(reference string) {
	h.gateway.EXPECT().
		Initiate(gomock.Any(), gomock.Any()).
		Return(&models.InitiateResponse{Success: true, Reference: reference}, nil)
}

func (h *flowHarness) state() State {
	snapshot, err := h.flow.Snapshot(context.Background())
	if err != nil {
		return State(-1)
	}
	return snapshot.State
}

func TestFlow_ConfirmsAfterPendingReplies(t *testing.T) {
	h := newFlowHarness(t, testSchedule())
	h.acceptInitiation("ws_CO_ABCDEF123456")

	script := newStatusScript(reply("PENDING"), reply("PROCESSING"), reply("SUCCESS"))
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_ABCDEF123456").DoAndReturn(script.next).AnyTimes()

	snapshot, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, StatePending, snapshot.State)
	assert.Equal(t, "ws_CO_ABCDEF123456", snapshot.TransactionID)
	assert.Equal(t, "254712345678", snapshot.PhoneNumber)
	assert.Equal(t, int64(1500), snapshot.Amount)
	assert.Equal(t, "KES", snapshot.Currency)

	require.Eventually(t, func() bool { return h.state() == StateSuccess }, waitFor, tick)
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, waitFor, tick)

	callsAtSuccess := script.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, callsAtSuccess, script.count(), "polling continued after success")
	assert.Equal(t, 1, h.sink.count())
	assert.Equal(t, 1, h.notifier.count(titleConfirmed))

	final, err := h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, progressComplete, final.Progress.Value)
	assert.Empty(t, final.LastError)

	ticket, err := h.flow.Ticket(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "TKT-EF123456", ticket.TicketID)
	assert.Equal(t, 2, ticket.Quantity)
}

func TestFlow_FailedReplyStopsPolling(t *testing.T) {
	schedule := testSchedule()
	schedule.ShortInterval = 20 * time.Millisecond
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	script := newStatusScript(reply("FAILED"))
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_1").DoAndReturn(script.next).AnyTimes()

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.state() == StateFailed }, waitFor, tick)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, script.count())
	assert.Zero(t, h.sink.count())
	assert.Equal(t, 1, h.notifier.count(titleFailed))

	snapshot, err := h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reasonUnsuccessful, snapshot.LastError)
	assert.Zero(t, snapshot.Progress.Value)

	ticket, err := h.flow.Ticket(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestFlow_RepeatedMalformedRepliesRaiseOneAdvisory(t *testing.T) {
	schedule := testSchedule()
	schedule.MaxAttempts = 10
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	script := newStatusScript(malformed(), malformed(), malformed(), malformed(), reply("PENDING"))
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_1").DoAndReturn(script.next).AnyTimes()

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.notifier.count(titleTimeout) == 1 }, waitFor, tick)

	assert.Equal(t, 1, h.notifier.count(titleCheckingIssues))
	assert.Equal(t, StatePending, h.state())
	assert.Equal(t, schedule.MaxAttempts, script.count())
	assert.Zero(t, h.sink.count())
}

func TestFlow_AttemptBudgetKeepsSessionPending(t *testing.T) {
	schedule := testSchedule()
	schedule.MaxAttempts = 3
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	script := newStatusScript(reply("PENDING"))
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_1").DoAndReturn(script.next).AnyTimes()

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.notifier.count(titleTimeout) == 1 }, waitFor, tick)
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 3, script.count())
	assert.Equal(t, 1, h.notifier.count(titleTimeout))

	snapshot, err := h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePending, snapshot.State)
	assert.Equal(t, 3, snapshot.AttemptCount)
	assert.Equal(t, (&TimeoutAdvisory{}).UserMessage(), snapshot.LastError)
	assert.LessOrEqual(t, snapshot.Progress.Value, progressCeiling)
}

func TestFlow_CancelDiscardsOutstandingReplies(t *testing.T) {
	h := newFlowHarness(t, testSchedule())
	h.acceptInitiation("ws_CO_1")

	called := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	count := 0
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_1").
		DoAndReturn(func(_ context.Context, _ string) (*models.StatusResponse, error) {
			mu.Lock()
			count++
			mu.Unlock()
			select {
			case called <- struct{}{}:
			default:
			}
			<-release
			return &models.StatusResponse{Success: true, Status: "SUCCESS"}, nil
		}).AnyTimes()
	checks := func() int {
		mu.Lock()
		defer mu.Unlock()
		return count
	}

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	select {
	case <-called:
	case <-time.After(waitFor):
		t.Fatal("status check never issued")
	}

	require.NoError(t, h.flow.Cancel(context.Background()))
	time.Sleep(10 * time.Millisecond)
	afterCancel := checks()

	close(release)
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, afterCancel, checks(), "status checks issued after cancel")

	snapshot, err := h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snapshot.State)
	assert.Zero(t, snapshot.Progress.Value)
	assert.Zero(t, h.sink.count())
	assert.Zero(t, h.notifier.count(titleConfirmed))

	ticket, err := h.flow.Ticket(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestFlow_NewStartSupersedesPendingSession(t *testing.T) {
	schedule := testSchedule()
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_first")
	h.acceptInitiation("ws_CO_second")

	firstCalled := make(chan struct{}, 64)
	releaseFirst := make(chan struct{})
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_first").
		DoAndReturn(func(_ context.Context, _ string) (*models.StatusResponse, error) {
			firstCalled <- struct{}{}
			<-releaseFirst
			return &models.StatusResponse{Success: true, Status: "SUCCESS"}, nil
		}).AnyTimes()

	second := newStatusScript(reply("PENDING"))
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_second").DoAndReturn(second.next).AnyTimes()

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)
	<-firstCalled

	snapshot, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_second", snapshot.TransactionID)

	close(releaseFirst)
	require.Eventually(t, func() bool { return second.count() >= 2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StatePending, h.state())
	assert.Zero(t, h.sink.count())
}

func TestFlow_DuplicateSuccessIssuesOneTicket(t *testing.T) {
	schedule := testSchedule()
	schedule.GracePeriod = time.Minute
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	success := &models.StatusResponse{Success: true, Status: "SUCCESS", ProviderReference: "QKJ81H2XYZ"}
	for i := 0; i < 3; i++ {
		require.NoError(t, h.flow.call(func() {
			h.flow.handleStatus(h.flow.generation, "ws_CO_1", success, nil)
		}))
	}

	require.Eventually(t, func() bool { return h.sink.count() == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.sink.count())
	assert.Equal(t, 1, h.notifier.count(titleConfirmed))
	assert.Equal(t, StateSuccess, h.state())
}

func TestFlow_CancelKeepsSettledOutcome(t *testing.T) {
	schedule := testSchedule()
	schedule.GracePeriod = time.Minute
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)
	require.NoError(t, h.flow.call(func() {
		h.flow.handleStatus(h.flow.generation, "ws_CO_1",
			&models.StatusResponse{Success: true, Status: "SUCCESS", ThirdPartyReference: "TP-88231"}, nil)
	}))

	snapshot, err := h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, progressComplete, snapshot.Progress.Value)
	assert.Equal(t, "TP-88231", snapshot.ProviderReference)

	require.NoError(t, h.flow.Cancel(context.Background()))

	snapshot, err = h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, snapshot.State)
	assert.Zero(t, snapshot.Progress.Value)
	assert.Equal(t, ProgressMessage{}, snapshot.Progress.Message)

	ticket, err := h.flow.Ticket(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "TP-88231", ticket.ProviderReference)
}

func TestFlow_CancelKeepsFailureReason(t *testing.T) {
	h := newFlowHarness(t, testSchedule())
	h.acceptInitiation("ws_CO_1")

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)
	require.NoError(t, h.flow.call(func() {
		h.flow.handleStatus(h.flow.generation, "ws_CO_1", &models.StatusResponse{Success: true, Status: "FAILED"}, nil)
	}))

	require.NoError(t, h.flow.Cancel(context.Background()))

	snapshot, err := h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, snapshot.State)
	assert.Equal(t, reasonUnsuccessful, snapshot.LastError)
	assert.Zero(t, snapshot.Progress.Value)
	assert.Equal(t, ProgressMessage{}, snapshot.Progress.Message)
}

func TestFlow_ChecksOverlapWhileReplyIsSlow(t *testing.T) {
	schedule := testSchedule()
	schedule.GracePeriod = 5 * time.Millisecond
	schedule.ShortInterval = 5 * time.Millisecond
	schedule.LongInterval = 5 * time.Millisecond
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	release := make(chan struct{})
	var calls atomic.Int32
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_1").
		DoAndReturn(func(ctx context.Context, _ string) (*models.StatusResponse, error) {
			if calls.Add(1) == 1 {
				select {
				case <-release:
				case <-ctx.Done():
				}
			}
			return &models.StatusResponse{Success: true, Status: "PENDING"}, nil
		}).AnyTimes()
	t.Cleanup(func() { close(release) })

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, waitFor, tick,
		"later checks must be issued while the first reply is outstanding")
	assert.Equal(t, StatePending, h.state())
}

func TestFlow_ExhaustionStopsAllTimers(t *testing.T) {
	schedule := testSchedule()
	schedule.MaxAttempts = 2
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	script := newStatusScript(reply("PENDING"))
	h.gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_1").DoAndReturn(script.next).AnyTimes()

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snapshot, err := h.flow.Snapshot(context.Background())
		return err == nil && snapshot.PollingStopped
	}, waitFor, tick)

	assert.Zero(t, h.flow.pollTimers.active())
	assert.Zero(t, h.flow.progressTimers.active())

	// let the reply of the last check land
	time.Sleep(20 * time.Millisecond)
	frozen, err := h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	later, err := h.flow.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frozen.Progress.Value, later.Progress.Value)
	assert.Equal(t, frozen.UpdatedAt, later.UpdatedAt)
	assert.Equal(t, StatePending, later.State)
}

func TestFlow_ProgressTickerStopsAtCeiling(t *testing.T) {
	schedule := testSchedule()
	schedule.GracePeriod = time.Minute
	schedule.ProgressTarget = 10 * time.Millisecond
	schedule.ProgressTick = 5 * time.Millisecond
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snapshot, err := h.flow.Snapshot(context.Background())
		return err == nil && snapshot.Progress.Value == progressCeiling
	}, waitFor, tick)

	assert.Zero(t, h.flow.progressTimers.active())
	assert.Equal(t, 1, h.flow.pollTimers.active())
	assert.Equal(t, StatePending, h.state())
}

func TestFlow_StaleTransactionReplyIsIgnored(t *testing.T) {
	schedule := testSchedule()
	schedule.GracePeriod = time.Minute
	h := newFlowHarness(t, schedule)
	h.acceptInitiation("ws_CO_1")

	_, err := h.flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	require.NoError(t, h.flow.call(func() {
		h.flow.handleStatus(h.flow.generation, "ws_CO_other", &models.StatusResponse{Success: true, Status: "SUCCESS"}, nil)
		h.flow.handleStatus(h.flow.generation-1, "ws_CO_1", &models.StatusResponse{Success: true, Status: "FAILED"}, nil)
	}))

	assert.Equal(t, StatePending, h.state())
	assert.Zero(t, h.sink.count())
}

func TestFlow_InitiationFailures(t *testing.T) {
	tests := []struct {
		name     string
		response *models.InitiateResponse
		err      error
		check    func(t *testing.T, err error)
	}{
		{
			name:     "rejected",
			response: &models.InitiateResponse{Success: false, Error: &models.GatewayError{Code: "LIMIT", Message: "Daily limit reached"}},
			check: func(t *testing.T, err error) {
				var initErr *GatewayInitiationError
				assert.True(t, errors.As(err, &initErr))
			},
		},
		{
			name:     "no reference",
			response: &models.InitiateResponse{Success: true},
			check: func(t *testing.T, err error) {
				var missing *MissingReferenceError
				assert.True(t, errors.As(err, &missing))
			},
		},
		{
			name: "unreachable",
			err:  errors.New("dial tcp: i/o timeout"),
			check: func(t *testing.T, err error) {
				var initErr *GatewayInitiationError
				assert.True(t, errors.As(err, &initErr))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFlowHarness(t, testSchedule())
			h.gateway.EXPECT().Initiate(gomock.Any(), gomock.Any()).Return(tt.response, tt.err)

			snapshot, err := h.flow.Start(context.Background(), testOrder())
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, StateFailed, snapshot.State)
			assert.Empty(t, snapshot.TransactionID)
			assert.Equal(t, UserMessage(err), snapshot.LastError)
			require.Eventually(t, func() bool { return h.notifier.count(titleNotStarted) == 1 }, waitFor, tick)
		})
	}
}

func TestFlow_InvalidInputNeverReachesGateway(t *testing.T) {
	h := newFlowHarness(t, testSchedule())

	order := testOrder()
	order.Phone = "0202345678"
	_, err := h.flow.Start(context.Background(), order)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "phone", validationErr.Field)

	order = testOrder()
	order.Amount = "KES"
	_, err = h.flow.Start(context.Background(), order)
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "amount", validationErr.Field)

	order = testOrder()
	order.Quantity = 0
	_, err = h.flow.Start(context.Background(), order)
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "quantity", validationErr.Field)

	assert.Equal(t, StateIdle, h.state())
}

func TestFlow_ObserverSeesStateChanges(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := NewMockGateway(ctrl)
	gateway.EXPECT().Initiate(gomock.Any(), gomock.Any()).
		Return(&models.InitiateResponse{Success: true, CheckoutRequestID: "ws_CO_1"}, nil)
	gateway.EXPECT().CheckStatus(gomock.Any(), "ws_CO_1").
		Return(&models.StatusResponse{Success: true, Status: "SUCCESS"}, nil).AnyTimes()

	var mu sync.Mutex
	var changes []State
	flow, err := NewFlow(context.Background(), "checkout-2", gateway, testSchedule(),
		WithObserver(func(_ context.Context, update Update) {
			if !update.StateChanged {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			changes = append(changes, update.Snapshot.State)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = flow.Close(context.Background()) })

	_, err = flow.Start(context.Background(), testOrder())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 3
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateInitiating, StatePending, StateSuccess}, changes)
}

func TestFlow_ClosedFlowRefusesWork(t *testing.T) {
	h := newFlowHarness(t, testSchedule())
	require.NoError(t, h.flow.Close(context.Background()))
	require.NoError(t, h.flow.Close(context.Background()))

	_, err := h.flow.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrFlowClosed)

	_, err = h.flow.Start(context.Background(), testOrder())
	assert.ErrorIs(t, err, ErrFlowClosed)
}
