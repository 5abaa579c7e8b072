package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/antinvestor/service-ticket-payments/service/business"
	"github.com/antinvestor/service-ticket-payments/service/checkout"
	"github.com/antinvestor/service-ticket-payments/service/realtime"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxRequestBody = 64 << 10

// Streamer attaches a websocket client to the updates of one checkout.
type Streamer interface {
	Attach(ctx context.Context, topic string, conn *websocket.Conn) error
}

type CheckoutServer struct {
	Business business.CheckoutBusiness
	Streamer Streamer
	Upgrader websocket.Upgrader
}

type errorResponse struct {
	Error    string                 `json:"error"`
	Code     string                 `json:"code"`
	Checkout *business.CheckoutView `json:"checkout,omitempty"`
}

func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (cs *CheckoutServer) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	order, ok := decodeOrder(w, r)
	if !ok {
		return
	}

	view, err := cs.Business.Create(r.Context(), order)
	if err != nil {
		writeError(r.Context(), w, err, view)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (cs *CheckoutServer) RetryCheckout(w http.ResponseWriter, r *http.Request) {
	order, ok := decodeOrder(w, r)
	if !ok {
		return
	}

	view, err := cs.Business.Retry(r.Context(), mux.Vars(r)["id"], order)
	if err != nil {
		writeError(r.Context(), w, err, view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (cs *CheckoutServer) GetCheckout(w http.ResponseWriter, r *http.Request) {
	view, err := cs.Business.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (cs *CheckoutServer) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	view, err := cs.Business.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (cs *CheckoutServer) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := cs.Business.GetTicket(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		writeError(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// StreamCheckout upgrades to a websocket, sends the current snapshot and then every
// update, notification and ticket of the checkout until either side goes away.
func (cs *CheckoutServer) StreamCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkoutID := mux.Vars(r)["id"]
	logger := util.Log(ctx).WithField("checkoutId", checkoutID)

	view, err := cs.Business.Get(ctx, checkoutID)
	if err != nil {
		writeError(ctx, w, err, nil)
		return
	}

	conn, err := cs.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	initial := realtime.Message{Topic: checkoutID, Type: business.MessageTypeUpdate, Data: view}
	if err = conn.WriteJSON(initial); err != nil {
		logger.WithError(err).Debug("could not send initial snapshot")
		_ = conn.Close()
		return
	}

	if err = cs.Streamer.Attach(ctx, checkoutID, conn); err != nil {
		logger.WithError(err).Debug("stream ended")
	}
}

func decodeOrder(w http.ResponseWriter, r *http.Request) (checkout.Order, bool) {
	var order checkout.Order
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&order); err != nil {
		util.Log(r.Context()).WithError(err).Debug("invalid checkout request body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Code: codes.InvalidArgument.String()})
		return order, false
	}
	return order, true
}

func writeError(ctx context.Context, w http.ResponseWriter, err error, view *business.CheckoutView) {
	if errors.Is(err, checkout.ErrSessionCancelled) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:    "The payment was replaced by a newer request",
			Code:     codes.Aborted.String(),
			Checkout: view,
		})
		return
	}

	st, ok := status.FromError(err)
	if !ok {
		util.Log(ctx).WithError(err).Error("unexpected checkout error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: checkout.UserMessage(err), Code: codes.Internal.String()})
		return
	}

	httpStatus := httpStatusFor(st.Code())
	if httpStatus >= http.StatusInternalServerError {
		util.Log(ctx).WithError(err).Warn("checkout request failed")
	}
	writeJSON(w, httpStatus, errorResponse{Error: st.Message(), Code: st.Code().String(), Checkout: view})
}

func httpStatusFor(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition, codes.Aborted:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusBadGateway
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
