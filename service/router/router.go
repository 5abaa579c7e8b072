package router

import (
	handlers "github.com/antinvestor/service-ticket-payments/service/handlers"
	"github.com/gorilla/mux"
)

func NewRouter(cs *handlers.CheckoutServer) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	// Checkout endpoints
	router.HandleFunc("/checkouts", cs.CreateCheckout).Methods("POST")
	router.HandleFunc("/checkouts/{id}", cs.GetCheckout).Methods("GET")
	router.HandleFunc("/checkouts/{id}", cs.CancelCheckout).Methods("DELETE")
	router.HandleFunc("/checkouts/{id}/retry", cs.RetryCheckout).Methods("POST")
	router.HandleFunc("/checkouts/{id}/stream", cs.StreamCheckout).Methods("GET")

	router.HandleFunc("/tickets/{transactionId}", cs.GetTicket).Methods("GET")

	return router
}
