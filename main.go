package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/antinvestor/service-ticket-payments/config"
	"github.com/antinvestor/service-ticket-payments/service/business"
	"github.com/antinvestor/service-ticket-payments/service/checkout"
	"github.com/antinvestor/service-ticket-payments/service/coreapi"
	"github.com/antinvestor/service-ticket-payments/service/events"
	"github.com/antinvestor/service-ticket-payments/service/handlers"
	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/antinvestor/service-ticket-payments/service/realtime"
	"github.com/antinvestor/service-ticket-payments/service/repository"
	"github.com/antinvestor/service-ticket-payments/service/router"
	"github.com/gorilla/websocket"
	"github.com/pitabwire/frame"
	"gorm.io/gorm"
)

func main() {
	serviceName := "service_ticket_payments"
	ctx := context.Background()
	ticketConfig, err := frame.ConfigFromEnv[config.TicketPaymentConfig]()
	if err != nil {
		fmt.Printf("could not load config: %v\n", err)
	}
	ctx, service := frame.NewServiceWithContext(ctx, serviceName, frame.WithConfig(&ticketConfig))
	defer service.Stop(ctx)

	logger := service.Log(ctx).WithField("type", "main")

	serviceOptions := []frame.Option{frame.WithDatastore()}
	service.Init(ctx, serviceOptions...)

	if ticketConfig.DoDatabaseMigrate() {
		err = service.MigrateDatastore(ctx, ticketConfig.GetDatabaseMigrationPath(),
			&models.Ticket{}, &models.CheckoutStatus{})
		if err != nil {
			logger.WithError(err).Fatal("could not migrate successfully")
		}
		return
	}

	datastore := func(ctx context.Context, readOnly bool) *gorm.DB {
		return service.DB(ctx, readOnly)
	}
	ticketRepository := repository.NewTicketRepository(datastore)
	statusRepository := repository.NewCheckoutStatusRepository(datastore)

	gateway := coreapi.New(ticketConfig.GatewayURL, ticketConfig.GatewayAPIKey,
		ticketConfig.GatewayAPISecret, ticketConfig.GatewayTimeout())

	hub := realtime.NewHub()
	go hub.Run(ctx)

	checkoutBusiness, err := business.NewCheckoutBusiness(ctx, gateway,
		business.EmitterFunc(func(ctx context.Context, name string, payload any) error {
			return service.Emit(ctx, name, payload)
		}),
		hub, ticketRepository,
		business.Options{
			Schedule:  ticketConfig.Schedule(),
			Provider:  ticketConfig.PaymentProvider,
			Currency:  ticketConfig.PaymentCurrency,
			Catalog:   matchCatalog(),
			Retention: ticketConfig.Retention(),
		})
	if err != nil {
		logger.WithError(err).Fatal("could not set up checkouts")
	}
	defer checkoutBusiness.Shutdown(ctx)
	go business.RunSweeper(ctx, checkoutBusiness, ticketConfig.SweepInterval())

	checkoutServer := &handlers.CheckoutServer{
		Business: checkoutBusiness,
		Streamer: hub,
		Upgrader: websocket.Upgrader{CheckOrigin: originChecker(ticketConfig.StreamAllowedOrigin)},
	}

	ticketIssue := &events.TicketIssue{
		Tickets: ticketRepository,
		Publisher: events.PublisherFunc(func(ctx context.Context, topic string, payload any) error {
			return service.Publish(ctx, topic, payload)
		}),
		Topic: ticketConfig.TicketIssuedTopic,
	}

	serviceOptions = append(serviceOptions,
		frame.WithHTTPHandler(router.NewRouter(checkoutServer)),
		frame.WithRegisterEvents(
			ticketIssue,
			&events.CheckoutStatusSave{Statuses: statusRepository},
		),
		frame.WithRegisterPublisher(ticketConfig.TicketIssuedTopic, ticketConfig.TicketIssuedPublisherURL()),
	)

	service.Init(ctx, serviceOptions...)

	logger.WithField("server http port", ticketConfig.HTTPServerPort).
		WithField("gateway", ticketConfig.GatewayURL).
		Info("Initiating server operations")

	err = service.Run(ctx, "")
	if err != nil {
		logger.WithError(err).Fatal("could not run Server")
	}
}

func originChecker(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowed == "*" || origin == "" || origin == allowed
	}
}

// matchCatalog lists the fixtures currently on sale.
func matchCatalog() checkout.StaticCatalog {
	nairobi, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		nairobi = time.FixedZone("EAT", 3*60*60)
	}

	return checkout.StaticCatalog{
		"kpl-gor-afc": {
			ID: "kpl-gor-afc", HomeTeam: "Gor Mahia", AwayTeam: "AFC Leopards",
			Venue: "Nyayo National Stadium", City: "Nairobi",
			Kickoff: time.Date(2026, time.November, 8, 15, 0, 0, 0, nairobi),
		},
		"kpl-tusker-ulinzi": {
			ID: "kpl-tusker-ulinzi", HomeTeam: "Tusker FC", AwayTeam: "Ulinzi Stars",
			Venue: "Kasarani Stadium", City: "Nairobi",
			Kickoff: time.Date(2026, time.November, 15, 16, 0, 0, 0, nairobi),
		},
		"kpl-kakamega-bandari": {
			ID: "kpl-kakamega-bandari", HomeTeam: "Kakamega Homeboyz", AwayTeam: "Bandari FC",
			Venue: "Bukhungu Stadium", City: "Kakamega",
			Kickoff: time.Date(2026, time.November, 22, 15, 0, 0, 0, nairobi),
		},
	}
}
