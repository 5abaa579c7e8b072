package config

import (
	"time"

	"github.com/antinvestor/service-ticket-payments/service/checkout"
	"github.com/pitabwire/frame"
)

type TicketPaymentConfig struct {
	frame.ConfigurationDefault

	GatewayURL       string `envDefault:"http://127.0.0.1:8080" env:"PAYMENT_GATEWAY_URL"`
	GatewayAPIKey    string `envDefault:"" env:"PAYMENT_GATEWAY_API_KEY"`
	GatewayAPISecret string `envDefault:"" env:"PAYMENT_GATEWAY_API_SECRET"`
	GatewayTimeoutMs int    `envDefault:"30000" env:"PAYMENT_GATEWAY_TIMEOUT_MS"`
	PaymentProvider  string `envDefault:"MPESA" env:"PAYMENT_PROVIDER"`
	PaymentCurrency  string `envDefault:"KES" env:"PAYMENT_CURRENCY"`

	// Status polling cadence.
	PollGracePeriodMs     int `envDefault:"10000" env:"POLL_GRACE_PERIOD_MS"`
	PollShortIntervalMs   int `envDefault:"5000" env:"POLL_SHORT_INTERVAL_MS"`
	PollShortIntervalRuns int `envDefault:"6" env:"POLL_SHORT_INTERVAL_COUNT"`
	PollLongIntervalMs    int `envDefault:"10000" env:"POLL_LONG_INTERVAL_MS"`
	PollMaxAttempts       int `envDefault:"30" env:"POLL_MAX_ATTEMPTS"`
	AdvisoryErrorCount    int `envDefault:"3" env:"POLL_ADVISORY_ERROR_THRESHOLD"`

	ProgressTargetMs int `envDefault:"120000" env:"PROGRESS_TARGET_MS"`
	ProgressTickMs   int `envDefault:"1000" env:"PROGRESS_TICK_MS"`

	CheckoutRetentionSeconds int `envDefault:"3600" env:"CHECKOUT_RETENTION_SECONDS"`
	CheckoutSweepSeconds     int `envDefault:"60" env:"CHECKOUT_SWEEP_SECONDS"`

	TicketIssuedTopic string `envDefault:"ticket.issued" env:"TICKET_ISSUED_TOPIC"`
	//nolint:revive // NATS_URL follows environment variable ALL_CAPS convention
	NATS_URL string `envDefault:"mem://" env:"NATS_URL"`

	StreamAllowedOrigin string `envDefault:"*" env:"STREAM_ALLOWED_ORIGIN"`
}

// Schedule returns the polling cadence configured for every checkout.
func (c *TicketPaymentConfig) Schedule() checkout.Schedule {
	return checkout.Schedule{
		GracePeriod:            millis(c.PollGracePeriodMs),
		ShortInterval:          millis(c.PollShortIntervalMs),
		ShortIntervalCount:     c.PollShortIntervalRuns,
		LongInterval:           millis(c.PollLongIntervalMs),
		MaxAttempts:            c.PollMaxAttempts,
		AdvisoryErrorThreshold: c.AdvisoryErrorCount,
		ProgressTarget:         millis(c.ProgressTargetMs),
		ProgressTick:           millis(c.ProgressTickMs),
	}
}

func (c *TicketPaymentConfig) GatewayTimeout() time.Duration {
	return millis(c.GatewayTimeoutMs)
}

func (c *TicketPaymentConfig) Retention() time.Duration {
	return time.Duration(c.CheckoutRetentionSeconds) * time.Second
}

func (c *TicketPaymentConfig) SweepInterval() time.Duration {
	return time.Duration(c.CheckoutSweepSeconds) * time.Second
}

// TicketIssuedPublisherURL is the publisher url for the issued ticket topic.
func (c *TicketPaymentConfig) TicketIssuedPublisherURL() string {
	return c.NATS_URL + c.TicketIssuedTopic
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
