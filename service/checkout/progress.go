package checkout

import (
	"time"
)

const (
	progressCeiling  = 98.0
	progressComplete = 100.0
)

type ProgressMessage struct {
	Main string `json:"main"`
	Sub  string `json:"sub"`
}

// Progress is a display-only estimate. It never decides the payment outcome.
type Progress struct {
	Value   float64         `json:"value"`
	Message ProgressMessage `json:"message"`
}

var (
	initiatingMessage = ProgressMessage{Main: "Sending payment request", Sub: "An M-Pesa prompt will appear on your phone"}
	pendingMessage    = ProgressMessage{Main: "Waiting for confirmation", Sub: "Enter your M-Pesa PIN on your phone to complete payment"}
	successMessage    = ProgressMessage{Main: "Payment confirmed", Sub: "Your tickets are being issued"}
	failedMessage     = ProgressMessage{Main: "Payment failed"}
)

// progressEstimator grows linearly towards progressCeiling over the target duration,
// one step per tick, and only while the session is pending.
type progressEstimator struct {
	step    float64
	value   float64
	message ProgressMessage
}

func newProgressEstimator(target, tick time.Duration) *progressEstimator {
	step := progressCeiling
	if target > 0 && tick > 0 && tick < target {
		step = progressCeiling * float64(tick) / float64(target)
	}
	return &progressEstimator{step: step}
}

func (p *progressEstimator) advance() {
	p.value += p.step
	if p.value > progressCeiling {
		p.value = progressCeiling
	}
}

// observe aligns the estimate with a state change.
func (p *progressEstimator) observe(state State, reason string) {
	switch state {
	case StateSuccess:
		p.value = progressComplete
		p.message = successMessage
	case StateFailed:
		p.value = 0
		p.message = failedMessage
		p.message.Sub = reason
	case StateIdle:
		p.value = 0
		p.message = ProgressMessage{}
	case StateInitiating:
		p.value = 0
		p.message = initiatingMessage
	case StatePending:
		if p.value > progressCeiling {
			p.value = progressCeiling
		}
		if p.message == (ProgressMessage{}) || p.message == initiatingMessage {
			p.message = pendingMessage
		}
	}
}

func (p *progressEstimator) describe(message ProgressMessage) {
	if message != (ProgressMessage{}) {
		p.message = message
	}
}

func (p *progressEstimator) reset() {
	p.value = 0
	p.message = ProgressMessage{}
}

func (p *progressEstimator) current() Progress {
	return Progress{Value: p.value, Message: p.message}
}
