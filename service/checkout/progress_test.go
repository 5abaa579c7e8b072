package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressEstimatorNeverCompletesWhilePending(t *testing.T) {
	estimator := newProgressEstimator(10*time.Second, time.Second)
	estimator.observe(StateInitiating, "")
	assert.Zero(t, estimator.current().Value)

	estimator.observe(StatePending, "")
	assert.Equal(t, pendingMessage, estimator.current().Message)

	previous := 0.0
	for i := 0; i < 50; i++ {
		estimator.advance()
		value := estimator.current().Value
		assert.GreaterOrEqual(t, value, previous)
		assert.LessOrEqual(t, value, progressCeiling)
		previous = value
	}
	assert.Equal(t, progressCeiling, estimator.current().Value)
}

func TestProgressEstimatorLinearStep(t *testing.T) {
	estimator := newProgressEstimator(4*time.Second, time.Second)
	estimator.observe(StatePending, "")

	estimator.advance()
	assert.InDelta(t, 24.5, estimator.current().Value, 0.0001)
	estimator.advance()
	assert.InDelta(t, 49.0, estimator.current().Value, 0.0001)
}

func TestProgressEstimatorTerminalStates(t *testing.T) {
	estimator := newProgressEstimator(time.Second, 100*time.Millisecond)
	estimator.observe(StatePending, "")
	estimator.advance()

	estimator.observe(StateSuccess, "")
	assert.Equal(t, progressComplete, estimator.current().Value)
	assert.Equal(t, successMessage, estimator.current().Message)

	estimator.observe(StateFailed, "Payment unsuccessful")
	assert.Zero(t, estimator.current().Value)
	assert.Equal(t, "Payment unsuccessful", estimator.current().Message.Sub)

	estimator.observe(StatePending, "")
	estimator.advance()
	estimator.observe(StateIdle, "")
	assert.Zero(t, estimator.current().Value)
	assert.Equal(t, ProgressMessage{}, estimator.current().Message)
}

func TestProgressEstimatorKeepsVerdictMessage(t *testing.T) {
	estimator := newProgressEstimator(time.Second, 100*time.Millisecond)
	estimator.observe(StatePending, "")
	estimator.describe(continueMessages[gatewayStatusProcessing])
	estimator.observe(StatePending, "")

	assert.Equal(t, continueMessages[gatewayStatusProcessing], estimator.current().Message)
}
