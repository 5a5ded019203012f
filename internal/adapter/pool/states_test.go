package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mdedetrich/hostpool/internal/config"
)

func TestStateFlags(t *testing.T) {
	tests := []struct {
		state       slotState
		name        string
		idle        bool
		connected   bool
		shouldClose bool
	}{
		{state: &unconnected{}, name: "unconnected", idle: true},
		{state: &preConnecting{}, name: "pre-connecting", idle: true},
		{state: &connecting{}, name: "connecting"},
		{state: &idleConnected{}, name: "idle", idle: true, connected: true},
		{state: &pushingRequest{}, name: "pushing-request", connected: true},
		{state: &waitingForResponse{}, name: "waiting-for-response", connected: true},
		{state: &waitingForDispatch{}, name: "waiting-for-dispatch", connected: true},
		{state: &waitingForSubscription{}, name: "waiting-for-subscription", connected: true},
		{state: &waitingForEntityEnd{}, name: "waiting-for-entity-end", connected: true},
		{state: &toBeClosed{}, name: "to-be-closed", shouldClose: true},
		{state: &failedState{}, name: "failed", shouldClose: true},
		{state: &outOfEmbargo{}, name: "out-of-embargo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())
			assert.Equal(t, tt.idle, tt.state.isIdle(), "isIdle")
			assert.Equal(t, tt.connected, tt.state.isConnected(), "isConnected")
			closing, _ := tt.state.shouldClose()
			assert.Equal(t, tt.shouldClose, closing, "shouldClose")
		})
	}
}

func TestStateTimeouts(t *testing.T) {
	settings := config.DefaultPoolSettings()
	settings.IdleTimeout = 7 * time.Second
	settings.ResponseTimeout = 11 * time.Second
	settings.ResponseEntitySubscriptionTimeout = 13 * time.Second

	assert.Equal(t, 7*time.Second, (&idleConnected{}).stateTimeout(&settings))
	assert.Equal(t, 11*time.Second, (&waitingForResponse{}).stateTimeout(&settings))
	assert.Equal(t, 13*time.Second, (&waitingForSubscription{}).stateTimeout(&settings))
	assert.Zero(t, (&unconnected{}).stateTimeout(&settings))
	assert.Zero(t, (&waitingForEntityEnd{}).stateTimeout(&settings))

	// embargoed slots wait the level plus up to the same again
	wait := (&outOfEmbargo{level: 40 * time.Millisecond}).stateTimeout(&settings)
	assert.GreaterOrEqual(t, wait, 40*time.Millisecond)
	assert.Less(t, wait, 80*time.Millisecond)
}

func TestToBeClosedCarriesFailure(t *testing.T) {
	cause := errors.New("wire torn")
	closing, failure := (&toBeClosed{failure: cause}).shouldClose()
	assert.True(t, closing)
	assert.Equal(t, cause, failure)

	closing, failure = (&toBeClosed{}).shouldClose()
	assert.True(t, closing)
	assert.Nil(t, failure)
}
