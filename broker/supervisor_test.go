package broker

import (
	"context"
	"testing"
	"time"

	"iot_telemetry_hub/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(host string) *config.Config {
	cfg := &config.Config{}
	cfg.MQTT.Host = host
	cfg.MQTT.Port = 1883
	cfg.MQTT.ClientID = "test-hub"
	return cfg
}

func runSupervisor(t *testing.T, s *Supervisor, ctx context.Context, wait time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("supervisor did not stop after context cancellation")
	}
}

func TestRunReturnsOnCancelledContext(t *testing.T) {
	s := NewSupervisor(testConfig(""), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context ends the warm-up sleep immediately
	runSupervisor(t, s, ctx, time.Second)
	assert.False(t, s.IsConnected())
}

func TestRunUnconfiguredHostNeverConnects(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the warm-up delay")
	}

	s := NewSupervisor(testConfig(""), nil, nil)

	// Long enough to get past warm-up into the unconfigured-retry branch,
	// then cancel in the middle of its long sleep
	ctx, cancel := context.WithTimeout(context.Background(), warmUpDelay+200*time.Millisecond)
	defer cancel()

	start := time.Now()
	runSupervisor(t, s, ctx, warmUpDelay+2*time.Second)

	assert.False(t, s.IsConnected(), "an unconfigured broker must never be dialed")
	assert.Less(t, time.Since(start), warmUpDelay+time.Second,
		"cancellation must cut the retry sleep short")
}

func TestRunTreatsLocalhostAsUnconfigured(t *testing.T) {
	s := NewSupervisor(testConfig("localhost"), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runSupervisor(t, s, ctx, time.Second)
	assert.False(t, s.IsConnected())
}

func TestPublishCommandRequiresConnection(t *testing.T) {
	s := NewSupervisor(testConfig("broker.example.com"), nil, nil)

	err := s.PublishCommand(1, "reboot", map[string]interface{}{"delay": 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestDisconnectWithoutConnection(t *testing.T) {
	s := NewSupervisor(testConfig(""), nil, nil)
	s.Disconnect()
	assert.False(t, s.IsConnected())
}
