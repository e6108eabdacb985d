package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certmint/internal/certificate/models"
	"certmint/pkg/requestcontext"
)

type fakeProducer struct {
	mu       sync.Mutex
	keys     []string
	payloads [][]byte
	failOn   string
}

func (p *fakeProducer) Publish(_ context.Context, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != "" && key == p.failOn {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func appendEvent(t *testing.T, store Store, certificateID string, at time.Time) Event {
	t.Helper()
	cert := models.Certificate{
		CertificateID: certificateID,
		Domain:        "example.com",
		TaxID:         "7707083893",
		ValidFrom:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:       time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		UsersCount:    100,
		IsActive:      true,
	}
	event, err := NewEvent(EventIssued, cert, at)
	require.NoError(t, err)
	require.NoError(t, store.Append(requestcontext.WithTime(context.Background(), at), event))
	return event
}

func TestNewEventPayload(t *testing.T) {
	cert := models.Certificate{
		CertificateID: "AAAAA-AAAAA-AAAAA-A1224",
		Domain:        "example.com",
		TaxID:         "7707083893",
		ValidFrom:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:       time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		UsersCount:    100,
		IsActive:      true,
	}
	occurred := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	event, err := NewEvent(EventIssued, cert, occurred)
	require.NoError(t, err)
	assert.Equal(t, EventIssued, event.EventType)
	assert.Equal(t, "AAAAA-AAAAA-AAAAA-A1224", event.CertificateID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &body))
	assert.Equal(t, event.ID.String(), body["event_id"])
	assert.Equal(t, "certificate.issued", body["event_type"])
	assert.Equal(t, "example.com", body["domain"])
	assert.Equal(t, "2024-01-01", body["valid_from"])
	assert.Equal(t, "2024-12-31", body["valid_to"])
	assert.Equal(t, float64(100), body["users_count"])
	assert.Equal(t, true, body["is_active"])
	assert.Equal(t, "2024-06-15T12:00:00Z", body["occurred_at"])
}

func TestRelayDrainPublishesOldestFirst(t *testing.T) {
	store := NewInMemory()
	producer := &fakeProducer{}
	relay := NewRelay(store, producer, testLogger())

	appendEvent(t, store, "AAAAA-AAAAA-AAAAA-A1224", time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	appendEvent(t, store, "BBBBB-BBBBB-BBBBB-B1224", time.Date(2024, 6, 15, 12, 1, 0, 0, time.UTC))

	require.NoError(t, relay.drain(context.Background()))

	assert.Equal(t, []string{"AAAAA-AAAAA-AAAAA-A1224", "BBBBB-BBBBB-BBBBB-B1224"}, producer.keys)

	pending, err := store.FetchUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelayDrainStopsAtBrokerError(t *testing.T) {
	store := NewInMemory()
	producer := &fakeProducer{failOn: "BBBBB-BBBBB-BBBBB-B1224"}
	relay := NewRelay(store, producer, testLogger())

	appendEvent(t, store, "AAAAA-AAAAA-AAAAA-A1224", time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	failing := appendEvent(t, store, "BBBBB-BBBBB-BBBBB-B1224", time.Date(2024, 6, 15, 12, 1, 0, 0, time.UTC))
	appendEvent(t, store, "CCCCC-CCCCC-CCCCC-C1224", time.Date(2024, 6, 15, 12, 2, 0, 0, time.UTC))

	err := relay.drain(context.Background())
	require.Error(t, err)

	// The acknowledged event stays published, the rest wait for the next tick.
	pending, err := store.FetchUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, failing.ID, pending[0].ID)

	// Broker recovers; the retry publishes the remainder in order.
	producer.failOn = ""
	require.NoError(t, relay.drain(context.Background()))
	assert.Equal(t, []string{
		"AAAAA-AAAAA-AAAAA-A1224",
		"BBBBB-BBBBB-BBBBB-B1224",
		"CCCCC-CCCCC-CCCCC-C1224",
	}, producer.keys)
}

func TestRelayDrainPaginatesPastBatchSize(t *testing.T) {
	store := NewInMemory()
	producer := &fakeProducer{}
	relay := NewRelay(store, producer, testLogger(), WithBatchSize(2))

	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		appendEvent(t, store, fmt.Sprintf("AA%03d-AAAAA-AAAAA-A1224", i), base.Add(time.Duration(i)*time.Second))
	}

	require.NoError(t, relay.drain(context.Background()))
	assert.Len(t, producer.keys, 5)

	pending, err := store.FetchUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelayRunStopsOnContextCancel(t *testing.T) {
	store := NewInMemory()
	relay := NewRelay(store, &fakeProducer{}, testLogger(), WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(ctx)
	}()

	appendEvent(t, store, "AAAAA-AAAAA-AAAAA-A1224", time.Now())
	assert.Eventually(t, func() bool {
		pending, err := store.FetchUnpublished(context.Background(), 1)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}
