package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*Recorder)(nil)
	_ Publisher = (*NATSPublisher)(nil)
)

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, Event{Type: TypeCreated, CompanyID: 1}))
	require.NoError(t, r.Publish(ctx, Event{Type: TypeActivated, CompanyID: 1}))

	assert.Equal(t, []string{TypeCreated, TypeActivated}, r.Types())
	assert.Len(t, r.Events(), 2)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{Type: TypeDeclined}))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "plansync.subscription.expired", subject("plansync", TypeExpired))
}

func TestEventJSON(t *testing.T) {
	e := Event{
		ID:             "evt_1",
		Type:           TypeCancelled,
		CompanyID:      7,
		SubscriptionID: "sub-local",
		PlanID:         "pro",
		Status:         "cancelled",
		OccurredAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "subscription.cancelled", m["type"])
	assert.Equal(t, float64(7), m["company_id"])
	assert.NotContains(t, m, "platform_subscription_id")
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:1"}, logger)
	assert.Error(t, err)
}
