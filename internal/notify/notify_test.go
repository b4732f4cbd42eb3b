package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/settlement/internal/port"
)

func sample() port.Notification {
	return port.Notification{
		Kind:      "order.confirmation",
		Recipient: "ama@example.com",
		Subject:   "Order ORD-000001 confirmed",
		EntityID:  "order-1",
		Data:      map[string]string{"total": "112.50"},
	}
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	var got port.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, logger)
	require.NoError(t, n.Notify(context.Background(), sample()))
	assert.Equal(t, sample(), got)
}

func TestWebhookNotifier_TripsBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, FailureThreshold: 2}, logger)

	for i := 0; i < 2; i++ {
		err := n.Notify(context.Background(), sample())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webhook error 502")
	}
	assert.Equal(t, "open", n.State())

	err := n.Notify(context.Background(), sample())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "circuit breaker state changed", hook.LastEntry().Message)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier([]string{"localhost:9092"}, "settlement.notifications")
	n.writer = w

	require.NoError(t, n.Notify(context.Background(), sample()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-1", string(w.msgs[0].Key))
	assert.Equal(t, "kind", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "order.confirmation", string(w.msgs[0].Headers[0].Value))

	var decoded port.Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, sample(), decoded)

	w.err = errors.New("broker unavailable")
	assert.Error(t, n.Notify(context.Background(), sample()))
}

func TestLogNotifierAndFanout(t *testing.T) {
	logger, hook := test.NewNullLogger()
	w := &fakeWriter{err: errors.New("broker unavailable")}
	k := NewKafkaNotifier([]string{"localhost:9092"}, "t")
	k.writer = w

	err := Fanout{NewLogNotifier(logger), k}.Notify(context.Background(), sample())
	assert.Error(t, err)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Order ORD-000001 confirmed", hook.LastEntry().Message)
	assert.Equal(t, "ama@example.com", hook.LastEntry().Data["recipient"])
}
