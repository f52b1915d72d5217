package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/alertmail-lite/internal/alert"
	"github.com/shineum/alertmail-lite/internal/delivery"
	"github.com/shineum/alertmail-lite/internal/events"
	"github.com/shineum/alertmail-lite/internal/provider"
	"github.com/shineum/alertmail-lite/internal/provider/stdout"
)

type fixture struct {
	svc    *alert.Service
	hub    *events.Hub
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewHub()

	reg := provider.NewRegistry()
	reg.Register(provider.StdoutRule, func(context.Context, provider.Config) (provider.Transport, error) {
		return stdout.NewWithWriter(io.Discard), nil
	})

	engine := delivery.New(nil,
		delivery.WithLogger(logger),
		delivery.WithPublisher(hub),
		delivery.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	svc := alert.NewService(
		alert.WithRegistry(reg),
		alert.WithEngine(engine),
		alert.WithLogger(logger),
		alert.WithSelfTestSend(false),
	)
	require.NoError(t, svc.Initialize(context.Background(), provider.Config{
		Provider:    provider.Stdout,
		SenderEmail: "alerts@example.com",
	}))

	srv := httptest.NewServer(NewHandler(svc, hub, logger).Router())
	t.Cleanup(srv.Close)
	return &fixture{svc: svc, hub: hub, server: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

var driver = alert.User{Name: "Dana", Email: "dana@example.com"}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := decode[alert.ServiceStatus](t, resp)
	assert.True(t, st.Initialized)
	assert.Equal(t, "stdout", st.Provider)
	assert.Equal(t, []string{"stdout"}, st.SupportedProviders)
}

func TestSendAlert(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/alerts", AlertRequest{
		User:  driver,
		Alert: alert.Alert{Type: alert.Drowsiness},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[alert.Result](t, resp)
	assert.True(t, res.Success)
	assert.Equal(t, "stdout", res.Provider)
	assert.Equal(t, "drowsiness_alert", res.Template)
}

func TestSendAlert_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "not json", body: "just a string"},
		{name: "invalid email", body: AlertRequest{User: alert.User{Name: "x", Email: "nope"}, Alert: alert.Alert{Type: alert.Drowsiness}}},
		{name: "missing name", body: AlertRequest{User: alert.User{Email: "a@example.com"}, Alert: alert.Alert{Type: alert.Drowsiness}}},
		{name: "unknown type", body: AlertRequest{User: driver, Alert: alert.Alert{Type: "meteor"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/v1/alerts", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decode[errorResponse](t, resp).Error)
		})
	}
}

func TestQueueLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/alerts", AlertRequest{User: driver, Alert: alert.Alert{Type: alert.VitalSigns}, Queue: true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	cancelID := decode[map[string]string](t, resp)["id"]
	require.NotEmpty(t, cancelID)

	resp = f.do(t, http.MethodPost, "/v1/alerts", AlertRequest{User: driver, Alert: alert.Alert{Type: alert.SystemError}, Queue: true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	keepID := decode[map[string]string](t, resp)["id"]

	resp = f.do(t, http.MethodGet, "/v1/deliveries/"+cancelID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, delivery.StatusQueued, decode[delivery.Record](t, resp).Status)

	resp = f.do(t, http.MethodDelete, "/v1/deliveries/"+cancelID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/v1/deliveries/"+cancelID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/v1/deliveries/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/queue/process", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode[[]delivery.Result](t, resp)
	require.Len(t, results, 1)
	assert.Equal(t, keepID, results[0].ID)
	assert.True(t, results[0].Success)

	resp = f.do(t, http.MethodGet, "/v1/deliveries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]delivery.Record](t, resp), 2)

	resp = f.do(t, http.MethodGet, "/v1/deliveries?status=failed", nil)
	failed := decode[[]delivery.Record](t, resp)
	require.Len(t, failed, 1)
	assert.Equal(t, cancelID, failed[0].ID)
	require.NotNil(t, failed[0].LastError)
	assert.Equal(t, delivery.CancelledMessage, failed[0].LastError.Message)
}

func TestGetDelivery_NotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/v1/deliveries/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "alertmail_queue_depth")
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/v1/events?recipient=dana@example.com", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err = f.svc.QueueAlert(alert.User{Name: "Other", Email: "other@example.com"}, alert.Alert{Type: alert.Drowsiness})
	require.NoError(t, err)
	id, err := f.svc.QueueAlert(driver, alert.Alert{Type: alert.Drowsiness})
	require.NoError(t, err)

	scanner := bufio.NewScanner(resp.Body)
	var got events.DeliveryEvent
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			require.NoError(t, json.Unmarshal([]byte(data), &got))
			break
		}
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, id, got.DeliveryID)
	assert.Equal(t, "dana@example.com", got.Recipient)
	assert.Equal(t, string(delivery.StatusQueued), got.Status)
}
