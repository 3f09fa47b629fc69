package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/smartbill/smartbill/internal/metrics"
)

// Dispatcher pushes reply payloads to per-conversation session webhook
// URLs. Dispatch failures are reported but never fatal: the inline HTTP
// response has already been produced by the time this runs.
type Dispatcher struct {
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher with the given request timeout.
func NewDispatcher(log *slog.Logger, timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		client:  &http.Client{Timeout: timeout},
		logger:  log.With(slog.String("service", "dingtalk_dispatch")),
		metrics: m,
	}
}

// Send posts the JSON-encoded payload to the callback URL.
func (d *Dispatcher) Send(ctx context.Context, callbackURL string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		d.count("error")
		return fmt.Errorf("encode reply payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		d.count("error")
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.count("error")
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.count("error")
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	d.count("ok")
	return nil
}

func (d *Dispatcher) count(status string) {
	if d.metrics != nil {
		d.metrics.CallbackDispatches.WithLabelValues(status).Inc()
	}
}
