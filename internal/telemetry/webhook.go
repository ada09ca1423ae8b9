package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultQueueSize = 100
	postTimeout      = 10 * time.Second
)

// Webhook posts reports to a Discord-style webhook from a background
// worker. When the queue is full the oldest pending report is dropped.
type Webhook struct {
	url    string
	client *http.Client
	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient overrides the client used to post reports.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithQueueSize sets the number of reports buffered before dropping.
func WithQueueSize(n int) WebhookOption {
	return func(w *Webhook) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// NewWebhook creates a webhook sink and starts its worker.
func NewWebhook(url string, logger *slog.Logger, opts ...WebhookOption) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: postTimeout},
		queue:  make(chan string, defaultQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.run()
	return w
}

// Report queues message for delivery.
func (w *Webhook) Report(message string) {
	if w.ctx.Err() != nil {
		return
	}

	select {
	case w.queue <- message:
		return
	default:
	}

	// Queue full: make room by discarding the oldest report.
	select {
	case <-w.queue:
		w.logger.Warn("[TELEMETRY] Queue full, dropped oldest report")
	default:
	}
	select {
	case w.queue <- message:
	default:
		w.logger.Warn("[TELEMETRY] Failed to queue report")
	}
}

func (w *Webhook) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.queue:
			w.post(msg)
		}
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

func (w *Webhook) post(message string) {
	body, err := json.Marshal(webhookPayload{Content: "Error: " + message})
	if err != nil {
		w.logger.Error("[TELEMETRY] Failed to encode report", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(w.ctx, postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("[TELEMETRY] Failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Error("[TELEMETRY] Failed to send report", "error", err)
		return
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Error("[TELEMETRY] Webhook rejected report", "status", resp.StatusCode)
	}
}

// Close stops the worker. Reports still queued are discarded.
func (w *Webhook) Close() error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		w.logger.Warn("[TELEMETRY] Worker shutdown timeout")
	}

	if pending := len(w.queue); pending > 0 {
		w.logger.Warn("[TELEMETRY] Discarded pending reports", "count", pending)
	}
	return nil
}
