// Package notify delivers task events to an external HTTP endpoint.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"convertd/config"
	"convertd/metrics"
	"convertd/task"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	queueSize       = 256
	deliveryTimeout = 30 * time.Second
	enqueueWait     = 2 * time.Second
)

// Webhook is a task.Sink that POSTs events as JSON. Publish only enqueues;
// delivery happens on the goroutine started by Run.
type Webhook struct {
	url      string
	progress bool
	client   *retryablehttp.Client
	queue    chan task.Event
	log      hclog.Logger

	// enqueueWait bounds how long a terminal event waits for queue space.
	enqueueWait time.Duration
}

func NewWebhook(cfg *config.Config, logger hclog.Logger) *Webhook {
	log := logger.Named("notify")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.WebhookRetries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = log

	return &Webhook{
		url:      cfg.WebhookURL,
		progress: cfg.WebhookProgress,
		client:   retryClient,
		queue:    make(chan task.Event, queueSize),
		log:      log,

		enqueueWait: enqueueWait,
	}
}

// Publish queues e for delivery. Progress events are dropped unless enabled
// and when the queue is full. A terminal event waits up to enqueueWait for
// space before it is dropped.
func (w *Webhook) Publish(e task.Event) {
	if !e.Terminal() && !w.progress {
		return
	}
	select {
	case w.queue <- e:
		return
	default:
	}
	if e.Terminal() {
		timer := time.NewTimer(w.enqueueWait)
		defer timer.Stop()
		select {
		case w.queue <- e:
			return
		case <-timer.C:
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
	w.log.Warn("event queue full, dropping event", "task_id", e.TaskID, "kind", e.Kind, "status", e.Status)
}

// Run delivers queued events until ctx is done, then flushes what is left.
func (w *Webhook) Run(ctx context.Context) {
	w.log.Info("webhook notifier started", "url", w.url, "progress", w.progress)
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case e := <-w.queue:
			w.send(e)
		}
	}
}

func (w *Webhook) flush() {
	for {
		select {
		case e := <-w.queue:
			w.send(e)
		default:
			return
		}
	}
}

// send delivers one event. Each delivery gets its own deadline so events
// queued before shutdown still go out.
func (w *Webhook) send(e task.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := w.post(ctx, e); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		w.log.Error("webhook delivery failed", "task_id", e.TaskID, "kind", e.Kind, "error", err)
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("sent").Inc()
}

func (w *Webhook) post(ctx context.Context, e task.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
