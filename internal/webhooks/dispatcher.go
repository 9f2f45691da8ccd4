package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/stockhaul/stockhaul/internal/events"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/metrics"
)

const (
	maxAttempts    = 3
	deliveryQueue  = 256
	requestTimeout = 10 * time.Second
)

// Dispatcher fans pipeline events out to matching subscriptions. It
// implements events.Sink; Deliver never blocks the publishing operation
// beyond a queue insert.
type Dispatcher struct {
	store  Store
	client *http.Client
	queue  chan delivery
	wg     sync.WaitGroup
	stop   chan struct{}
}

type delivery struct {
	sub   *Subscription
	event events.Event
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(store Store, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: requestTimeout},
		queue:  make(chan delivery, deliveryQueue),
		stop:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Deliver implements events.Sink. Subscription lookup happens inline (cheap);
// the HTTP deliveries queue to the worker pool. When the queue is full the
// delivery is dropped, never blocking a pipeline operation.
func (d *Dispatcher) Deliver(ctx context.Context, event events.Event) {
	if len(event.CompanyIDs) == 0 {
		return
	}
	subs, err := d.store.ListActiveForCompanies(ctx, event.CompanyIDs)
	if err != nil {
		logging.L(ctx).Error("webhook subscription lookup failed", "eventType", event.Type, "error", err)
		return
	}
	for _, sub := range subs {
		if !sub.Matches(string(event.Type)) {
			continue
		}
		select {
		case d.queue <- delivery{sub: sub, event: event}:
		default:
			metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
			logging.L(ctx).Warn("webhook delivery queue full, dropping",
				"subscriptionId", sub.ID, "eventType", event.Type)
		}
	}
}

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() {
	close(d.stop)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			// Drain what is already queued.
			for {
				select {
				case dv := <-d.queue:
					d.send(dv)
				default:
					return
				}
			}
		case dv := <-d.queue:
			d.send(dv)
		}
	}
}

func (d *Dispatcher) send(dv delivery) {
	body, err := json.Marshal(dv.event)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * time.Second)
		}
		if lastErr = d.post(dv.sub, dv.event, body); lastErr == nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
			return
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	logging.L(context.Background()).Warn("webhook delivery failed",
		"subscriptionId", dv.sub.ID, "url", dv.sub.URL,
		"eventType", dv.event.Type, "error", lastErr)
}

func (d *Dispatcher) post(sub *Subscription, event events.Event, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stockhaul-Event", string(event.Type))
	req.Header.Set("X-Stockhaul-Signature", Sign(sub.Secret, body))
	req.Header.Set("X-Stockhaul-Timestamp", strconv.FormatInt(event.Timestamp.Unix(), 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 delivery signature receivers verify.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
