// Package hooks delivers catalog events to HTTP webhooks.
package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/amaydixit11/shortbin/internal/engine"
	"github.com/amaydixit11/shortbin/internal/logging"
)

const (
	EventHeader     = "X-Shortbin-Event"
	SignatureHeader = "X-Shortbin-Signature"

	defaultTimeout = 10 * time.Second
)

// Webhook configures one HTTP endpoint
type Webhook struct {
	URL        string             `yaml:"url" json:"url"`
	Events     []engine.EventType `yaml:"events" json:"events"`           // empty = all events
	Headers    map[string]string  `yaml:"headers" json:"headers"`         // Custom headers
	Secret     string             `yaml:"secret" json:"secret"`           // HMAC secret for signing
	MaxRetries int                `yaml:"max_retries" json:"max_retries"` // Retries after the first attempt; 0 = none
	Timeout    time.Duration      `yaml:"timeout" json:"timeout"`         // Request timeout
}

func (w Webhook) wants(t engine.EventType) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, et := range w.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Options configures a Dispatcher
type Options struct {
	Client *http.Client
	Logger *zerolog.Logger

	// Backoff returns the pause before retry n (n >= 1).
	// Defaults to n*n seconds.
	Backoff func(n int) time.Duration
}

// Dispatcher posts catalog events to webhooks
type Dispatcher struct {
	hooks   []Webhook
	client  *http.Client
	log     zerolog.Logger
	backoff func(int) time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher validates hooks and applies defaults
func NewDispatcher(hooks []Webhook, opts Options) (*Dispatcher, error) {
	validated := make([]Webhook, len(hooks))
	for i, h := range hooks {
		u, err := url.Parse(h.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("webhook %d: invalid url %q", i, h.URL)
		}
		if h.MaxRetries < 0 {
			return nil, fmt.Errorf("webhook %d: negative max_retries %d", i, h.MaxRetries)
		}
		if h.Timeout == 0 {
			h.Timeout = defaultTimeout
		}
		validated[i] = h
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = func(n int) time.Duration {
			// Quadratic backoff: 1s, 4s, 9s, ...
			return time.Duration(n*n) * time.Second
		}
	}

	return &Dispatcher{
		hooks:   validated,
		client:  client,
		log:     logging.OrNop(opts.Logger).With().Str("component", "hooks").Logger(),
		backoff: backoff,
	}, nil
}

// Run delivers events from bus until ctx is done or the bus closes, then
// waits for in-flight deliveries.
func (d *Dispatcher) Run(ctx context.Context, bus *engine.EventBus) {
	if len(d.hooks) == 0 {
		return
	}
	sub := bus.Subscribe(d.subscription())
	defer bus.Unsubscribe(sub)
	defer d.wg.Wait()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			d.Trigger(ctx, event)
		case <-ctx.Done():
			return
		}
	}
}

// subscription asks the bus only for event types some hook wants
func (d *Dispatcher) subscription() engine.SubscriptionOptions {
	var opts engine.SubscriptionOptions
	seen := make(map[engine.EventType]bool)
	for _, h := range d.hooks {
		if len(h.Events) == 0 {
			return engine.SubscriptionOptions{}
		}
		for _, et := range h.Events {
			if !seen[et] {
				seen[et] = true
				opts.Events = append(opts.Events, et)
			}
		}
	}
	return opts
}

// Trigger starts a delivery of event to every matching webhook
func (d *Dispatcher) Trigger(ctx context.Context, event engine.Event) {
	for _, h := range d.hooks {
		if !h.wants(event.Type) {
			continue
		}
		d.wg.Add(1)
		go func(h Webhook) {
			defer d.wg.Done()
			if err := d.Deliver(ctx, h, event); err != nil {
				d.log.Warn().Err(err).Str("url", h.URL).Str("code", event.Code).Msg("webhook delivery failed")
			}
		}(h)
	}
}

// Wait blocks until all triggered deliveries finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver posts event to h, retrying non-2xx responses and transport errors
func (d *Dispatcher) Deliver(ctx context.Context, h Webhook, event engine.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= h.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = d.post(ctx, h, event.Type, payload)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *Dispatcher) post(ctx context.Context, h Webhook, t engine.EventType, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(t))
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	if h.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(h.Secret, payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

// Sign returns the signature header value for payload: sha256=<hex hmac>
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
