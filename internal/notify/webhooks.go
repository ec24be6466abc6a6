// Package notify delivers the journal events of a finished run to the
// configured webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"acctsweep/internal/config"
	"acctsweep/internal/domain"
	"acctsweep/internal/repo"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookBatch   = 100
)

type Dispatcher struct {
	Repo     repo.Repo
	Webhooks []config.WebhookConfig
	Client   *http.Client
	Logger   *zap.Logger
}

func New(r repo.Repo, hooks []config.WebhookConfig, logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Dispatcher{
		Repo:     r,
		Webhooks: hooks,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		Logger:   logger,
	}
}

// Deliver posts the events of runID to every enabled webhook, in event order.
// A hook stops at its first failed delivery; the other hooks still run.
func (d Dispatcher) Deliver(ctx context.Context, runID string) error {
	var errs []error
	for i, hook := range d.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sent, err := d.deliverHook(ctx, hook, runID)
		if err != nil {
			d.logger().Warn("webhook delivery failed", zap.Int("webhook", i), zap.String("url", hook.URL), zap.Error(err))
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
			continue
		}
		d.logger().Debug("webhook delivered", zap.String("url", hook.URL), zap.Int("events", sent))
	}
	return errors.Join(errs...)
}

func (d Dispatcher) deliverHook(ctx context.Context, hook config.WebhookConfig, runID string) (int, error) {
	filter := newEventFilter(hook.Events)
	var cursor int64
	sent := 0
	for {
		batch, err := d.Repo.RunEvents(ctx, runID, defaultWebhookBatch, cursor, "")
		if err != nil {
			return sent, fmt.Errorf("fetch events: %w", err)
		}
		for _, evt := range batch {
			cursor = evt.ID
			if !filter.match(evt.Type) {
				continue
			}
			if err := d.postEvent(ctx, hook, evt); err != nil {
				return sent, err
			}
			sent++
		}
		if len(batch) < defaultWebhookBatch {
			return sent, nil
		}
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	RunID      string          `json:"run_id"`
	Partition  string          `json:"partition,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d Dispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.PayloadJSON != "" {
		if json.Valid([]byte(evt.PayloadJSON)) {
			payload = json.RawMessage([]byte(evt.PayloadJSON))
		} else {
			raw = evt.PayloadJSON
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		RunID:      evt.RunID,
		Partition:  evt.Partition,
		UserID:     evt.UserID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			c := *client
			c.Timeout = timeout
			client = &c
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Acctsweep-Event", evt.Type)
	req.Header.Set("X-Acctsweep-Delivery", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Acctsweep-Run", evt.RunID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Acctsweep-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (d Dispatcher) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
