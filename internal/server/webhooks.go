package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"maincontrol/internal/config"
	"maincontrol/internal/domain"
	"maincontrol/internal/engine"
	"maincontrol/internal/logging"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhooks delivers new work order events to the configured receivers
// until ctx is cancelled. Events recorded before the call are not sent.
func StartWebhooks(ctx context.Context, e engine.Engine, logger *slog.Logger) {
	d := newWebhookDispatcher(e, logger)
	if d == nil {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(e engine.Engine, logger *slog.Logger) *webhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger.With("component", "webhooks"),
		cursors:  make(map[int]int64),
	}
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

// dispatchWebhook sends pending events in order and stops at the first
// failed delivery so it is retried on the next tick.
func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.logger.Warn("fetch events failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.logger.Warn("delivery failed", "url", hook.URL, "event_id", evt.ID, "error", err)
			return
		}
		d.logger.Debug("event delivered", "url", hook.URL, "event_id", evt.ID, "type", evt.Type)
		d.setCursor(idx, evt.ID)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx)
	if err != nil {
		d.logger.Warn("init cursor failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Maincontrol-Event", evt.Type)
	req.Header.Set("X-Maincontrol-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Maincontrol-Secret", hook.Secret)
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
