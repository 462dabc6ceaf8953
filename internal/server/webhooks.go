package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"guardline/internal/config"
	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher tails the lifecycle event stream and fans each entry
// out to configured endpoints plus tenant-registered subscriptions.
// Delivery is at-least-once per endpoint; a failing endpoint blocks only
// its own cursor.
type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[string]int64
}

// StartWebhookDispatcher launches the background fan-out loop. Config
// webhooks receive every event; subscriptions registered through the API
// receive their own tenant's events only.
func StartWebhookDispatcher(e engine.Engine) {
	d := &webhookDispatcher{
		engine:  e,
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		cursors: make(map[string]int64),
	}
	if e.Config != nil {
		d.webhooks = e.Config.Webhooks
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(fmt.Sprintf("cfg:%d", i), hook)
	}
	subs, err := d.engine.Repo.ListEnabledSubscriptions(context.Background())
	if err != nil {
		log.Printf("webhook: list subscriptions failed: %v", err)
		return
	}
	for _, sub := range subs {
		if strings.TrimSpace(sub.URL) == "" {
			continue
		}
		d.dispatchSubscription(sub)
	}
}

func (d *webhookDispatcher) dispatchWebhook(key string, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(key)
	events, err := d.engine.Repo.EventsSince(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		log.Printf("webhook: fetch events failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, ev := range events {
		if !filter.match(ev.ActionType) {
			d.setCursor(key, ev.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, ev); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(key, ev.ID)
	}
}

func (d *webhookDispatcher) dispatchSubscription(sub repo.Subscription) {
	ctx := context.Background()
	key := "sub:" + sub.ID
	cursor := d.cursorFor(key)
	events, err := d.engine.Repo.EventsSinceForTenant(ctx, sub.TenantID, cursor, defaultWebhookBatch)
	if err != nil {
		log.Printf("webhook: fetch tenant events failed: %v", err)
		return
	}
	hook := config.WebhookConfig{URL: sub.URL, Secret: sub.Secret, Events: sub.Events}
	filter := newEventFilter(sub.Events)
	for _, ev := range events {
		if !filter.match(ev.ActionType) {
			d.setCursor(key, ev.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, ev); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", sub.URL, err)
			return
		}
		d.setCursor(key, ev.ID)
	}
}

func (d *webhookDispatcher) cursorFor(key string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur
	}
	// New endpoints start at the tip; history is not replayed.
	cur, err := d.engine.Repo.LatestEventID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[key] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(key string, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	ActionType string          `json:"action_type"`
	RecordID   string          `json:"record_id"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	UserEmail  string          `json:"user_email,omitempty"`
	TS         string          `json:"ts"`
	Details    json.RawMessage `json:"details"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, ev domain.LifecycleEvent) error {
	details := json.RawMessage([]byte("{}"))
	if ev.Details != "" && json.Valid([]byte(ev.Details)) {
		details = json.RawMessage([]byte(ev.Details))
	}
	body := webhookEvent{
		ID:         ev.ID,
		ActionType: ev.ActionType,
		RecordID:   ev.RecordID,
		TS:         ev.TS,
		Details:    details,
	}
	if ev.EntityType != nil {
		body.EntityType = *ev.EntityType
	}
	if ev.EntityID != nil {
		body.EntityID = *ev.EntityID
	}
	if ev.UserEmail != nil {
		body.UserEmail = *ev.UserEmail
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Guardline-Event", ev.ActionType)
	req.Header.Set("X-Guardline-Delivery", fmt.Sprintf("%d", ev.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Guardline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, ev := range events {
		key := strings.TrimSpace(ev)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(actionType string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[actionType]
	return ok
}
