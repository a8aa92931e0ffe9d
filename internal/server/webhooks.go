package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"workopilot/internal/app"
	"workopilot/internal/config"
	"workopilot/internal/domain"
	"workopilot/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher tails the audit log and posts matching entries to the
// configured webhooks. Each hook keeps its own cursor; delivery stops at the
// first failure and is retried from there on the next tick.
type webhookDispatcher struct {
	repo     repo.Repo
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	cursors  map[int]int64
}

func startWebhookDispatcher(ctx context.Context, a *app.App, logger *slog.Logger) {
	if a.Config == nil || len(a.Config.Webhooks) == 0 {
		return
	}
	d := newWebhookDispatcher(repo.Repo{DB: a.DB}, a.Config.Webhooks, logger)
	if err := d.init(ctx); err != nil {
		logger.Error("webhook: init cursors failed", "error", err)
		return
	}
	go d.run(ctx, defaultWebhookInterval)
}

func newWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, logger *slog.Logger) *webhookDispatcher {
	return &webhookDispatcher{
		repo:     r,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger.With("component", "webhooks"),
		cursors:  make(map[int]int64),
	}
}

// init starts every hook after the newest existing entry so history is not
// replayed.
func (d *webhookDispatcher) init(ctx context.Context) error {
	latest, err := d.repo.LatestLogs(ctx, repo.LogFilters{Limit: 1})
	if err != nil {
		return err
	}
	var cur int64
	if len(latest) > 0 {
		cur = latest[0].ID
	}
	for i := range d.webhooks {
		d.cursors[i] = cur
	}
	return nil
}

func (d *webhookDispatcher) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
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

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	entries, err := d.repo.LogsSince(ctx, d.cursors[idx], defaultWebhookBatch)
	if err != nil {
		d.logger.Error("webhook: fetch log entries failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, entry := range entries {
		if filter.match(entry.Event) {
			if err := d.post(ctx, hook, entry); err != nil {
				d.logger.Warn("webhook: delivery failed", "url", hook.URL, "log_id", entry.ID, "error", err)
				return
			}
		}
		d.cursors[idx] = entry.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Event      string          `json:"event"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	Operation  string          `json:"operation"`
	Actor      string          `json:"actor"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, entry domain.LogEntry) error {
	payload := json.RawMessage("{}")
	if entry.Payload != "" && json.Valid([]byte(entry.Payload)) {
		payload = json.RawMessage(entry.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         entry.ID,
		Event:      entry.Event,
		EntityKind: entry.EntityKind,
		EntityID:   entry.EntityID,
		Operation:  entry.Operation,
		Actor:      entry.Actor,
		TS:         entry.TS,
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
	req.Header.Set("X-Workopilot-Event", entry.Event)
	req.Header.Set("X-Workopilot-Delivery", fmt.Sprintf("%d", entry.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Workopilot-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", res.StatusCode, readLimited(res.Body, 4096))
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
