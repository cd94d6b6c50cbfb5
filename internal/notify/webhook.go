// Package notify delivers blocklist notifications to a webhook endpoint,
// typically a mail gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// maxDeliveries caps how many notifications a single order can produce.
// Re-evaluating an already-blocklisted order should not re-mail the
// fraud team every time.
const maxDeliveries = 3

// deliveryWindow bounds the delivery counter.
const deliveryWindow = 24 * time.Hour

// WebhookNotifier posts notification payloads as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
	cache  domain.Cache
}

// NewWebhookNotifier creates a notifier. An empty URL disables delivery;
// cache may be nil, which disables the per-order delivery cap.
func NewWebhookNotifier(cfg domain.NotifyConfig, cache domain.Cache) *WebhookNotifier {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}
}

// NotifyBlocklisted delivers a blocklist notification. Delivery is best
// effort: a disabled notifier or an exhausted per-order cap returns nil.
func (n *WebhookNotifier) NotifyBlocklisted(ctx context.Context, notification *domain.Notification) error {
	if n.url == "" {
		return nil
	}

	if n.cache != nil {
		count, err := n.cache.IncrementCounter(ctx, "notify:"+notification.OrderID, deliveryWindow)
		if err != nil {
			slog.Warn("notification counter unavailable", "order_id", notification.OrderID, "error", err)
		} else if count > maxDeliveries {
			slog.Debug("notification cap reached, skipping delivery",
				"order_id", notification.OrderID,
				"attempts", count,
			)
			return nil
		}
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}

	slog.Info("blocklist notification delivered",
		"order_id", notification.OrderID,
		"total_score", notification.TotalScore,
		"order_stopped", notification.OrderStopped,
	)
	return nil
}
