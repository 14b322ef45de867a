package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/events/bus"
)

// WebhookNotifier delivers run lifecycle events to the webhook named in the
// run's kwargs. Delivery is best-effort: failures are logged and dropped.
type WebhookNotifier struct {
	client *http.Client
	logger *logger.Logger
	sub    bus.Subscription
}

// NewWebhookNotifier subscribes to all run lifecycle subjects.
func NewWebhookNotifier(eventBus bus.EventBus, log *logger.Logger) (*WebhookNotifier, error) {
	n := &WebhookNotifier{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: log.WithFields(zap.String("component", "webhook-notifier")),
	}
	sub, err := eventBus.Subscribe(bus.SubjectRunAll, n.handle)
	if err != nil {
		return nil, err
	}
	n.sub = sub
	return n, nil
}

// Close detaches the notifier from the bus.
func (n *WebhookNotifier) Close() {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
}

func (n *WebhookNotifier) handle(ctx context.Context, event *bus.Event) error {
	url, ok := event.Data["webhook"].(string)
	if !ok || url == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.WithError(err).Warn("webhook delivery failed",
			zap.String("url", url), zap.String("event", event.Type))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook delivery rejected",
			zap.String("url", url), zap.Int("status", resp.StatusCode))
	}
	return nil
}
