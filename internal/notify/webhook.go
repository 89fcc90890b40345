package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quitanda/escrowops/internal/domain"
)

// WebhookNotifier POSTs transaction updates to the platform's notification
// service. Delivery is best-effort: failures are logged and dropped, never
// surfaced to the escrow operation that triggered them.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

func (n *WebhookNotifier) TransactionUpdated(ctx context.Context, txn *domain.PaymentTransaction) {
	if n.url == "" {
		return
	}
	if err := n.send(ctx, txn); err != nil {
		n.logger.Error("transaction webhook failed",
			"txn_id", txn.ID,
			"status", txn.Status,
			"error", err,
		)
	}
}

func (n *WebhookNotifier) send(ctx context.Context, txn *domain.PaymentTransaction) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event":       "transaction.updated",
		"transaction": txn,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "escrowops-webhook/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
