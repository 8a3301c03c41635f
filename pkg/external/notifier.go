package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/preventive-health-engine/internal/domain"
)

// NotifierConfig configures the Notification Service client
type NotifierConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// NotificationClient dispatches overdue follow-up events to the external
// Notification Service. Dispatch is fire-and-forget: failures are logged
// and never propagated to the assessment pipeline.
type NotificationClient struct {
	config  NotifierConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *logrus.Logger
}

// followUpPayload is the wire format for a follow-up-due notification
type followUpPayload struct {
	UserID   string    `json:"user_id"`
	TestType string    `json:"test_type,omitempty"`
	DueDate  time.Time `json:"due_date"`
	SentAt   time.Time `json:"sent_at"`
}

// NewNotificationClient creates a new rate-limited notification client
func NewNotificationClient(config NotifierConfig, logger *logrus.Logger) *NotificationClient {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	return &NotificationClient{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		log:     logger,
	}
}

// NotifyFollowUpDue sends an overdue follow-up event. The call returns
// immediately; delivery happens on a background goroutine.
func (n *NotificationClient) NotifyFollowUpDue(ctx context.Context, userID string, event domain.Event) {
	go func() {
		// Detach from the request context: the run may finish or be
		// cancelled before delivery, which must not abort dispatch.
		sendCtx, cancel := context.WithTimeout(context.Background(), n.config.Timeout+5*time.Second)
		defer cancel()

		if err := n.limiter.Wait(sendCtx); err != nil {
			n.log.WithError(err).Warn("Notification rate limiter wait aborted")
			return
		}

		if err := n.send(sendCtx, userID, event); err != nil {
			n.log.WithError(err).WithFields(logrus.Fields{
				"user_id":   userID,
				"test_type": event.TestType,
			}).Warn("Follow-up notification failed")
		}
	}()
}

func (n *NotificationClient) send(ctx context.Context, userID string, event domain.Event) error {
	payload := followUpPayload{
		UserID:   userID,
		TestType: event.TestType,
		DueDate:  event.Date,
		SentAt:   time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	url := fmt.Sprintf("%s/notifications/follow-up", n.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}
	return nil
}
