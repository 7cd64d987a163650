package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/metrics"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

// Notifier sends Web Push notifications to users with no live connection.
type Notifier struct {
	store           store.PushStore
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	client          webpush.HTTPClient
	retryMaxElapsed time.Duration
	log             *zap.Logger
}

// DefaultRetryMaxElapsed bounds retries of a push service answering 5xx.
const DefaultRetryMaxElapsed = 30 * time.Second

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(s store.PushStore, vapidPublicKey, vapidPrivateKey, subscriber string, log *zap.Logger) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	if subscriber == "" {
		subscriber = "mailto:push@medchat.local"
	}
	return &Notifier{
		store:           s,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
		client:          http.DefaultClient,
		retryMaxElapsed: DefaultRetryMaxElapsed,
		log:             log,
	}
}

// WithHTTPClient replaces the client used to reach push services.
func (n *Notifier) WithHTTPClient(c webpush.HTTPClient) *Notifier {
	n.client = c
	return n
}

// WithRetryMaxElapsed changes how long a failing push service is retried.
// Zero disables retries.
func (n *Notifier) WithRetryMaxElapsed(d time.Duration) *Notifier {
	n.retryMaxElapsed = d
	return n
}

func (n *Notifier) VAPIDPublicKey() string {
	return n.vapidPublicKey
}

// payload never carries message content; the client fetches it after the tap.
type payload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	URL            string `json:"url"`
	SubscriptionID string `json:"subscriptionId"`
	MessageID      string `json:"messageId"`
}

// NotifyNewMessage pushes a notification to every subscription of the
// message's recipient.
func (n *Notifier) NotifyNewMessage(ctx context.Context, msg *models.Message) {
	if n == nil {
		return
	}

	subs, err := n.store.ListPushSubscriptions(ctx, msg.ToUserID)
	if err != nil {
		n.log.Error("push: failed to list subscriptions", zap.String("user_id", msg.ToUserID), zap.Error(err))
		return
	}
	if len(subs) == 0 {
		n.log.Debug("push: no subscriptions", zap.String("user_id", msg.ToUserID))
		return
	}

	data, _ := json.Marshal(payload{
		Title:          "New message",
		Body:           "You have a new message",
		URL:            "/subscriptions/" + msg.SubscriptionID,
		SubscriptionID: msg.SubscriptionID,
		MessageID:      msg.ID,
	})

	for _, sub := range subs {
		n.sendToSubscription(ctx, sub, data)
	}
}

func (n *Notifier) sendToSubscription(ctx context.Context, sub *models.PushSubscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := n.send(ctx, s, data)
	if err != nil {
		metrics.PushNotificationsTotal.WithLabelValues("error").Inc()
		n.log.Warn("push: send failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// 410 Gone or 404 means the subscription expired
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		metrics.PushNotificationsTotal.WithLabelValues("expired").Inc()
		if err := n.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			n.log.Warn("push: failed to remove expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
			return
		}
		n.log.Info("push: removed expired subscription", zap.String("endpoint", sub.Endpoint), zap.Int("status", resp.StatusCode))
		return
	}

	metrics.PushNotificationsTotal.WithLabelValues("sent").Inc()
	n.log.Debug("push: sent", zap.String("endpoint", sub.Endpoint), zap.Int("status", resp.StatusCode))
}

// send delivers one notification, retrying transport errors and 5xx answers
// with exponential backoff. Any other status is returned to the caller.
func (n *Notifier) send(ctx context.Context, s *webpush.Subscription, data []byte) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		r, err := webpush.SendNotificationWithContext(ctx, data, s, &webpush.Options{
			HTTPClient:      n.client,
			VAPIDPublicKey:  n.vapidPublicKey,
			VAPIDPrivateKey: n.vapidPrivateKey,
			Subscriber:      n.subscriber,
			TTL:             86400,
		})
		if err != nil {
			return err
		}
		if r.StatusCode >= http.StatusInternalServerError {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			return fmt.Errorf("push service answered %d", r.StatusCode)
		}
		resp = r
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if n.retryMaxElapsed > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		eb.MaxElapsedTime = n.retryMaxElapsed
		b = eb
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}
