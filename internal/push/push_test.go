package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store/storetest"
)

func browserKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		t.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func TestNewNotifierRequiresKeys(t *testing.T) {
	if n := NewNotifier(nil, "", "", "", zap.NewNop()); n != nil {
		t.Error("NewNotifier() without keys should return nil")
	}
	var n *Notifier
	n.NotifyNewMessage(context.Background(), &models.Message{ToUserID: "u"})
}

func TestNotifyRemovesExpiredSubscriptions(t *testing.T) {
	var hits atomic.Int32
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer gone.Close()
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer alive.Close()

	s := storetest.New(t)
	ctx := context.Background()
	for _, endpoint := range []string{gone.URL + "/sub", alive.URL + "/sub"} {
		p256dh, auth := browserKeys(t)
		if err := s.SavePushSubscription(ctx, &models.PushSubscription{
			UserID: "doc", Endpoint: endpoint, P256dh: p256dh, Auth: auth, CreatedAt: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}
	n := NewNotifier(s, vapidPublic, vapidPrivate, "", zap.NewNop())

	n.NotifyNewMessage(ctx, &models.Message{ID: "m1", SubscriptionID: "s1", ToUserID: "doc"})

	if hits.Load() != 2 {
		t.Errorf("push services hit %d times, want 2", hits.Load())
	}
	subs, err := s.ListPushSubscriptions(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].Endpoint != alive.URL+"/sub" {
		t.Errorf("remaining subscriptions = %+v", subs)
	}
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer flaky.Close()

	s := storetest.New(t)
	ctx := context.Background()
	p256dh, auth := browserKeys(t)
	if err := s.SavePushSubscription(ctx, &models.PushSubscription{
		UserID: "doc", Endpoint: flaky.URL + "/sub", P256dh: p256dh, Auth: auth, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}
	n := NewNotifier(s, vapidPublic, vapidPrivate, "", zap.NewNop()).WithRetryMaxElapsed(5 * time.Second)

	n.NotifyNewMessage(ctx, &models.Message{ID: "m1", SubscriptionID: "s1", ToUserID: "doc"})

	if hits.Load() != 2 {
		t.Errorf("push service hit %d times, want 2", hits.Load())
	}
	subs, _ := s.ListPushSubscriptions(ctx, "doc")
	if len(subs) != 1 {
		t.Errorf("subscription removed after a transient failure")
	}
}
