package messaging

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRoomSubject(t *testing.T) {
	subject := RoomSubject("0190a1b2-c3d4")
	if subject != "medchat.room.0190a1b2-c3d4" {
		t.Fatalf("RoomSubject() = %q", subject)
	}

	tests := []struct {
		subject string
		want    string
		ok      bool
	}{
		{subject, "0190a1b2-c3d4", true},
		{"medchat.room.", "", false},
		{"other.room.x", "", false},
	}
	for _, tt := range tests {
		got, ok := RoomFromSubject(tt.subject)
		if got != tt.want || ok != tt.ok {
			t.Errorf("RoomFromSubject(%q) = %q, %v; want %q, %v", tt.subject, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRoomFanOut(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}
	cfg := DefaultNATSConfig()
	cfg.URL = url

	c, err := NewNATSClient(cfg, zap.NewNop())
	if err != nil {
		t.Skipf("nats unavailable: %v", err)
	}
	defer c.Close()

	type frame struct {
		room string
		data string
	}
	got := make(chan frame, 1)
	if err := c.SubscribeRooms(func(roomID string, data []byte) {
		got <- frame{roomID, string(data)}
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.conn.Flush(); err != nil {
		t.Fatal(err)
	}

	if err := c.PublishRoom("s1", []byte(`{"type":"x"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-got:
		if f.room != "s1" || f.data != `{"type":"x"}` {
			t.Errorf("received %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room frame")
	}
}
