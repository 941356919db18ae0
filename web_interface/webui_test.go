package web_interface

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"smartflow-perp/logging"
	"smartflow-perp/models"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})          {}
func (nopLogger) Info(string, ...interface{})           {}
func (nopLogger) Warning(string, ...interface{})        {}
func (nopLogger) Error(string, ...interface{})          {}
func (nopLogger) Fatal(string, ...interface{})          {}
func (nopLogger) Sync() error                           { return nil }
func (nopLogger) ChangeLogLevel(level logging.LogLevel) {}

func TestHubStreamsSnapshotAndEvents(t *testing.T) {
	hub := NewHub(func() interface{} { return map[string]int{"positions": 2} }, nopLogger{})
	hub.Interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "dashboard_update" || first.Data["positions"] != 2 {
		t.Fatalf("unexpected snapshot: %+v", first)
	}

	hub.Alert(models.Alert{Type: models.AlertStopHit, Symbol: "BTCUSDT", Message: "stop"})

	var next struct {
		Type string       `json:"type"`
		Data models.Alert `json:"data"`
	}
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read alert: %v", err)
	}
	if next.Type != "alert" || next.Data.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected message: %+v", next)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	hub := NewHub(nil, nopLogger{})
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Publish("equity", i)
	}
	if len(hub.broadcast) != cap(hub.broadcast) {
		t.Fatalf("queue len = %d", len(hub.broadcast))
	}
}
