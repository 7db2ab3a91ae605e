package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/konnection/roomstate/internal/catalog"
	"github.com/konnection/roomstate/internal/kvstore"
)

func TestRealtimeStreamEmitsChangeEvents(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/events?category=favorites", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult, 16)
	go func() {
		streamReader := bufio.NewReader(streamResp.Body)
		for {
			line, err := streamReader.ReadString('\n')
			lines <- readResult{line: line, err: err}
			if err != nil {
				return
			}
		}
	}()

	nextEvent := func() (string, string) {
		t.Helper()
		currentEventType := ""
		deadline := time.After(5 * time.Second)
		for {
			select {
			case <-deadline:
				t.Fatal("timed out waiting for realtime event")
			case res := <-lines:
				if res.err != nil {
					t.Fatalf("failed to read stream: %v", res.err)
				}
				line := strings.TrimSpace(res.line)
				if strings.HasPrefix(line, "event:") {
					currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
					continue
				}
				if strings.HasPrefix(line, "data:") {
					return currentEventType, strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				}
			}
		}
	}

	if eventType, _ := nextEvent(); eventType != realtimeEventReady {
		t.Fatalf("expected ready event first, got %q", eventType)
	}

	// a recent view is filtered out, the favorite toggle is delivered
	server.do(t, http.MethodPost, "/me/recents", gin.H{"listingId": "1"}, "")
	server.do(t, http.MethodPost, "/me/favorites/1/toggle", nil, "")

	eventType, data := nextEvent()
	if eventType != RealtimeEventChange {
		t.Fatalf("expected change event, got %q", eventType)
	}
	var payload changePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if payload.Category != string(kvstore.CategoryFavorites) || payload.Key != "favorites/guest" || payload.Version != 1 {
		t.Fatalf("unexpected change payload %+v", payload)
	}
}

func TestEventSocketDeliversChanges(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	t.Cleanup(httpServer.Close)

	socketURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/events/ws?category=drafts,chat"
	conn, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		t.Fatalf("failed to dial event socket: %v", err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(5 * time.Second)
	var payload changePayload
	for time.Now().Before(deadline) {
		// the subscription is registered after the upgrade, so keep writing until one arrives
		server.do(t, http.MethodPost, "/chat/threads/landlord-1/contract-request", gin.H{"roomId": "1"}, "")
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if err := conn.ReadJSON(&payload); err == nil {
			break
		}
		conn.Close()
		conn, _, err = websocket.DefaultDialer.Dial(socketURL, nil)
		if err != nil {
			t.Fatalf("failed to redial event socket: %v", err)
		}
	}
	if payload.Type != RealtimeEventChange || payload.Category != string(kvstore.CategoryChat) {
		t.Fatalf("expected chat change, got %+v", payload)
	}
}

func TestEventSocketRejectsForeignOrigin(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	t.Cleanup(httpServer.Close)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/events/ws", header)
	if err == nil {
		t.Fatal("expected handshake to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestLiveSearchReturnsResultsForLatestQuery(t *testing.T) {
	server := newTestServer(t)
	httpServer := httptest.NewServer(server.handler)
	t.Cleanup(httpServer.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/listings/live", nil)
	if err != nil {
		t.Fatalf("failed to dial live search: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(catalog.Query{Keyword: "mapo"}); err != nil {
		t.Fatalf("failed to send query: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var message liveSearchResult
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("failed to read live result: %v", err)
	}
	if message.Ticket != 1 || message.Query.Keyword != "mapo" || len(message.Result.Listings) != 1 {
		t.Fatalf("unexpected live result %+v", message)
	}
}

func TestRequestedCategoriesSplitsValues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodGet, "/events?category=favorites,%20recents&category=chat", http.NoBody)

	categories := requestedCategories(ctx)
	expected := []kvstore.Category{kvstore.CategoryFavorites, kvstore.CategoryRecents, kvstore.CategoryChat}
	if len(categories) != len(expected) {
		t.Fatalf("expected %d categories, got %v", len(expected), categories)
	}
	for index, category := range expected {
		if categories[index] != category {
			t.Fatalf("expected %s at index %d, got %s", category, index, categories[index])
		}
	}
}
