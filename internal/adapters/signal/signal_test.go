package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/saffronlab/loom/internal/core"
	"github.com/saffronlab/loom/internal/domain"
)

// memGateway is an in-memory persistence boundary with no guards, enough
// to drive the session protocol end to end.
type memGateway struct {
	mu      sync.Mutex
	records map[domain.RoomID][]byte
}

func newMemGateway() *memGateway {
	return &memGateway{records: make(map[domain.RoomID][]byte)}
}

func (g *memGateway) Hydrate(_ context.Context, room domain.RoomID) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.records[room], nil
}

func (g *memGateway) Persist(_ context.Context, room domain.RoomID, raw []byte, _ domain.Project, _ core.PersistOpts) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[room] = raw
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rooms := core.NewRoomManager(core.Deps{Gateway: newMemGateway(), LogCapacity: 16})
	ctl := NewSessionController(rooms, 1<<20, time.Minute)

	r := gin.New()
	r.GET("/api/ws", func(c *gin.Context) {
		ctl.HandleSession(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, room, key string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?room=" + room
	if key != "" {
		u += "&reattachment_key=" + key
	}
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMsg(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return m
}

// waitFor reads messages until one of the given kind arrives, skipping
// unrelated traffic such as presence updates.
func waitFor(t *testing.T, ws *websocket.Conn, kind string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		m := readMsg(t, ws)
		if m["type"] == kind {
			return m
		}
	}
	t.Fatalf("no %q message within 10 reads", kind)
	return nil
}

func sendMsg(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func memberNames(m map[string]any) []string {
	var names []string
	for _, raw := range m["members"].([]any) {
		names = append(names, raw.(map[string]any)["name"].(string))
	}
	return names
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv, "r1", "")

	hello := readMsg(t, a)
	if hello["type"] != "hello" {
		t.Fatalf("first message = %v, want hello", hello["type"])
	}
	if hello["room_id"] != "r1" {
		t.Errorf("room_id = %v", hello["room_id"])
	}
	self := hello["self"].(map[string]any)
	if self["name"] == "" || self["color"] == "" {
		t.Errorf("self missing generated name or color: %v", self)
	}
	if n := len(hello["members"].([]any)); n != 1 {
		t.Errorf("members = %d, want 1", n)
	}
	if v := hello["version"].(float64); v != 0 {
		t.Errorf("fresh room version = %v, want 0", v)
	}

	syn := readMsg(t, a)
	if syn["type"] != "sync" {
		t.Fatalf("second message = %v, want sync", syn["type"])
	}
	if updates := syn["updates"].([]any); len(updates) != 0 {
		t.Errorf("fresh room replay = %d updates, want 0", len(updates))
	}

	// A commits a snapshot; the accepted version comes back to A too.
	sendMsg(t, a, map[string]any{
		"type": "state:update",
		"payload": map[string]any{
			"documents": []map[string]any{
				{"id": "d1", "title": "Interview 1", "plain_text": "hello world"},
			},
		},
	})
	st := waitFor(t, a, "state:update")
	version := st["version"].(float64)
	if version <= 0 {
		t.Fatalf("stamped version = %v, want > 0", version)
	}
	if raw := fmt.Sprintf("%v", st["raw"]); !strings.Contains(raw, "d1") {
		t.Errorf("broadcast raw missing document: %s", raw)
	}

	// A buffers a collaboration blob for late joiners. Dispatch is
	// sequential per connection, so the pong confirms the edit has been
	// appended before B joins.
	sendMsg(t, a, map[string]any{
		"type":    "edit:update",
		"payload": map[string]any{"op": "insert", "at": 3},
	})
	sendMsg(t, a, map[string]any{"type": "ping", "token": "fence"})
	waitFor(t, a, "pong")

	// B joins and sees the committed state and the buffered update.
	b := dial(t, srv, "r1", "")
	helloB := readMsg(t, b)
	if n := len(helloB["members"].([]any)); n != 2 {
		t.Errorf("B sees %d members, want 2", n)
	}
	if v := helloB["version"].(float64); v != version {
		t.Errorf("B hello version = %v, want %v", v, version)
	}
	synB := readMsg(t, b)
	if updates := synB["updates"].([]any); len(updates) != 1 {
		t.Errorf("B replay = %d updates, want 1", len(updates))
	}

	// A learns about B through a presence update.
	pres := waitFor(t, a, "presence:update")
	if n := len(pres["members"].([]any)); n != 2 {
		t.Errorf("presence members = %d, want 2", n)
	}
}

func TestRenameBroadcast(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv, "rename", "")
	readMsg(t, a) // hello
	readMsg(t, a) // sync
	b := dial(t, srv, "rename", "")
	readMsg(t, b)
	readMsg(t, b)

	sendMsg(t, a, map[string]any{"type": "presence:rename", "name": "  Dana  "})

	// Both peers converge on the trimmed name. A may first drain the
	// presence update from B's join.
	for _, ws := range []*websocket.Conn{a, b} {
		found := false
		for i := 0; i < 5 && !found; i++ {
			m := waitFor(t, ws, "presence:update")
			for _, n := range memberNames(m) {
				if n == "Dana" {
					found = true
				}
			}
		}
		if !found {
			t.Fatal("rename never reached peer")
		}
	}
}

func TestReattachReplacesConnection(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv, "r2", "key-1")
	helloA := readMsg(t, a)
	readMsg(t, a) // sync
	selfA := helloA["self"].(map[string]any)

	b := dial(t, srv, "r2", "key-1")
	helloB := readMsg(t, b)
	selfB := helloB["self"].(map[string]any)

	if selfA["id"] != selfB["id"] {
		t.Errorf("reattach minted a new identity: %v vs %v", selfA["id"], selfB["id"])
	}
	if n := len(helloB["members"].([]any)); n != 1 {
		t.Errorf("reattach duplicated the member list: %d entries", n)
	}

	// The stale connection is told it was replaced.
	_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := a.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, CloseReplaced) {
			t.Errorf("stale connection close = %v, want code %d", err, CloseReplaced)
		}
		break
	}
}

func TestRelayTagsSenderAndSkipsThem(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv, "r3", "")
	helloA := readMsg(t, a)
	readMsg(t, a) // sync
	selfA := helloA["self"].(map[string]any)

	b := dial(t, srv, "r3", "")
	readMsg(t, b)
	readMsg(t, b)
	waitFor(t, a, "presence:update")

	sendMsg(t, a, map[string]any{"type": "cursor:update", "position": 5})

	cur := waitFor(t, b, "cursor:update")
	if cur["room_id"] != "r3" {
		t.Errorf("room_id = %v", cur["room_id"])
	}
	if cur["position"].(float64) != 5 {
		t.Errorf("position = %v", cur["position"])
	}
	user := cur["user"].(map[string]any)
	if user["id"] != selfA["id"] {
		t.Errorf("relay tagged wrong sender: %v, want %v", user["id"], selfA["id"])
	}

	// B answers; A must not have received its own cursor event first.
	sendMsg(t, b, map[string]any{"type": "cursor:update", "position": 9})
	curA := waitFor(t, a, "cursor:update")
	if curA["position"].(float64) != 9 {
		t.Errorf("A received position %v, want only B's event (9)", curA["position"])
	}
}

// recSender records delivered frames; with fail set every send errors,
// standing in for a dead peer.
type recSender struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (r *recSender) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("dead peer")
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recSender) Close(code int, reason string) {}

func (r *recSender) kinds(t *testing.T) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("decode %q: %v", f, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func TestDroppedMemberDepartsWithClears(t *testing.T) {
	rooms := core.NewRoomManager(core.Deps{Gateway: newMemGateway(), LogCapacity: 16})
	ctl := NewSessionController(rooms, 1<<20, time.Minute)
	room := rooms.GetOrCreate("drop")

	healthy := &recSender{}
	dead := &recSender{fail: true}
	room.Presence.Join("ok", healthy, "")
	room.Presence.Join("dead", dead, "")

	ctl.deliver(room, mustFrame(map[string]any{"type": "edit:update", "room_id": room.ID}), "")

	if got := room.Presence.Count(); got != 1 {
		t.Fatalf("members after drop = %d, want 1", got)
	}
	// The survivor sees the eviction as a normal departure.
	want := []string{"edit:update", "presence:update", "cursor:clear", "selection:clear"}
	got := healthy.kinds(t)
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRelayCarriesCurrentName(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv, "r6", "")
	readMsg(t, a)
	readMsg(t, a)
	b := dial(t, srv, "r6", "")
	readMsg(t, b)
	readMsg(t, b)

	// A's rename and cursor event dispatch sequentially on A's
	// connection, so the relay tag must show the new name.
	sendMsg(t, a, map[string]any{"type": "presence:rename", "name": "Dana"})
	sendMsg(t, a, map[string]any{"type": "cursor:update", "position": 1})

	cur := waitFor(t, b, "cursor:update")
	if name := cur["user"].(map[string]any)["name"]; name != "Dana" {
		t.Errorf("relay user name = %v, want Dana", name)
	}
}

func TestPingEchoesToken(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv, "r4", "")
	readMsg(t, a)
	readMsg(t, a)

	sendMsg(t, a, map[string]any{"type": "ping", "token": "t-42"})
	pong := waitFor(t, a, "pong")
	if pong["token"] != "t-42" {
		t.Errorf("pong token = %v, want t-42", pong["token"])
	}
}

func TestOversizedStateRejectedToSenderOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rooms := core.NewRoomManager(core.Deps{
		Gateway: newMemGateway(),
		Limits:  core.Limits{ProjectMaxBytes: 256},
	})
	ctl := NewSessionController(rooms, 1<<20, time.Minute)
	r := gin.New()
	r.GET("/api/ws", func(c *gin.Context) { ctl.HandleSession(context.Background(), c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	a := dial(t, srv, "r5", "")
	readMsg(t, a)
	readMsg(t, a)

	sendMsg(t, a, map[string]any{
		"type":    "state:update",
		"payload": map[string]any{"documents": []map[string]any{{"id": "d1", "plain_text": strings.Repeat("x", 500)}}},
	})
	errMsg := waitFor(t, a, "state:save:error")
	if errMsg["code"] != "project_too_large" {
		t.Errorf("code = %v, want project_too_large", errMsg["code"])
	}
}
