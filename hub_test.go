package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// testServer is a full server on an httptest listener.
type testServer struct {
	*httptest.Server
	lobby *Lobby
	store *Store
}

func newTestServer(t *testing.T, mutate func(*AppConfig)) *testServer {
	t.Helper()
	cfg := defaultConfig()
	cfg.Seed = 7
	cfg.MaxRounds = 2
	cfg.NightWindow = Duration{100 * time.Millisecond}
	cfg.SpeechWindow = Duration{100 * time.Millisecond}
	cfg.VoteWindow = Duration{100 * time.Millisecond}
	cfg.DecisionTimeout = Duration{time.Second}
	cfg.Pacing = Duration{}
	if mutate != nil {
		mutate(&cfg)
	}

	store := openTestStore(t)
	decider, reviewer := initAgentBackend(cfg)
	hub := newHub(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	lobby := newLobby(hub, store, cfg, decider, reviewer)
	hub.start()

	srv := httptest.NewServer((&Server{hub: hub, lobby: lobby, store: store, cfg: cfg}).routes())
	t.Cleanup(func() {
		srv.Close()
		lobby.shutdown()
		hub.stop()
	})
	return &testServer{Server: srv, lobby: lobby, store: store}
}

// wsConn is a test client that decodes every message as a flat JSON object.
type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (ts *testServer) dial(t *testing.T) *wsConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsConn{t: t, conn: conn}
}

func (c *wsConn) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *wsConn) next() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(20*time.Second)))
	var msg map[string]any
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return msg
}

// until reads until a message of type typ arrives, calling seen for every
// message on the way.
func (c *wsConn) until(typ EventType, seen func(map[string]any)) map[string]any {
	c.t.Helper()
	for {
		msg := c.next()
		if seen != nil {
			seen(msg)
		}
		if msg["type"] == string(typ) {
			return msg
		}
	}
}

func (ts *testServer) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestInvalidConfigIsRefused(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	initMsg := c.next()
	assert.Equal(t, "INIT", initMsg["type"])
	assert.Empty(t, initMsg["players"])

	c.send(WSMessage{Type: msgConfig, PlayerCount: 4})
	errMsg := c.until(EventError, nil)
	assert.Equal(t, "INVALID_PLAYER_COUNT", errMsg["code"])
	assert.Nil(t, ts.lobby.current(), "no session starts")

	c.send(map[string]string{"type": "VOTE", "to": "P2"})
	assert.Equal(t, "SESSION_STATE", c.until(EventError, nil)["code"])

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	assert.Equal(t, "MALFORMED", c.until(EventError, nil)["code"])
}

func TestObserverSessionOverWebSocket(t *testing.T) {
	ts := newTestServer(t, func(cfg *AppConfig) { cfg.Pacing = Duration{20 * time.Millisecond} })
	c := ts.dial(t)
	c.next()

	c.send(WSMessage{Type: msgConfig, PlayerCount: 6, ObserverMode: true})
	initMsg := c.until(EventInit, nil)
	assert.Equal(t, true, initMsg["viewerMode"])
	assert.Equal(t, "", initMsg["selfId"])
	assert.Len(t, initMsg["players"], 6)
	assert.Len(t, c.until(EventRoleMap, nil)["roles"], 6)

	c.until(EventSpeech, nil)
	c.send(WSMessage{Type: msgVote, To: "P2"})

	var errCodes []any
	var lastSeq float64
	gameOver := c.until(EventGameOver, func(msg map[string]any) {
		if msg["type"] == string(EventError) {
			errCodes = append(errCodes, msg["code"])
			return
		}
		seq, _ := msg["seq"].(float64)
		assert.Greater(t, seq, lastSeq, "%v arrives in order", msg["type"])
		lastSeq = seq
		assert.Nil(t, msg["to"], "a viewer never receives private events")
	})
	assert.Equal(t, []any{"NOT_ELIGIBLE"}, errCodes)
	assert.Contains(t, []any{ResultVillagersWin, ResultWerewolvesWin, ResultDraw}, gameOver["result"])

	replay := c.until(EventReplayData, nil)
	assert.Nil(t, replay["seq"], "the replay is not part of the timeline")
	sessionID, _ := replay["sessionId"].(string)
	require.NotEmpty(t, sessionID)
	assert.Len(t, replay["finalRoles"], 6)
	assert.Len(t, replay["reviews"], 6)
	timeline, _ := replay["timeline"].([]any)
	require.NotEmpty(t, timeline)
	first, _ := timeline[0].(map[string]any)
	assert.Equal(t, float64(1), first["tick"])
	event, _ := first["event"].(map[string]any)
	assert.Equal(t, float64(1), event["seq"])
	review := c.until(EventReview, nil)
	assert.Len(t, review["data"], 6)

	require.Eventually(t, func() bool { return ts.lobby.current() == nil }, 5*time.Second, 10*time.Millisecond)

	var rows []SessionRow
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/api/sessions", &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, sessionID, rows[0].ID)
	assert.Equal(t, "finished", rows[0].Status)
	assert.Equal(t, gameOver["result"], rows[0].Result)

	var rep ReplayReport
	require.Equal(t, http.StatusOK, ts.getJSON(t, fmt.Sprintf("/api/sessions/%s/replay", sessionID), &rep))
	assert.True(t, rep.Verified)
	assert.Equal(t, rep.Archived, rep.Replayed)

	assert.Equal(t, http.StatusNotFound, ts.getJSON(t, "/api/sessions/missing", nil))
}

func TestHumanSeatOverWebSocket(t *testing.T) {
	ts := newTestServer(t, func(cfg *AppConfig) {
		cfg.NightWindow = Duration{10 * time.Second}
		cfg.SpeechWindow = Duration{10 * time.Second}
		cfg.VoteWindow = Duration{10 * time.Second}
		cfg.Pacing = Duration{5 * time.Second}
	})
	c := ts.dial(t)
	c.next()

	c.send(WSMessage{Type: msgConfig})
	initMsg := c.until(EventInit, nil)
	assert.Equal(t, "P1", initMsg["selfId"])
	assert.Equal(t, false, initMsg["viewerMode"])
	assert.Len(t, initMsg["players"], defaultConfig().DefaultPlayers, "an empty playerCount uses the default")

	role := c.until(EventRole, nil)
	assert.Equal(t, "P1", role["to"])
	assert.NotEmpty(t, role["role"])

	// no vote opens during the first night or the pause after it
	c.send(WSMessage{Type: msgVote, To: "P2"})
	assert.Equal(t, "WRONG_PHASE", c.until(EventError, nil)["code"])

	c.send(WSMessage{Type: msgConfig, PlayerCount: 5})
	assert.Equal(t, "SESSION_STATE", c.until(EventError, nil)["code"])

	late := ts.dial(t)
	lateInit := late.next()
	assert.Equal(t, "P1", lateInit["selfId"], "a late connection joins the same seat")
	assert.Equal(t, role["role"], late.until(EventRole, nil)["role"])

	var health map[string]any
	require.Equal(t, http.StatusOK, ts.getJSON(t, "/healthz", &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(2), health["connections"])
	assert.NotEmpty(t, health["session"])

	c.conn.Close()
	late.conn.Close()
	require.Eventually(t, func() bool { return ts.lobby.current() == nil }, 5*time.Second, 10*time.Millisecond,
		"the session is cancelled once nobody is connected")

	rows, err := ts.store.ListSessions()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cancelled", rows[0].Status)
}
