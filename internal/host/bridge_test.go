package host

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBridge(t *testing.T, cfg BridgeConfig) (*Roster, string) {
	t.Helper()

	roster := NewRoster(testLog(), Config{}, nil, nil)

	b, err := NewBridge(testLog(), cfg, roster, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	return roster, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) bridgeReply {
	t.Helper()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var reply bridgeReply
	require.NoError(t, conn.ReadJSON(&reply))

	return reply
}

func nextEvent(t *testing.T, r *Roster) Event {
	t.Helper()

	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")

		return Event{}
	}
}

func TestBridge_JoinLeave(t *testing.T) {
	roster, url := startBridge(t, BridgeConfig{})
	conn := dial(t, url, nil)
	id := uuid.New()

	reply := roundTrip(t, conn, `{"type":"join","player":{"uuid":"`+id.String()+`","name":"Steve"}}`)
	assert.Equal(t, "ack", reply.Type)

	ev := nextEvent(t, roster)
	assert.Equal(t, EventJoin, ev.Type)
	assert.Equal(t, Player{ID: id, Name: "Steve"}, ev.Player)
	assert.Len(t, roster.OnlinePlayers(), 1)

	reply = roundTrip(t, conn, `{"type":"leave","player":{"uuid":"`+id.String()+`"}}`)
	assert.Equal(t, "ack", reply.Type)

	ev = nextEvent(t, roster)
	assert.Equal(t, EventLeave, ev.Type)
	assert.Empty(t, roster.OnlinePlayers())
}

func TestBridge_Sync(t *testing.T) {
	roster, url := startBridge(t, BridgeConfig{})
	conn := dial(t, url, nil)
	a, b := uuid.New(), uuid.New()

	reply := roundTrip(t, conn, `{"type":"sync","players":[`+
		`{"uuid":"`+a.String()+`","name":"A"},`+
		`{"uuid":"`+b.String()+`","name":"B"}]}`)
	assert.Equal(t, "ack", reply.Type)
	assert.Len(t, roster.OnlinePlayers(), 2)
}

func TestBridge_RejectsInvalidMessages(t *testing.T) {
	roster, url := startBridge(t, BridgeConfig{})
	conn := dial(t, url, nil)

	for _, msg := range []string{
		`not json`,
		`{"type":"teleport"}`,
		`{"type":"join"}`,
		`{"type":"join","player":{"name":"NoUUID"}}`,
		`{"type":"join","player":{"uuid":"zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz"}}`,
		`{"type":"sync"}`,
	} {
		reply := roundTrip(t, conn, msg)
		assert.Equal(t, "error", reply.Type, msg)
		assert.NotEmpty(t, reply.Message, msg)
	}

	assert.Empty(t, roster.OnlinePlayers())
}

func TestBridge_Token(t *testing.T) {
	_, url := startBridge(t, BridgeConfig{Token: "secret"})

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dial(t, url, http.Header{"Authorization": []string{"Bearer secret"}})
	reply := roundTrip(t, conn, `{"type":"sync","players":[]}`)
	assert.Equal(t, "ack", reply.Type)
}

func TestBridgeConfig(t *testing.T) {
	cfg := BridgeConfig{Enabled: true}
	cfg.ApplyDefaults()

	assert.Equal(t, ":8081", cfg.Addr)
	assert.Equal(t, "/host/events", cfg.Path)
	require.NoError(t, cfg.Validate())

	cfg.Path = "events"
	assert.Error(t, cfg.Validate())
}
