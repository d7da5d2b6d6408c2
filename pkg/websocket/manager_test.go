package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"transflow/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, manager *Manager) string {
	t.Helper()
	keyFunc := func(r *http.Request) (string, error) {
		key := r.URL.Query().Get("key")
		if key == "" {
			return "", errors.New("key is required")
		}
		return key, nil
	}
	h := NewHandler(logger.Nop(), keyFunc, func(conn *Connection) {
		manager.AddConnection(conn)
		go conn.ReadPump(nil, func() { manager.RemoveConnection(conn) })
	})
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	t.Cleanup(manager.CloseAll)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestManager(t *testing.T) {
	t.Run("delivers to the subscriber", func(t *testing.T) {
		manager := NewManager(logger.Nop())
		client := dial(t, newTestServer(t, manager)+"?key=ana")
		require.Eventually(t, func() bool { return manager.Connected("ana") }, 2*time.Second, 5*time.Millisecond)

		require.NoError(t, manager.Send("ana", map[string]string{"hello": "ana"}))

		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]string
		require.NoError(t, client.ReadJSON(&msg))
		assert.Equal(t, "ana", msg["hello"])
	})

	t.Run("unknown key is a no-op", func(t *testing.T) {
		manager := NewManager(logger.Nop())

		assert.NoError(t, manager.Send("nobody", "hi"))
		assert.Zero(t, manager.Count())
	})

	t.Run("reconnect replaces the older connection", func(t *testing.T) {
		manager := NewManager(logger.Nop())
		url := newTestServer(t, manager) + "?key=ana"

		first := dial(t, url)
		require.Eventually(t, func() bool { return manager.Connected("ana") }, 2*time.Second, 5*time.Millisecond)
		second := dial(t, url)

		// the first socket is closed by the server once replaced
		require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := first.ReadMessage()
		require.Error(t, err)

		assert.Equal(t, 1, manager.Count())
		require.NoError(t, manager.Send("ana", map[string]string{"to": "second"}))
		require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]string
		require.NoError(t, second.ReadJSON(&msg))
		assert.Equal(t, "second", msg["to"])
	})

	t.Run("rejects a request without a key", func(t *testing.T) {
		manager := NewManager(logger.Nop())

		_, resp, err := websocket.DefaultDialer.Dial(newTestServer(t, manager), nil)

		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
