package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readStream(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStreamRides_PushesRepositoryChanges(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, envOptions{})
	e.onboard(t, "asha")
	srv := httptest.NewServer(e.h)
	t.Cleanup(srv.Close)

	hdr := http.Header{}
	hdr.Set("X-Debug-Subject", "asha")
	hdr.Set("X-Debug-Email", caller("asha").email())
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/rides/stream", hdr)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	assert.Equal(t, "subscribed", readStream(t, conn).Type)

	body, err := json.Marshal(validRide())
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/rides", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Debug-Subject", "asha")
	req.Header.Set("X-Debug-Email", caller("asha").email())
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	// The live listener's reload may be reported before or after the create.
	for {
		msg := readStream(t, conn)
		if msg.Type == "created" {
			assert.NotEmpty(t, msg.RideId)
			return
		}
		assert.Equal(t, "reloaded", msg.Type)
	}
}

func TestStreamRides_RequiresAuth(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, envOptions{})
	srv := httptest.NewServer(e.h)
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/rides/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()

	check := originChecker([]string{"https://rides.example/"})
	req := httptest.NewRequest(http.MethodGet, "http://api.local/rides/stream", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://rides.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://api.local")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
