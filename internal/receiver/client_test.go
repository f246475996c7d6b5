package receiver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"firestige.xyz/anpx/internal/anpx"
	"firestige.xyz/anpx/internal/config"
	"firestige.xyz/anpx/internal/didauth/stub"
)

// fakeGateway upgrades the client's first dial, pushes one forwarded
// request at it, and captures the assembled response. Reconnect attempts
// after the first session are refused so the exchange runs exactly once.
func fakeGateway(t *testing.T, requestFrames []*anpx.Message, gotAuth *string) (*httptest.Server, chan *anpx.Message) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	responses := make(chan *anpx.Message, 1)
	var served atomic.Bool

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !served.CAS(false, true) {
			http.Error(w, "single-shot gateway", http.StatusGone)
			return
		}
		*gotAuth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for _, f := range requestFrames {
			require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, f.Encode()))
		}

		asm := anpx.NewChunkAssembler()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			msg, err := anpx.Decode(data)
			require.NoError(t, err)
			if msg.Header.IsChunked() {
				id, _ := msg.RequestID()
				msg, err = asm.AddChunk(id, msg)
				require.NoError(t, err)
				if msg == nil {
					continue
				}
			}
			responses <- msg
			return
		}
	}))
	t.Cleanup(ts.Close)
	return ts, responses
}

func testReceiverConfig(wsURL string) config.ReceiverConfig {
	return config.ReceiverConfig{
		GatewayURL:   wsURL,
		DID:          "did:wba:example:r1",
		ChunkSize:    64 * 1024,
		PingInterval: 20 * time.Second,
		Reconnect: config.ReconnectConfig{
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    100 * time.Millisecond,
			MaxAttempts: 3,
		},
	}
}

func TestClientServesForwardedRequest(t *testing.T) {
	enc := anpx.NewEncoder(64 * 1024)
	frames, err := enc.EncodeHTTPRequest("req-1", anpx.HTTPMeta{
		Method:  http.MethodGet,
		Path:    "/hello",
		Headers: map[string]string{"x-test": "a"},
		Query:   map[string]string{"x": "1"},
	}, nil)
	require.NoError(t, err)

	var gotAuth string
	ts, responses := fakeGateway(t, frames, &gotAuth)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	app := AppFunc(func(_ context.Context, req *Request) (*Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/hello", req.Path)
		assert.Equal(t, "1", req.Query["x"])
		return &Response{
			Status:  http.StatusOK,
			Reason:  "OK",
			Headers: map[string]string{"content-type": "text/plain"},
			Body:    []byte("hello " + req.Path),
		}, nil
	})

	c := New(testReceiverConfig(wsURL), app, stub.NewHeaderSigner("did:wba:example:r1"), nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	select {
	case msg := <-responses:
		assert.Equal(t, anpx.MessageTypeHTTPResponse, msg.Header.MessageType)
		id, _ := msg.RequestID()
		assert.Equal(t, "req-1", id)
		meta, has, err := msg.ResponseMeta()
		require.NoError(t, err)
		require.True(t, has)
		assert.Equal(t, http.StatusOK, meta.Status)
		body, _ := msg.Body()
		assert.Equal(t, "hello /hello", string(body))
	case <-time.After(3 * time.Second):
		t.Fatal("no response from receiver")
	}

	assert.Equal(t, "didwba did:wba:example:r1", gotAuth)
	assert.EqualValues(t, 1, c.Stats()["requests_served"])
}

func TestClientAppErrorBecomesErrorFrame(t *testing.T) {
	enc := anpx.NewEncoder(64 * 1024)
	frames, err := enc.EncodeHTTPRequest("req-err", anpx.HTTPMeta{
		Method: http.MethodGet,
		Path:   "/boom",
	}, nil)
	require.NoError(t, err)

	var gotAuth string
	ts, responses := fakeGateway(t, frames, &gotAuth)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	app := AppFunc(func(context.Context, *Request) (*Response, error) {
		return nil, context.DeadlineExceeded
	})

	c := New(testReceiverConfig(wsURL), app, stub.NewHeaderSigner("did:wba:example:r1"), nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	select {
	case msg := <-responses:
		assert.Equal(t, anpx.MessageTypeError, msg.Header.MessageType)
		id, _ := msg.RequestID()
		assert.Equal(t, "req-err", id)
		body, _ := msg.Body()
		assert.NotEmpty(t, body)
	case <-time.After(3 * time.Second):
		t.Fatal("no error frame from receiver")
	}
}

func TestHTTPBackendForwardsRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/echo", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("x"))
		assert.Equal(t, "a", r.Header.Get("X-Test"))
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer backend.Close()

	app := NewHTTPBackend(backend.URL, 2*time.Second)
	resp, err := app.Serve(context.Background(), &Request{
		Method:  http.MethodPost,
		Path:    "/api/echo",
		Headers: map[string]string{"x-test": "a"},
		Query:   map[string]string{"x": "1"},
		Body:    []byte("payload"),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "Created", resp.Reason)
	assert.Equal(t, "yes", resp.Headers["x-backend"])
	assert.Equal(t, "created", string(resp.Body))
}
