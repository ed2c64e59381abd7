package luna

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// bridge replies to every call with returnValue and the uri, sends two
// events per subscription and drops the connection on a "hang" call
func bridge(t *testing.T, cancels chan<- uint32) *httptest.Server {
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test.app", r.Header.Get("X-Luna-App-Id"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.Nil(t, err)
		defer conn.Close()

		for {
			var req Request
			if err = conn.ReadJSON(&req); err != nil {
				return
			}

			switch req.Method {
			case MethodCall:
				if strings.HasSuffix(req.URI, "/hang") {
					return
				}
				if strings.HasSuffix(req.URI, "/nopayload") {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":`+strconv.Itoa(int(req.ID))+`}`))
					continue
				}
				payload, _ := json.Marshal(map[string]any{"returnValue": true, "uri": req.URI})
				_ = conn.WriteJSON(&Reply{ID: req.ID, Payload: payload})
			case MethodSubscribe:
				for i := 0; i < 2; i++ {
					payload, _ := json.Marshal(map[string]any{"returnValue": true, "n": i})
					_ = conn.WriteJSON(&Reply{ID: req.ID, Payload: payload})
				}
			case MethodCancel:
				if cancels != nil {
					cancels <- req.ID
				}
			}
		}
	}))
}

func dial(t *testing.T, srv *httptest.Server) *WSClient {
	client, err := Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "test.app")
	require.Nil(t, err)
	return client
}

func wait(t *testing.T, ch <-chan string) string {
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timeout")
	}
	return ""
}

func TestCall(t *testing.T) {
	srv := bridge(t, nil)
	defer srv.Close()

	client := dial(t, srv)
	defer client.Close()

	ch := make(chan string, 1)
	err := client.Call(ServiceURI(CameraService, "getCameraList"), "{}", func(payload string) {
		ch <- payload
	})
	require.Nil(t, err)

	d, err := Parse(wait(t, ch))
	require.Nil(t, err)
	uri, _ := d.String("uri")
	require.Equal(t, "luna://com.webos.service.camera2/getCameraList", uri)
}

func TestCallNoPayload(t *testing.T) {
	srv := bridge(t, nil)
	defer srv.Close()

	client := dial(t, srv)
	defer client.Close()

	ch := make(chan string, 1)
	err := client.Call(ServiceURI(CameraService, "nopayload"), "{}", func(payload string) {
		ch <- payload
	})
	require.Nil(t, err)

	payload := wait(t, ch)
	require.Equal(t, "null", payload)

	_, err = Parse(payload)
	require.ErrorIs(t, err, ErrNotObject)

	// connection still alive
	err = client.Call(ServiceURI(CameraService, "getCameraList"), "{}", func(payload string) {
		ch <- payload
	})
	require.Nil(t, err)
	require.NotEmpty(t, wait(t, ch))
}

func TestSubscribe(t *testing.T) {
	cancels := make(chan uint32, 1)
	srv := bridge(t, cancels)
	defer srv.Close()

	client := dial(t, srv)
	defer client.Close()

	ch := make(chan string, 2)
	token, err := client.Subscribe(ServiceURI(CameraService, "getEventNotification"), `{"subscribe":true}`, func(payload string) {
		ch <- payload
	})
	require.Nil(t, err)
	require.NotZero(t, token)

	for i := 0; i < 2; i++ {
		d, err := Parse(wait(t, ch))
		require.Nil(t, err)
		n, _ := d.Int("n")
		require.Equal(t, i, n)
	}

	require.Nil(t, client.Unsubscribe(token))

	select {
	case id := <-cancels:
		require.Equal(t, uint32(token), id)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timeout")
	}

	// second unsubscribe is a no-op
	require.Nil(t, client.Unsubscribe(token))
}

func TestConnectionLost(t *testing.T) {
	srv := bridge(t, nil)
	defer srv.Close()

	client := dial(t, srv)

	ch := make(chan string, 1)
	err := client.Call(ServiceURI(CameraService, "hang"), "{}", func(payload string) {
		ch <- payload
	})
	require.Nil(t, err)
	require.Equal(t, "", wait(t, ch))

	<-client.closedCh
	require.ErrorIs(t, client.Call(ServiceURI(CameraService, "open"), "{}", nil), ErrClosed)
	require.Nil(t, client.Close())
}
