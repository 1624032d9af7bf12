package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRelayPublishReachesSubscriber(t *testing.T) {
	hub := NewHub(quietLogger())
	srv := httptest.NewServer(NewRelay(hub, RelayOptions{Token: "secret", Logger: quietLogger()}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer secret")
	m := NewManager(ManagerOptions{URL: wsURL(srv), Header: header, Logger: quietLogger()})
	require.NoError(t, m.Join(context.Background(), "list-1"))
	startManager(t, m)
	require.Eventually(t, func() bool { return hub.RoomCount("list-1") == 1 }, 2*time.Second, 5*time.Millisecond)

	resp := post(t, srv.URL+"/events/list-2", "secret", `{"event":"item:removed","data":{"listId":"list-2","itemId":"b"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 0, out["delivered"], "nobody joined list-2")

	resp = post(t, srv.URL+"/events/list-1", "secret", `{"event":"item:removed","data":{"listId":"list-1","itemId":"a"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = post(t, srv.URL+"/events", "secret", `{"event":"list:created","data":{"id":"list-3","name":"Hardware"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var events []string
	for len(events) < 2 {
		select {
		case msg := <-m.Events():
			events = append(events, msg.Event)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %v", events)
		}
	}
	assert.Equal(t, []string{EventItemRemoved, EventListCreated}, events)
}

func TestRelayRequiresToken(t *testing.T) {
	srv := httptest.NewServer(NewRelay(NewHub(quietLogger()), RelayOptions{Token: "secret", Logger: quietLogger()}))
	defer srv.Close()

	for _, token := range []string{"", "wrong"} {
		resp := post(t, srv.URL+"/events/list-1", token, `{"event":"item:removed","data":{}}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "token %q", token)
	}

	m := NewManager(ManagerOptions{URL: wsURL(srv), BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, Logger: quietLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Run(ctx), context.DeadlineExceeded, "the upgrade is refused")
}

func TestRelayRejectsBadMessages(t *testing.T) {
	srv := httptest.NewServer(NewRelay(NewHub(quietLogger()), RelayOptions{Logger: quietLogger()}))
	defer srv.Close()

	for _, body := range []string{`not json`, `{"data":{}}`, `{"event":"join","data":{"listId":"x"}}`} {
		resp := post(t, srv.URL+"/events/list-1", "", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}
