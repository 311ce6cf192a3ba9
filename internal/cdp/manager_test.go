package cdp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mafredri/cdp/devtool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpaudit/internal/logger"
	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

const targetList = `[
	{"id":"AAA","type":"page","title":"root","url":"about:blank","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/page/AAA"},
	{"id":"BBB","type":"page","title":"","url":"about:blank","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/page/BBB"}
]`

func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(targetList))
	}))
	defer srv.Close()

	m := &Manager{dt: devtool.New(srv.URL)}
	u, err := m.webSocketURL(context.Background(), "BBB")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/page/BBB", u)

	_, err = m.webSocketURL(context.Background(), "CCC")
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestDialWithoutEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestContainsDomain(t *testing.T) {
	t.Parallel()

	ds := model.DefaultDomains()
	assert.True(t, containsDomain(ds, model.DomainPage))
	assert.False(t, containsDomain(ds, model.DomainServiceWorker))
	assert.False(t, containsDomain(nil, model.DomainLog))
}

func TestDeliverRecoversPanic(t *testing.T) {
	t.Parallel()

	var got []browser.EventType
	h := func(ev browser.Event) {
		got = append(got, ev.Type)
		if ev.Type == browser.EventAuditIssue {
			panic("bad handler")
		}
	}
	assert.NotPanics(t, func() {
		deliver(h, browser.Event{Type: browser.EventAuditIssue}, logger.NewNop())
		deliver(h, browser.Event{Type: browser.EventLogEntry}, logger.NewNop())
	})
	assert.Equal(t, []browser.EventType{browser.EventAuditIssue, browser.EventLogEntry}, got)
}
