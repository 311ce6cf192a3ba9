package cdp

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mafredri/cdp/devtool"
	"github.com/stretchr/testify/require"
)

const (
	rootID    = "ROOT"
	createdID = "T1"
)

var defaultReplies = map[string]string{
	"Browser.getVersion":                    `{"protocolVersion":"1.3","product":"HeadlessChrome/126.0","revision":"r1","userAgent":"test","jsVersion":"12.6"}`,
	"Target.createTarget":                   `{"targetId":"` + createdID + `"}`,
	"Page.addScriptToEvaluateOnNewDocument": `{"identifier":"1"}`,
	"Page.navigate":                         `{"frameId":"F1","loaderId":"L1"}`,
	"Target.closeTarget":                    `{"success":true}`,
}

type rpcCall struct {
	Method string
	Params string
}

// fakeChrome 远程调试端点：HTTP 目标列表，加上按方法名应答的 websocket 会话
type fakeChrome struct {
	t   *testing.T
	srv *httptest.Server
	wg  sync.WaitGroup

	mu      sync.Mutex
	targets []string
	replies map[string]string
	fail    map[string]string
	// hideCreated 新建的目标不出现在列表中
	hideCreated bool
	calls       map[string][]rpcCall
	conns       map[string]*fakeConn
	closed      map[string]bool
}

type fakeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *fakeConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func newFakeChrome(t *testing.T) *fakeChrome {
	t.Helper()
	f := &fakeChrome{
		t:       t,
		targets: []string{rootID},
		replies: maps.Clone(defaultReplies),
		fail:    make(map[string]string),
		calls:   make(map[string][]rpcCall),
		conns:   make(map[string]*fakeConn),
		closed:  make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", f.list)
	mux.HandleFunc("/devtools/page/", f.session)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.close)
	return f
}

func (f *fakeChrome) URL() string { return f.srv.URL }

func (f *fakeChrome) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	ids := append([]string(nil), f.targets...)
	f.mu.Unlock()

	host := strings.TrimPrefix(f.srv.URL, "http://")
	out := make([]devtool.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, devtool.Target{
			ID:                   id,
			Type:                 devtool.Page,
			URL:                  "about:blank",
			WebSocketDebuggerURL: "ws://" + host + "/devtools/page/" + id,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeChrome) session(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/devtools/page/")
	ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.wg.Add(1)
	defer f.wg.Done()
	defer ws.Close()

	c := &fakeConn{ws: ws}
	f.mu.Lock()
	f.conns[id] = c
	f.mu.Unlock()

	for {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := ws.ReadJSON(&req); err != nil {
			f.mu.Lock()
			delete(f.conns, id)
			f.closed[id] = true
			f.mu.Unlock()
			return
		}
		result, failure := f.handle(id, req.Method, req.Params)
		msg := map[string]any{"id": req.ID}
		if failure != "" {
			msg["error"] = map[string]any{"code": -32000, "message": failure}
		} else {
			msg["result"] = json.RawMessage(result)
		}
		if err := c.write(msg); err != nil {
			return
		}
	}
}

func (f *fakeChrome) handle(id, method string, params json.RawMessage) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id] = append(f.calls[id], rpcCall{Method: method, Params: string(params)})
	if msg, ok := f.fail[method]; ok {
		return "", msg
	}
	if method == "Target.createTarget" && !f.hideCreated {
		f.targets = append(f.targets, createdID)
	}
	if r, ok := f.replies[method]; ok {
		return r, ""
	}
	return "{}", ""
}

// emit 在目标的连接上推送一个事件
func (f *fakeChrome) emit(id, method, params string) {
	f.t.Helper()
	f.mu.Lock()
	c := f.conns[id]
	f.mu.Unlock()
	require.NotNil(f.t, c, "no connection for %s", id)
	require.NoError(f.t, c.write(map[string]any{"method": method, "params": json.RawMessage(params)}))
}

func (f *fakeChrome) methods(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls[id]))
	for _, c := range f.calls[id] {
		out = append(out, c.Method)
	}
	return out
}

// params 最后一次调用 method 时的参数
func (f *fakeChrome) params(id, method string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[id]
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method {
			return calls[i].Params
		}
	}
	return ""
}

func (f *fakeChrome) waitClosed(id string) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.closed[id]
	}, 5*time.Second, 10*time.Millisecond, "connection %s still open", id)
}

func (f *fakeChrome) close() {
	f.srv.Close()
	f.mu.Lock()
	for _, c := range f.conns {
		_ = c.ws.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}
