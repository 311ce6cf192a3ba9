// Package cdp 基于 mafredri/cdp 实现 browser.Client。
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/rpcc"

	"cdpaudit/internal/logger"
	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

var (
	// ErrNoTarget 调试端点上没有可连接的页面
	ErrNoTarget = errors.New("no page target")
	// ErrClosed 会话已关闭
	ErrClosed = errors.New("session closed")
)

// Manager 一个到顶层页面的协议会话
//
// 会话上生效的域、违规上报与注入脚本会被记住，独立目标打开时在其
// 连接上重放，使新目标的事件进入同一组回调。
type Manager struct {
	dt     *devtool.DevTools
	target *devtool.Target
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger

	mu         sync.Mutex
	domains    []model.Domain
	violations []model.ViolationSetting
	scripts    []script
	subs       []*subscription
	closed     bool
}

type script struct {
	id     model.ScriptID
	source string
}

var _ browser.Client = (*Manager)(nil)

// Dial 连接 devtoolsURL 上的第一个页面，没有页面时新建一个
func Dial(ctx context.Context, devtoolsURL string, l logger.Logger) (*Manager, error) {
	if l == nil {
		l = logger.NewNop()
	}
	dt := devtool.New(devtoolsURL)
	t, err := dt.Get(ctx, devtool.Page)
	if err != nil {
		l.Debug("没有现成页面，新建目标", "url", devtoolsURL, "error", err)
		t, err = dt.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoTarget, err)
		}
	}
	conn, err := rpcc.DialContext(ctx, t.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.WebSocketDebuggerURL, err)
	}
	mctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dt:     dt,
		target: t,
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    mctx,
		cancel: cancel,
		log:    l.With("target", t.ID),
	}
	m.log.Info("已连接页面", "title", t.Title, "url", t.URL)
	return m, nil
}

func (m *Manager) Version(ctx context.Context) (string, error) {
	v, err := m.client.Browser.GetVersion(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (protocol %s)", v.Product, v.ProtocolVersion), nil
}

func (m *Manager) Enable(ctx context.Context, d model.Domain) error {
	if err := enableDomain(ctx, m.conn, d); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !containsDomain(m.domains, d) {
		m.domains = append(m.domains, d)
	}
	return nil
}

func (m *Manager) Disable(ctx context.Context, d model.Domain) error {
	m.mu.Lock()
	for i := range m.domains {
		if m.domains[i] == d {
			m.domains = append(m.domains[:i], m.domains[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return rpcc.Invoke(ctx, string(d)+".disable", nil, nil, m.conn)
}

func (m *Manager) StartViolationsReport(ctx context.Context, settings []model.ViolationSetting) error {
	if err := startViolations(ctx, m.conn, settings); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = settings
	return nil
}

func (m *Manager) StopViolationsReport(ctx context.Context) error {
	m.mu.Lock()
	m.violations = nil
	m.mu.Unlock()
	return m.client.Log.StopViolationsReport(ctx)
}

func (m *Manager) AddScriptToEvaluateOnNewDocument(ctx context.Context, source string) (model.ScriptID, error) {
	reply, err := m.client.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(source))
	if err != nil {
		return "", err
	}
	id := model.ScriptID(reply.Identifier)
	m.mu.Lock()
	m.scripts = append(m.scripts, script{id: id, source: source})
	m.mu.Unlock()
	return id, nil
}

func (m *Manager) RemoveScriptToEvaluateOnNewDocument(ctx context.Context, id model.ScriptID) error {
	m.mu.Lock()
	for i := range m.scripts {
		if m.scripts[i].id == id {
			m.scripts = append(m.scripts[:i], m.scripts[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return m.client.Page.RemoveScriptToEvaluateOnNewDocument(ctx,
		page.NewRemoveScriptToEvaluateOnNewDocumentArgs(page.ScriptIdentifier(id)))
}

// Subscribe 在会话上打开事件流；流的生命周期跟随会话而不是 ctx
func (m *Manager) Subscribe(_ context.Context, typ browser.EventType, h browser.Handler) (browser.Subscription, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	p, err := startPump(m.ctx, m.client, typ, h, m.log)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", typ, err)
	}
	s := &subscription{m: m, typ: typ, h: h, pump: p}
	m.mu.Lock()
	m.subs = append(m.subs, s)
	m.mu.Unlock()
	return s, nil
}

// Close 关闭全部事件流与连接
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	err := m.conn.Close()
	m.log.Info("会话已关闭")
	return err
}

// instrumentation 供新目标重放的快照
type instrumentation struct {
	domains    []model.Domain
	violations []model.ViolationSetting
	scripts    []script
	subs       []*subscription
}

func (m *Manager) snapshot() instrumentation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return instrumentation{
		domains:    append([]model.Domain(nil), m.domains...),
		violations: m.violations,
		scripts:    append([]script(nil), m.scripts...),
		subs:       append([]*subscription(nil), m.subs...),
	}
}

type subscription struct {
	m    *Manager
	typ  browser.EventType
	h    browser.Handler
	pump *pump

	once sync.Once
	err  error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.m.mu.Lock()
		for i := range s.m.subs {
			if s.m.subs[i] == s {
				s.m.subs = append(s.m.subs[:i], s.m.subs[i+1:]...)
				break
			}
		}
		s.m.mu.Unlock()
		s.err = s.pump.Close()
	})
	return s.err
}

func enableDomain(ctx context.Context, conn *rpcc.Conn, d model.Domain) error {
	return rpcc.Invoke(ctx, string(d)+".enable", nil, nil, conn)
}

// startViolations Log.startViolationsReport 的参数与 model.ViolationSetting 的 JSON 形状一致
func startViolations(ctx context.Context, conn *rpcc.Conn, settings []model.ViolationSetting) error {
	args := struct {
		Config []model.ViolationSetting `json:"config"`
	}{Config: settings}
	return rpcc.Invoke(ctx, "Log.startViolationsReport", &args, nil, conn)
}

func containsDomain(ds []model.Domain, d model.Domain) bool {
	for _, x := range ds {
		if x == d {
			return true
		}
	}
	return false
}
