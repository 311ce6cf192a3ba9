// Package browsertest 提供脚本化的 browser.Client 替身，记录每次调用。
package browsertest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

// Client 线程安全的替身实现
type Client struct {
	// 以下字段在使用前设置
	VersionText  string
	EnableErr    map[model.Domain]error
	DisableErr   map[model.Domain]error
	SubscribeErr map[browser.EventType]error
	ScriptErr    error
	RemoveErr    error
	ViolationErr error
	OpenErr      error
	NavigateErr  error
	CloseErr     error
	// OnNavigate 在 Navigate 内同步调用；为空时立即触发 load
	OnNavigate func(p *Page, url string)
	// OnEnable 在域启用成功后调用，可能并发
	OnEnable func(d model.Domain)

	mu         sync.Mutex
	calls      []string
	enabled    map[model.Domain]bool
	subs       map[int]*subscription
	nextSub    int
	nextTarget int
	pages      []*Page
	violations []model.ViolationSetting
	scripts    map[model.ScriptID]string
	closed     bool
}

var _ browser.Client = (*Client)(nil)

// NewClient 创建替身
func NewClient() *Client {
	return &Client{
		VersionText: "HeadlessChrome/120.0.0.0",
		enabled:     make(map[model.Domain]bool),
		subs:        make(map[int]*subscription),
		scripts:     make(map[model.ScriptID]string),
	}
}

func (c *Client) record(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

// Calls 按顺序返回全部调用记录
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Client) Version(context.Context) (string, error) {
	c.record("Version")
	return c.VersionText, nil
}

func (c *Client) Enable(_ context.Context, d model.Domain) error {
	c.record("Enable %s", d)
	if err := c.EnableErr[d]; err != nil {
		return err
	}
	c.mu.Lock()
	c.enabled[d] = true
	c.mu.Unlock()
	if c.OnEnable != nil {
		c.OnEnable(d)
	}
	return nil
}

func (c *Client) Disable(_ context.Context, d model.Domain) error {
	c.record("Disable %s", d)
	c.mu.Lock()
	delete(c.enabled, d)
	c.mu.Unlock()
	return c.DisableErr[d]
}

// EnabledDomains 仍处于启用状态的域，按名称排序
func (c *Client) EnabledDomains() []model.Domain {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Domain, 0, len(c.enabled))
	for d := range c.enabled {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Client) StartViolationsReport(_ context.Context, settings []model.ViolationSetting) error {
	c.record("StartViolationsReport %d", len(settings))
	if c.ViolationErr != nil {
		return c.ViolationErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = settings
	return nil
}

func (c *Client) StopViolationsReport(context.Context) error {
	c.record("StopViolationsReport")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = nil
	return nil
}

// Violations 当前生效的违规上报配置
func (c *Client) Violations() []model.ViolationSetting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations
}

func (c *Client) AddScriptToEvaluateOnNewDocument(_ context.Context, source string) (model.ScriptID, error) {
	c.record("AddScript")
	if c.ScriptErr != nil {
		return "", c.ScriptErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := model.ScriptID(fmt.Sprintf("%d", len(c.scripts)+1))
	c.scripts[id] = source
	return id, nil
}

func (c *Client) RemoveScriptToEvaluateOnNewDocument(_ context.Context, id model.ScriptID) error {
	c.record("RemoveScript %s", id)
	c.mu.Lock()
	delete(c.scripts, id)
	c.mu.Unlock()
	return c.RemoveErr
}

// Scripts 仍然安装着的脚本源码
func (c *Client) Scripts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.scripts))
	for _, s := range c.scripts {
		out = append(out, s)
	}
	return out
}

type subscription struct {
	c   *Client
	id  int
	typ browser.EventType
	h   browser.Handler
}

func (s *subscription) Close() error {
	s.c.record("Unsubscribe %s", s.typ)
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	delete(s.c.subs, s.id)
	return nil
}

func (c *Client) Subscribe(_ context.Context, typ browser.EventType, h browser.Handler) (browser.Subscription, error) {
	c.record("Subscribe %s", typ)
	if err := c.SubscribeErr[typ]; err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	s := &subscription{c: c, id: c.nextSub, typ: typ, h: h}
	c.subs[s.id] = s
	return s, nil
}

// ActiveSubscriptions 尚未关闭的订阅数
func (c *Client) ActiveSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Emit 按订阅顺序同步投递事件
func (c *Client) Emit(ev browser.Event) {
	c.mu.Lock()
	var hs []*subscription
	for _, s := range c.subs {
		if s.typ == ev.Type {
			hs = append(hs, s)
		}
	}
	c.mu.Unlock()
	sort.Slice(hs, func(i, j int) bool { return hs[i].id < hs[j].id })
	for _, s := range hs {
		s.h(ev)
	}
}

func (c *Client) OpenPage(_ context.Context, isolated bool) (browser.Page, error) {
	c.record("OpenPage isolated=%t", isolated)
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTarget++
	id := model.TargetID("page")
	if isolated {
		id = model.TargetID(fmt.Sprintf("target-%d", c.nextTarget))
	}
	p := &Page{c: c, id: id, isolated: isolated}
	c.pages = append(c.pages, p)
	return p, nil
}

// Pages 打开过的全部页面
func (c *Client) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Page(nil), c.pages...)
}

func (c *Client) Close() error {
	c.record("Close")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.CloseErr
}

// Closed 会话是否已关闭
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Page 替身页面
type Page struct {
	c        *Client
	id       model.TargetID
	isolated bool

	mu     sync.Mutex
	load   chan struct{}
	fired  bool
	closed bool
	urls   []string
}

func (p *Page) TargetID() model.TargetID { return p.id }

func (p *Page) LoadEventFired(context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.load = make(chan struct{})
	p.fired = false
	return p.load, nil
}

// FireLoad 触发 load 事件，重复调用无效
func (p *Page) FireLoad() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.load == nil || p.fired {
		return
	}
	p.fired = true
	close(p.load)
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.c.record("Navigate %s", url)
	p.mu.Lock()
	p.urls = append(p.urls, url)
	p.mu.Unlock()
	if p.c.OnNavigate != nil {
		p.c.OnNavigate(p, url)
	} else {
		p.FireLoad()
	}
	return p.c.NavigateErr
}

func (p *Page) UnregisterServiceWorker(_ context.Context, scopeURL string) error {
	p.c.record("UnregisterServiceWorker %s", scopeURL)
	return nil
}

func (p *Page) Close(context.Context) error {
	p.c.record("ClosePage %s", p.id)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed 页面是否已关闭
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// URLs 该页面导航过的地址
func (p *Page) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}
