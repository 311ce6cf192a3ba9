package cdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/serviceworker"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"

	"cdpaudit/internal/logger"
	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

// targetPage 一个浏览上下文；conn 为空时表示共享的顶层页面
type targetPage struct {
	m      *Manager
	id     model.TargetID
	client *cdp.Client
	conn   *rpcc.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger

	wg    sync.WaitGroup
	pumps []*pump
	once  sync.Once
}

func (m *Manager) OpenPage(ctx context.Context, isolated bool) (browser.Page, error) {
	pctx, cancel := context.WithCancel(m.ctx)
	if !isolated {
		return &targetPage{
			m:      m,
			id:     model.TargetID(m.target.ID),
			client: m.client,
			ctx:    pctx,
			cancel: cancel,
			log:    m.log,
		}, nil
	}

	reply, err := m.client.Target.CreateTarget(ctx, target.NewCreateTargetArgs("about:blank"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create target: %w", err)
	}
	id := reply.TargetID
	log := m.log.With("page", string(id))
	if err := m.client.Target.ActivateTarget(ctx, target.NewActivateTargetArgs(id)); err != nil {
		log.Err(err, "激活目标失败")
	}

	wsURL, err := m.webSocketURL(ctx, string(id))
	if err == nil {
		var conn *rpcc.Conn
		conn, err = rpcc.DialContext(ctx, wsURL)
		if err == nil {
			p := &targetPage{
				m:      m,
				id:     model.TargetID(id),
				client: cdp.NewClient(conn),
				conn:   conn,
				ctx:    pctx,
				cancel: cancel,
				log:    log,
			}
			p.instrument(ctx, m.snapshot())
			return p, nil
		}
	}
	cancel()
	if _, cerr := m.client.Target.CloseTarget(ctx, target.NewCloseTargetArgs(id)); cerr != nil {
		log.Err(cerr, "关闭目标失败")
	}
	return nil, fmt.Errorf("attach target %s: %w", id, err)
}

// webSocketURL 在目标列表中查找指定目标的调试地址
func (m *Manager) webSocketURL(ctx context.Context, id string) (string, error) {
	targets, err := m.dt.List(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.ID == id {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoTarget, id)
}

// instrument 在独立目标上重放会话的插桩；单项失败只记录日志
func (p *targetPage) instrument(ctx context.Context, in instrumentation) {
	ds := in.domains
	if !containsDomain(ds, model.DomainPage) {
		ds = append(ds, model.DomainPage)
	}
	for _, d := range ds {
		if err := enableDomain(ctx, p.conn, d); err != nil {
			p.log.Err(err, "目标上启用域失败", "domain", d)
		}
	}
	if len(in.violations) > 0 {
		if err := startViolations(ctx, p.conn, in.violations); err != nil {
			p.log.Err(err, "目标上开启违规上报失败")
		}
	}
	for _, s := range in.scripts {
		if _, err := p.client.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(s.source)); err != nil {
			p.log.Err(err, "目标上注入脚本失败")
		}
	}
	for _, s := range in.subs {
		pp, err := startPump(p.ctx, p.client, s.typ, s.h, p.log)
		if err != nil {
			p.log.Err(err, "目标上订阅事件失败", "event", s.typ)
			continue
		}
		p.pumps = append(p.pumps, pp)
	}
	p.log.Debug("目标插桩完成", "domains", len(ds), "streams", len(p.pumps))
}

func (p *targetPage) TargetID() model.TargetID { return p.id }

func (p *targetPage) LoadEventFired(context.Context) (<-chan struct{}, error) {
	s, err := p.client.Page.LoadEventFired(p.ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer s.Close()
		if _, err := s.Recv(); err == nil {
			close(ch)
		}
	}()
	return ch, nil
}

func (p *targetPage) Navigate(ctx context.Context, rawURL string) error {
	reply, err := p.client.Page.Navigate(ctx, page.NewNavigateArgs(rawURL))
	if err != nil {
		return err
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", rawURL, *reply.ErrorText)
	}
	return nil
}

func (p *targetPage) UnregisterServiceWorker(ctx context.Context, scopeURL string) error {
	conn := p.conn
	if conn == nil {
		conn = p.m.conn
	}
	if err := enableDomain(ctx, conn, model.DomainServiceWorker); err != nil {
		return err
	}
	return p.client.ServiceWorker.Unregister(ctx, serviceworker.NewUnregisterArgs(scopeURL))
}

// Close 停止该上下文上的事件流；独立目标还会断开连接并销毁目标
func (p *targetPage) Close(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		p.cancel()
		for _, pp := range p.pumps {
			pp.Close()
		}
		p.wg.Wait()
		if p.conn == nil {
			return
		}
		if cerr := p.conn.Close(); cerr != nil {
			p.log.Err(cerr, "断开目标连接失败")
		}
		if _, err = p.m.client.Target.CloseTarget(ctx, target.NewCloseTargetArgs(target.ID(p.id))); err != nil {
			err = fmt.Errorf("close target %s: %w", p.id, err)
		}
	})
	return err
}
