package cdp

import (
	"context"
	"fmt"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/rpcc"

	convert "cdpaudit/internal/adapter/cdp"
	"cdpaudit/internal/logger"
	"cdpaudit/pkg/browser"
)

// pump 从一个事件流读取回复，转换后交给回调
type pump struct {
	stream rpcc.Stream
	done   chan struct{}
}

func startPump(ctx context.Context, c *cdp.Client, typ browser.EventType, h browser.Handler, l logger.Logger) (*pump, error) {
	stream, recv, err := openStream(ctx, c, typ)
	if err != nil {
		return nil, err
	}
	p := &pump{stream: stream, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for {
			reply, err := recv()
			if err != nil {
				return
			}
			ev, err := convert.ToEvent(typ, reply)
			if err != nil {
				l.Err(err, "事件转换失败", "event", typ)
				continue
			}
			deliver(h, ev, l)
		}
	}()
	return p, nil
}

// deliver 调用回调；回调 panic 只记录，不中断读取
func deliver(h browser.Handler, ev browser.Event, l logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			l.Error("事件回调异常", "event", ev.Type, "panic", r)
		}
	}()
	h(ev)
}

// Close 关闭事件流并等待读取协程退出
func (p *pump) Close() error {
	err := p.stream.Close()
	<-p.done
	return err
}

func openStream(ctx context.Context, c *cdp.Client, typ browser.EventType) (rpcc.Stream, func() (any, error), error) {
	switch typ {
	case browser.EventLogEntry:
		s, err := c.Log.EntryAdded(ctx)
		if err != nil {
			return nil, nil, err
		}
		return s, func() (any, error) { return s.Recv() }, nil
	case browser.EventAuditIssue:
		s, err := c.Audits.IssueAdded(ctx)
		if err != nil {
			return nil, nil, err
		}
		return s, func() (any, error) { return s.Recv() }, nil
	case browser.EventConsoleAPICall:
		s, err := c.Runtime.ConsoleAPICalled(ctx)
		if err != nil {
			return nil, nil, err
		}
		return s, func() (any, error) { return s.Recv() }, nil
	case browser.EventSecurityChanged:
		s, err := c.Security.SecurityStateChanged(ctx)
		if err != nil {
			return nil, nil, err
		}
		return s, func() (any, error) { return s.Recv() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported event %s", typ)
}
