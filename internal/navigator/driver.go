// Package navigator 逐个访问 URL：打开浏览上下文、导航、等待 load 或超时、清理。
package navigator

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"

	"cdpaudit/internal/collector"
	"cdpaudit/internal/logger"
	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

// DefaultTimeout 等待 load 事件的上限
const DefaultTimeout = 45 * time.Second

// Recorder 接收超时记录
type Recorder interface {
	RecordTimeout(url string)
}

// Options 导航配置
type Options struct {
	Mode    model.TargetMode
	Timeout time.Duration
	// UnregisterServiceWorkers 关闭上下文前注销该源下的 Service Worker
	UnregisterServiceWorkers bool
}

// Result 单个 URL 的访问结果
type Result struct {
	URL      string
	TimedOut bool
	// Err 导航命令本身的错误，仅用于日志与统计
	Err error
}

// Driver 导航驱动
type Driver struct {
	client   browser.Client
	recorder Recorder
	tracker  *collector.Tracker
	clock    clock.Clock
	log      logger.Logger
	opts     Options
}

// New 创建导航驱动
func New(client browser.Client, recorder Recorder, tracker *collector.Tracker, c clock.Clock, l logger.Logger, opts Options) *Driver {
	if c == nil {
		c = clock.New()
	}
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Mode == "" {
		opts.Mode = model.TargetIsolated
	}
	return &Driver{client: client, recorder: recorder, tracker: tracker, clock: c, log: l, opts: opts}
}

// VisitAll 按顺序访问全部 URL，单个失败不会中断；ctx 取消时停止
func (d *Driver) VisitAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, 0, len(urls))
	for i, u := range urls {
		if ctx.Err() != nil {
			d.log.Warn("抓取被取消", "remaining", len(urls)-i)
			break
		}
		d.log.Info("访问", "index", i, "url", u)
		res, err := d.Visit(ctx, u)
		if err != nil {
			d.log.Err(err, "访问失败", "url", u)
			if res.Err == nil {
				res.Err = err
			}
		}
		results = append(results, res)
	}
	return results
}

// Visit 访问单个 URL；超时记为一条 timeout 记录而不是错误
//
// 计时从发出导航命令前开始，load 与导航命令都完成才算加载成功。
// 超时后未完成的导航不会被取消，它之后的 load 事件只会落在已关闭的
// 通道订阅上。
func (d *Driver) Visit(ctx context.Context, u string) (Result, error) {
	res := Result{URL: u}

	page, err := d.client.OpenPage(ctx, d.opts.Mode == model.TargetIsolated)
	if err != nil {
		return res, fmt.Errorf("open page: %w", err)
	}
	tok := d.tracker.Begin(u)
	defer func() {
		d.cleanup(ctx, page, u)
		d.tracker.End(tok)
	}()

	loaded, err := page.LoadEventFired(ctx)
	if err != nil {
		return res, fmt.Errorf("subscribe load event: %w", err)
	}

	timer := d.clock.Timer(d.opts.Timeout)
	defer timer.Stop()

	// 导航命令本身也计入超时
	navDone := make(chan error, 1)
	go func() { navDone <- page.Navigate(ctx, u) }()

	for {
		select {
		case err := <-navDone:
			navDone = nil
			d.navigated(&res, page, err)
		case <-loaded:
			loaded = nil
			d.log.Debug("页面加载完成", "url", u)
		case <-timer.C:
			res.TimedOut = true
			d.log.Warn("页面加载超时", "url", u, "timeout", d.opts.Timeout)
			d.recorder.RecordTimeout(u)
			return res, nil
		case <-ctx.Done():
			return res, ctx.Err()
		}
		if loaded == nil && navDone == nil {
			return res, nil
		}
	}
}

func (d *Driver) navigated(res *Result, page browser.Page, err error) {
	if err == nil {
		return
	}
	d.log.Err(err, "导航命令失败，继续等待 load", "url", res.URL, "target", page.TargetID())
	res.Err = err
}

func (d *Driver) cleanup(ctx context.Context, page browser.Page, u string) {
	cctx := context.WithoutCancel(ctx)
	if d.opts.UnregisterServiceWorkers {
		if scope, ok := scopeURL(u); ok {
			if err := page.UnregisterServiceWorker(cctx, scope); err != nil {
				d.log.Err(err, "注销 Service Worker 失败", "scope", scope)
			}
		}
	}
	if err := page.Close(cctx); err != nil {
		d.log.Err(err, "关闭浏览上下文失败", "target", page.TargetID())
	}
}

// scopeURL 取 URL 的源作为 Service Worker 作用域
func scopeURL(raw string) (string, bool) {
	p, err := url.Parse(raw)
	if err != nil || p.Scheme == "" || p.Host == "" {
		return "", false
	}
	return p.Scheme + "://" + p.Host + "/", true
}
