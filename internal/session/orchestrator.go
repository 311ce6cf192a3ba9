// Package session 串联一次完整的抓取：连接、插桩、逐个导航、拆除、输出报告。
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"cdpaudit/internal/certinfo"
	"cdpaudit/internal/collector"
	"cdpaudit/internal/domains"
	"cdpaudit/internal/logger"
	"cdpaudit/internal/navigator"
	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

var (
	// ErrDial 无法建立协议会话，整次运行中止
	ErrDial = errors.New("open protocol session")
	// ErrTeardown 拆除阶段至少一步失败，报告仍然产出
	ErrTeardown = errors.New("teardown")
)

const teardownTimeout = 15 * time.Second

// Dialer 建立协议会话
type Dialer func(ctx context.Context) (browser.Client, error)

// Options 运行配置
type Options struct {
	Domains           []model.Domain
	Violations        []model.ViolationSetting
	Script            string
	Attribution       model.AttributionPolicy
	CertThresholdDays *float64
	Navigation        navigator.Options
}

// Result 一次运行的产出
type Result struct {
	RunID      model.RunID
	StartedAt  time.Time
	FinishedAt time.Time
	Report     model.Report
	Visits     []navigator.Result
	// Warnings 尽力而为步骤的失败，按发生顺序
	Warnings []error
}

// Warning 第一个被记住的非致命错误
func (r *Result) Warning() error {
	if len(r.Warnings) == 0 {
		return nil
	}
	return r.Warnings[0]
}

// Summary 运行概要
func (r *Result) Summary() model.RunSummary {
	s := model.RunSummary{
		ID:         r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		URLs:       len(r.Visits),
		Issues:     len(r.Report),
	}
	for _, v := range r.Visits {
		if v.TimedOut {
			s.TimedOut++
		}
	}
	if w := r.Warning(); w != nil {
		s.Warning = w.Error()
	}
	return s
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, err)
}

// Orchestrator 会话编排器
type Orchestrator struct {
	dial  Dialer
	opts  Options
	clock clock.Clock
	log   logger.Logger
}

// New 创建编排器
func New(dial Dialer, opts Options, c clock.Clock, l logger.Logger) *Orchestrator {
	if c == nil {
		c = clock.New()
	}
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Domains == nil {
		opts.Domains = model.DefaultDomains()
	}
	opts.Domains = requiredDomains(opts.Domains, opts.Navigation.Mode)
	return &Orchestrator{dial: dial, opts: opts, clock: c, log: l}
}

// requiredDomains 共享模式下 load 事件来自根会话，Page 域必须启用
func requiredDomains(ds []model.Domain, mode model.TargetMode) []model.Domain {
	if mode != model.TargetShared || slices.Contains(ds, model.DomainPage) {
		return ds
	}
	return append(slices.Clone(ds), model.DomainPage)
}

// run 单次运行中的可变状态
type run struct {
	client  browser.Client
	subs    *SubscriptionSet
	domains *domains.Manager
	issues  *collector.Log
	script  model.ScriptID
}

// Run 执行一次抓取
//
// 只有建立会话失败时返回 nil 结果。连接建立之后拆除总会执行，
// 拆除失败时结果照常返回，同时返回包装了 ErrTeardown 的错误。
func (o *Orchestrator) Run(ctx context.Context, urls []string) (res *Result, err error) {
	res = &Result{RunID: model.RunID(uuid.NewString()), StartedAt: o.clock.Now()}
	log := o.log.With("run", string(res.RunID))

	client, err := o.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}

	r := &run{
		client:  client,
		subs:    &SubscriptionSet{},
		domains: domains.New(client, log),
		issues:  collector.NewLog(o.clock),
	}
	defer func() {
		if terr := o.teardown(ctx, r, log); terr != nil {
			err = fmt.Errorf("%w: %w", ErrTeardown, terr)
			res.warn(err)
		}
		res.Report = r.issues.Snapshot()
		res.FinishedAt = o.clock.Now()
		log.Info("运行结束", "issues", len(res.Report), "duration", res.FinishedAt.Sub(res.StartedAt))
	}()

	if v, verr := client.Version(ctx); verr != nil {
		log.Err(verr, "获取浏览器版本失败")
	} else {
		log.Warn("已连接浏览器", "version", v)
	}

	if o.opts.Script != "" {
		id, serr := client.AddScriptToEvaluateOnNewDocument(ctx, o.opts.Script)
		if serr != nil {
			log.Err(serr, "注入脚本失败，继续运行")
			res.warn(fmt.Errorf("inject script: %w", serr))
		} else {
			r.script = id
		}
	}

	tracker := collector.NewTracker()
	col := collector.New(r.issues, tracker, certinfo.New(o.clock), log, collector.Options{
		Policy:            o.opts.Attribution,
		CertThresholdDays: o.opts.CertThresholdDays,
	})
	for _, reg := range col.Registrations() {
		sub, serr := client.Subscribe(ctx, reg.Type, reg.Handler)
		if serr != nil {
			log.Err(serr, "订阅事件失败", "handler", reg.Name, "event", reg.Type)
			res.warn(fmt.Errorf("subscribe %s: %w", reg.Name, serr))
			continue
		}
		r.subs.Add(reg.Name, sub)
	}

	if eerr := domains.FirstError(r.domains.EnableAll(ctx, o.opts.Domains)); eerr != nil {
		res.warn(fmt.Errorf("enable: %w", eerr))
	}
	if verr := r.domains.StartViolations(ctx, o.opts.Violations); verr != nil {
		log.Err(verr, "违规上报未开启")
		res.warn(verr)
	}

	driver := navigator.New(client, col, tracker, o.clock, log, o.opts.Navigation)
	res.Visits = driver.VisitAll(ctx, urls)
	return res, nil
}

// teardown 依次移除脚本、取消订阅、停止违规上报、禁用域、关闭会话；每步都会执行
func (o *Orchestrator) teardown(parent context.Context, r *run, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), teardownTimeout)
	defer cancel()

	var first error
	remember := func(step string, err error) {
		if err == nil {
			return
		}
		log.Err(err, "拆除步骤失败", "step", step)
		if first == nil {
			first = fmt.Errorf("%s: %w", step, err)
		}
	}

	if r.script != "" {
		remember("remove script", r.client.RemoveScriptToEvaluateOnNewDocument(ctx, r.script))
	}
	remember("unsubscribe", r.subs.ReleaseAll())
	remember("stop violations", r.domains.StopViolations(ctx))
	remember("disable", domains.FirstError(r.domains.DisableAll(ctx, o.opts.Domains)))
	remember("close", r.client.Close())
	return first
}
