// Package api 对外提供按配置装配好的抓取服务。
package api

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"cdpaudit/internal/cdp"
	"cdpaudit/internal/config"
	"cdpaudit/internal/inject"
	"cdpaudit/internal/logger"
	"cdpaudit/internal/navigator"
	"cdpaudit/internal/session"
	"cdpaudit/internal/storage"
	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

// Service 抓取服务
type Service struct {
	cfg   *config.Config
	log   logger.Logger
	clock clock.Clock
	dial  session.Dialer
	store *storage.Store
}

// Option 服务选项
type Option func(*Service)

// WithDialer 替换默认的协议会话建立方式
func WithDialer(d session.Dialer) Option {
	return func(s *Service) { s.dial = d }
}

// WithClock 替换时钟
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService 创建服务；配置了 sqlite.dsn 时打开运行历史库
func NewService(cfg *config.Config, l logger.Logger, opts ...Option) (*Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, log: l, clock: clock.New()}
	s.dial = func(ctx context.Context) (browser.Client, error) {
		m, err := cdp.Dial(ctx, cfg.DevToolsURL(), l)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	for _, o := range opts {
		o(s)
	}
	if cfg.Sqlite.Dsn != "" {
		st, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l.With("component", "storage"))
		if err != nil {
			return nil, err
		}
		s.store = st
	}
	return s, nil
}

// Options 由配置生成一次运行的参数
func (s *Service) Options() (session.Options, error) {
	c := s.cfg
	threshold := c.Crawl.CertThresholdDays
	opts := session.Options{
		Domains:           c.Domains(),
		Violations:        c.Crawl.Violations,
		Attribution:       model.AttributionPolicy(c.Crawl.Attribution),
		CertThresholdDays: &threshold,
		Navigation: navigator.Options{
			Mode:                     model.TargetMode(c.Chrome.Mode),
			Timeout:                  c.Timeout(),
			UnregisterServiceWorkers: c.Crawl.UnregisterWorkers,
		},
	}
	if c.Inject.Enabled {
		src, err := inject.Script(inject.Options{
			Permission:            c.Inject.Permission,
			WrapRequestPermission: c.Inject.WrapRequestPermission,
		})
		if err != nil {
			return opts, fmt.Errorf("inject: %w", err)
		}
		opts.Script = src
	}
	return opts, nil
}

// Run 执行一次抓取；结果会在配置了历史库时保存，保存失败只记日志
func (s *Service) Run(ctx context.Context, urls []string) (*session.Result, error) {
	opts, err := s.Options()
	if err != nil {
		return nil, err
	}
	res, err := session.New(s.dial, opts, s.clock, s.log).Run(ctx, urls)
	if res != nil && s.store != nil {
		if serr := s.store.Save(context.WithoutCancel(ctx), res.Summary(), res.Report); serr != nil {
			s.log.Err(serr, "保存运行记录失败", "run", string(res.RunID))
		}
	}
	return res, err
}

// HasHistory 是否配置了运行历史库
func (s *Service) HasHistory() bool { return s.store != nil }

// History 最近的运行，未配置历史库时为空
func (s *Service) History(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Runs(ctx, limit)
}

// Issues 读取已保存运行的记录
func (s *Service) Issues(ctx context.Context, id model.RunID) (model.Report, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	return s.store.Issues(ctx, id)
}

// Close 释放服务资源
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
