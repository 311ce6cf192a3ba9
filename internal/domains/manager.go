// Package domains 负责插桩域的启用与禁用，以及日志域的违规上报。
package domains

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"cdpaudit/internal/logger"
	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

// ErrNotEnabled 违规上报依赖的日志域未启用
var ErrNotEnabled = errors.New("domain not enabled")

// Outcome 单个域的启用或禁用结果
type Outcome struct {
	Domain model.Domain
	Err    error
}

// FirstError 返回第一个失败结果的错误
func FirstError(outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return fmt.Errorf("%s: %w", o.Domain, o.Err)
		}
	}
	return nil
}

// Manager 插桩域生命周期管理
type Manager struct {
	client browser.Client
	log    logger.Logger

	mu         sync.Mutex
	enabled    map[model.Domain]bool
	violations bool
}

// New 创建域管理器
func New(client browser.Client, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{client: client, log: l, enabled: make(map[model.Domain]bool)}
}

// EnableAll 并发启用所有域；单个域失败只记录日志，不影响其他域。
// 重复出现的域只启用一次
func (m *Manager) EnableAll(ctx context.Context, domains []model.Domain) []Outcome {
	domains = unique(domains)
	outcomes := make([]Outcome, len(domains))
	var g errgroup.Group
	for i, d := range domains {
		outcomes[i].Domain = d
		if m.isEnabled(d) {
			continue
		}
		g.Go(func() error {
			if err := m.client.Enable(ctx, d); err != nil {
				outcomes[i].Err = err
				m.log.Err(err, "启用域失败", "domain", d)
				return nil
			}
			m.setEnabled(d, true)
			m.log.Debug("域已启用", "domain", d)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// DisableAll 按启用的逆序逐个禁用；未启用的域跳过，失败继续
func (m *Manager) DisableAll(ctx context.Context, domains []model.Domain) []Outcome {
	outcomes := make([]Outcome, 0, len(domains))
	for i := len(domains) - 1; i >= 0; i-- {
		d := domains[i]
		if !m.isEnabled(d) {
			continue
		}
		err := m.client.Disable(ctx, d)
		if err != nil {
			m.log.Err(err, "禁用域失败", "domain", d)
		} else {
			m.log.Debug("域已禁用", "domain", d)
		}
		m.setEnabled(d, false)
		outcomes = append(outcomes, Outcome{Domain: d, Err: err})
	}
	return outcomes
}

// StartViolations 在日志域启用后开始违规上报
func (m *Manager) StartViolations(ctx context.Context, settings []model.ViolationSetting) error {
	if !m.isEnabled(model.DomainLog) {
		return fmt.Errorf("start violations report: %s %w", model.DomainLog, ErrNotEnabled)
	}
	if len(settings) == 0 {
		return nil
	}
	if err := m.client.StartViolationsReport(ctx, settings); err != nil {
		return fmt.Errorf("start violations report: %w", err)
	}
	m.mu.Lock()
	m.violations = true
	m.mu.Unlock()
	return nil
}

// StopViolations 停止违规上报；未开始时为空操作
func (m *Manager) StopViolations(ctx context.Context) error {
	m.mu.Lock()
	started := m.violations
	m.violations = false
	m.mu.Unlock()
	if !started {
		return nil
	}
	if err := m.client.StopViolationsReport(ctx); err != nil {
		return fmt.Errorf("stop violations report: %w", err)
	}
	return nil
}

// Enabled 当前已启用的域
func (m *Manager) Enabled() []model.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Domain, 0, len(m.enabled))
	for d, on := range m.enabled {
		if on {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) isEnabled(d model.Domain) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[d]
}

func (m *Manager) setEnabled(d model.Domain, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[d] = on
}

// unique 去掉重复的域，保留首次出现的顺序
func unique(domains []model.Domain) []model.Domain {
	seen := make(map[model.Domain]bool, len(domains))
	out := make([]model.Domain, 0, len(domains))
	for _, d := range domains {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
