package collector

import (
	"errors"

	"cdpaudit/internal/certinfo"
	"cdpaudit/internal/logger"
	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

// 不需要上报的安全状态
var silentStates = map[string]bool{
	"secure":  true,
	"neutral": true,
}

// Options 收集器配置
type Options struct {
	Policy model.AttributionPolicy

	// CertThresholdDays 为空时取 certinfo.DefaultThresholdDays；0 只上报已过期证书
	CertThresholdDays *float64
}

// Registration 一个待订阅的事件回调
type Registration struct {
	Name    string
	Type    browser.EventType
	Handler browser.Handler
}

// Collector 把协议事件转换为诊断记录
type Collector struct {
	log       *Log
	tracker   *Tracker
	inspector *certinfo.Inspector
	sink      logger.Logger
	opts      Options
	threshold float64
}

// New 创建收集器；sink 接收每条记录的实时镜像
func New(log *Log, tracker *Tracker, inspector *certinfo.Inspector, sink logger.Logger, opts Options) *Collector {
	if sink == nil {
		sink = logger.NewNop()
	}
	if inspector == nil {
		inspector = certinfo.New(nil)
	}
	if opts.Policy == "" {
		opts.Policy = model.AttributeDrop
	}
	threshold := certinfo.DefaultThresholdDays
	if opts.CertThresholdDays != nil {
		threshold = *opts.CertThresholdDays
	}
	return &Collector{log: log, tracker: tracker, inspector: inspector, sink: sink, opts: opts, threshold: threshold}
}

// Registrations 全部事件回调；同一个安全事件有两个独立回调
func (c *Collector) Registrations() []Registration {
	return []Registration{
		{Name: "log", Type: browser.EventLogEntry, Handler: c.HandleLog},
		{Name: "audits", Type: browser.EventAuditIssue, Handler: c.HandleAudit},
		{Name: "console", Type: browser.EventConsoleAPICall, Handler: c.HandleConsole},
		{Name: "security", Type: browser.EventSecurityChanged, Handler: c.HandleSecurity},
		{Name: "certificates", Type: browser.EventSecurityChanged, Handler: c.HandleCertificates},
	}
}

// HandleLog 处理 Log.entryAdded
func (c *Collector) HandleLog(ev browser.Event) {
	p, ok := ev.Payload.(*model.LogPayload)
	if !ok || p == nil {
		c.unexpected(ev)
		return
	}
	c.record(model.KindLog, *p, p.Text)
}

// HandleAudit 处理 Audits.issueAdded
func (c *Collector) HandleAudit(ev browser.Event) {
	p, ok := ev.Payload.(*model.AuditPayload)
	if !ok || p == nil {
		c.unexpected(ev)
		return
	}
	c.record(model.KindIssue, *p, p.Code)
}

// HandleConsole 处理 Runtime.consoleAPICalled
func (c *Collector) HandleConsole(ev browser.Event) {
	p, ok := ev.Payload.(*model.ConsolePayload)
	if !ok || p == nil {
		c.unexpected(ev)
		return
	}
	c.record(model.KindConsole, *p, p.Type)
}

// HandleSecurity 处理安全状态变化，secure 与 neutral 直接丢弃
func (c *Collector) HandleSecurity(ev browser.Event) {
	p, ok := ev.Payload.(*model.SecurityPayload)
	if !ok || p == nil {
		c.unexpected(ev)
		return
	}
	if silentStates[p.State] {
		return
	}
	c.record(model.KindSecurity, *p, p.State)
}

// HandleCertificates 检查安全事件中的每张证书，临近过期的生成记录
//
// 单张证书解析失败只会跳过该证书。同一事件内重复出现的证书只检查一次。
func (c *Collector) HandleCertificates(ev browser.Event) {
	if len(ev.Certificates) == 0 {
		return
	}
	url, ok := c.tracker.Attribute(c.opts.Policy)
	if !ok {
		return
	}
	seen := make(map[string]bool)
	for _, chain := range ev.Certificates {
		for _, raw := range chain {
			if seen[raw] {
				continue
			}
			seen[raw] = true
			rec, err := c.inspector.Inspect(raw)
			if err != nil {
				if errors.Is(err, certinfo.ErrParse) {
					c.sink.Debug("跳过无法解析的证书", "url", url, "error", err)
				}
				continue
			}
			if !rec.Expiring(c.threshold) {
				continue
			}
			c.append(model.KindCertificate, url, model.CertificatePayload{
				Info:     model.CertificateInfo{Issuer: rec.IssuerCommonName, ExpiresAt: rec.ExpiresAt},
				DaysLeft: rec.DaysLeft,
			}, rec.IssuerCommonName)
		}
	}
}

// RecordTimeout 记录一次导航超时
func (c *Collector) RecordTimeout(url string) {
	c.append(model.KindTimeout, url, nil, "")
}

func (c *Collector) record(kind model.IssueKind, payload any, summary string) {
	url, ok := c.tracker.Attribute(c.opts.Policy)
	if !ok {
		c.sink.Debug("无导航进行中，丢弃事件", "kind", kind, "summary", summary)
		return
	}
	c.append(kind, url, payload, summary)
}

func (c *Collector) append(kind model.IssueKind, url string, payload any, summary string) {
	is := c.log.Append(kind, url, payload)
	c.sink.Warn("记录诊断", "kind", is.Kind, "url", is.URL, "seq", is.Seq, "summary", summary)
}

func (c *Collector) unexpected(ev browser.Event) {
	c.sink.Debug("忽略无法识别的事件载荷", "event", ev.Type)
}
