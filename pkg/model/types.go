package model

import (
	"encoding/json"
	"time"
)

type RunID string
type TargetID string
type ScriptID string

// IssueKind 诊断记录类型
type IssueKind string

const (
	KindLog         IssueKind = "log"
	KindIssue       IssueKind = "issue"
	KindConsole     IssueKind = "console"
	KindSecurity    IssueKind = "security"
	KindCertificate IssueKind = "certificate"
	KindTimeout     IssueKind = "timeout"
)

// Valid 判断是否属于已知类型
func (k IssueKind) Valid() bool {
	switch k {
	case KindLog, KindIssue, KindConsole, KindSecurity, KindCertificate, KindTimeout:
		return true
	}
	return false
}

// Issue 一条诊断记录，创建后不可修改
type Issue struct {
	Kind    IssueKind `json:"kind"`
	URL     string    `json:"url,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Seq     uint64    `json:"-"`
	Time    time.Time `json:"-"`
}

// Report 最终输出的诊断记录序列
type Report []Issue

// Count 按类型统计
func (r Report) Count(kind IssueKind) int {
	n := 0
	for i := range r {
		if r[i].Kind == kind {
			n++
		}
	}
	return n
}

type LogPayload struct {
	Text     string `json:"text"`
	Level    string `json:"level,omitempty"`
	Source   string `json:"source,omitempty"`
	Category string `json:"category,omitempty"`
	URL      string `json:"url,omitempty"`
}

type AuditPayload struct {
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}

type ConsolePayload struct {
	Type string   `json:"type"`
	Args []string `json:"args,omitempty"`
}

type SecurityExplanation struct {
	State        string `json:"state"`
	Title        string `json:"title,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Description  string `json:"description,omitempty"`
	Certificates int    `json:"certificates,omitempty"`
}

type SecurityPayload struct {
	State        string                `json:"state"`
	Summary      string                `json:"summary,omitempty"`
	Explanations []SecurityExplanation `json:"explanations,omitempty"`
}

type CertificateInfo struct {
	Issuer    string    `json:"issuer"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CertificatePayload struct {
	Info     CertificateInfo `json:"info"`
	DaysLeft float64         `json:"daysLeft"`
}

// Domain CDP 插桩域
type Domain string

const (
	DomainLog           Domain = "Log"
	DomainAudits        Domain = "Audits"
	DomainRuntime       Domain = "Runtime"
	DomainSecurity      Domain = "Security"
	DomainPage          Domain = "Page"
	DomainServiceWorker Domain = "ServiceWorker"
)

// DefaultDomains 默认启用的插桩域，顺序即启用顺序
func DefaultDomains() []Domain {
	return []Domain{DomainLog, DomainAudits, DomainRuntime, DomainSecurity, DomainPage}
}

// ViolationSetting 违规上报阈值，Threshold 为毫秒，-1 表示无条件上报
type ViolationSetting struct {
	Name      string  `json:"name" yaml:"name"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// DefaultViolationSettings 与 DevTools 前端 LogModel 保持一致的阈值
func DefaultViolationSettings() []ViolationSetting {
	return []ViolationSetting{
		{Name: "longTask", Threshold: 200},
		{Name: "longLayout", Threshold: 30},
		{Name: "blockedEvent", Threshold: 100},
		{Name: "blockedParser", Threshold: -1},
		{Name: "handler", Threshold: 150},
		{Name: "recurringHandler", Threshold: 50},
		{Name: "discouragedAPIUse", Threshold: -1},
	}
}

// AttributionPolicy 无导航进行时到达事件的归属策略
type AttributionPolicy string

const (
	AttributeDrop     AttributionPolicy = "drop"
	AttributePrevious AttributionPolicy = "previous"
	AttributeEmpty    AttributionPolicy = "empty"
)

// TargetMode 浏览上下文模式
type TargetMode string

const (
	// TargetShared 复用同一个顶层页面
	TargetShared TargetMode = "shared"
	// TargetIsolated 每个 URL 创建并销毁一个独立目标
	TargetIsolated TargetMode = "isolated"
)

// RunSummary 一次抓取运行的概要
type RunSummary struct {
	ID         RunID     `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	URLs       int       `json:"urls"`
	Issues     int       `json:"issues"`
	TimedOut   int       `json:"timedOut"`
	Warning    string    `json:"warning,omitempty"`
}
