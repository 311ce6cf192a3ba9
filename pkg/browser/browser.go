// Package browser 定义抓取核心与远程调试协议客户端之间的协作接口。
//
// 连接、命令/响应帧、事件投递都由实现方负责；核心只依赖这里的接口，
// 测试中可以用脚本化的替身实现。
package browser

import (
	"context"

	"cdpaudit/pkg/model"
)

// EventType 可订阅的事件流
type EventType string

const (
	EventLogEntry        EventType = "Log.entryAdded"
	EventAuditIssue      EventType = "Audits.issueAdded"
	EventConsoleAPICall  EventType = "Runtime.consoleAPICalled"
	EventSecurityChanged EventType = "Security.securityStateChanged"
)

// Event 一次到达的事件，Payload 已转换为 model 中的结构
type Event struct {
	Type    EventType
	Payload any
	// Certificates 安全事件中每条说明携带的证书链（base64 DER），其他事件为空
	Certificates [][]string
}

// Handler 事件回调，可能与主流程并发执行
type Handler func(Event)

// Subscription 一个已注册的回调，Close 后不会再被调用
type Subscription interface {
	Close() error
}

// Client 一个已建立的协议会话
type Client interface {
	// Version 返回浏览器版本信息
	Version(ctx context.Context) (string, error)

	Enable(ctx context.Context, d model.Domain) error
	Disable(ctx context.Context, d model.Domain) error

	StartViolationsReport(ctx context.Context, settings []model.ViolationSetting) error
	StopViolationsReport(ctx context.Context) error

	AddScriptToEvaluateOnNewDocument(ctx context.Context, source string) (model.ScriptID, error)
	RemoveScriptToEvaluateOnNewDocument(ctx context.Context, id model.ScriptID) error

	// Subscribe 注册事件回调
	Subscribe(ctx context.Context, typ EventType, h Handler) (Subscription, error)

	// OpenPage 打开浏览上下文，isolated 为 true 时创建独立目标，否则复用顶层页面
	OpenPage(ctx context.Context, isolated bool) (Page, error)

	Close() error
}

// Page 一个可导航的浏览上下文
type Page interface {
	TargetID() model.TargetID

	// LoadEventFired 返回在第一次 load 事件时关闭的通道，需在 Navigate 前调用
	LoadEventFired(ctx context.Context) (<-chan struct{}, error)

	Navigate(ctx context.Context, url string) error

	// UnregisterServiceWorker 注销指定作用域下的 Service Worker
	UnregisterServiceWorker(ctx context.Context, scopeURL string) error

	// Close 销毁目标；共享页面上为空操作
	Close(ctx context.Context) error
}
