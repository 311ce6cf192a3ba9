package cdp

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"cdpaudit/pkg/browser"
	"cdpaudit/pkg/model"
)

// ToEvent 将 CDP 事件回复转换为中立事件
func ToEvent(typ browser.EventType, reply any) (browser.Event, error) {
	raw, err := json.Marshal(reply)
	if err != nil {
		return browser.Event{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return FromJSON(typ, raw)
}

// FromJSON 从协议 JSON 参数中提取记录所需的字段
func FromJSON(typ browser.EventType, raw []byte) (browser.Event, error) {
	if !gjson.ValidBytes(raw) {
		return browser.Event{}, fmt.Errorf("%s: invalid JSON", typ)
	}
	r := gjson.ParseBytes(raw)
	ev := browser.Event{Type: typ}

	switch typ {
	case browser.EventLogEntry:
		e := r.Get("entry")
		ev.Payload = &model.LogPayload{
			Text:     e.Get("text").String(),
			Level:    e.Get("level").String(),
			Source:   e.Get("source").String(),
			Category: e.Get("category").String(),
			URL:      e.Get("url").String(),
		}
	case browser.EventAuditIssue:
		is := r.Get("issue")
		p := &model.AuditPayload{Code: is.Get("code").String()}
		if d := is.Get("details"); d.Exists() {
			p.Details = json.RawMessage(d.Raw)
		}
		ev.Payload = p
	case browser.EventConsoleAPICall:
		p := &model.ConsolePayload{Type: r.Get("type").String()}
		r.Get("args").ForEach(func(_, a gjson.Result) bool {
			p.Args = append(p.Args, remoteObjectString(a))
			return true
		})
		ev.Payload = p
	case browser.EventSecurityChanged:
		p := &model.SecurityPayload{
			State:   r.Get("securityState").String(),
			Summary: r.Get("summary").String(),
		}
		r.Get("explanations").ForEach(func(_, x gjson.Result) bool {
			var chain []string
			for _, c := range x.Get("certificate").Array() {
				chain = append(chain, c.String())
			}
			p.Explanations = append(p.Explanations, model.SecurityExplanation{
				State:        x.Get("securityState").String(),
				Title:        x.Get("title").String(),
				Summary:      x.Get("summary").String(),
				Description:  x.Get("description").String(),
				Certificates: len(chain),
			})
			if len(chain) > 0 {
				ev.Certificates = append(ev.Certificates, chain)
			}
			return true
		})
		ev.Payload = p
	default:
		return browser.Event{}, fmt.Errorf("unsupported event %s", typ)
	}
	return ev, nil
}

// remoteObjectString 取 Runtime.RemoteObject 的可读值
func remoteObjectString(o gjson.Result) string {
	if v := o.Get("value"); v.Exists() {
		if v.Type == gjson.String {
			return v.String()
		}
		return v.Raw
	}
	if v := o.Get("unserializableValue"); v.Exists() {
		return v.String()
	}
	if v := o.Get("description"); v.Exists() {
		return v.String()
	}
	return o.Get("type").String()
}
