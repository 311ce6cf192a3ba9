package collector

import (
	"sync"

	"cdpaudit/pkg/model"
)

// Token 一次导航的关联标识，零值表示没有导航
type Token uint64

// Tracker 记录当前正在访问的 URL，供事件到达时归属
//
// 导航驱动在每次访问开始时 Begin、结束时 End；事件回调通过 Attribute
// 在到达时读取归属。End 只会结束与自己 token 相同的导航，过期的 End
// 不会清掉后续导航。
type Tracker struct {
	mu     sync.Mutex
	next   Token
	active Token
	urls   map[Token]string
	last   Token
}

// NewTracker 创建归属跟踪器
func NewTracker() *Tracker {
	return &Tracker{urls: make(map[Token]string)}
}

// Begin 开始一次导航并返回其 token
func (t *Tracker) Begin(url string) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.active = t.next
	t.urls[t.active] = url
	return t.active
}

// End 结束 token 对应的导航
func (t *Tracker) End(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok == 0 || t.active != tok {
		return
	}
	t.last = tok
	t.active = 0
}

// Current 当前正在导航的 URL，没有时返回空串
func (t *Tracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.urls[t.active]
}

// URL 查询 token 对应的 URL
func (t *Tracker) URL(tok Token) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.urls[tok]
	return u, ok
}

// Attribute 按策略给刚到达的事件确定 URL；ok 为 false 时事件应丢弃
func (t *Tracker) Attribute(policy model.AttributionPolicy) (url string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != 0 {
		return t.urls[t.active], true
	}
	switch policy {
	case model.AttributeEmpty:
		return "", true
	case model.AttributePrevious:
		if t.last != 0 {
			return t.urls[t.last], true
		}
	}
	return "", false
}
