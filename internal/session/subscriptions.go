package session

import (
	"fmt"
	"sync"

	"cdpaudit/pkg/browser"
)

type namedSubscription struct {
	name string
	sub  browser.Subscription
}

// SubscriptionSet 一次运行持有的全部事件订阅
type SubscriptionSet struct {
	mu   sync.Mutex
	subs []namedSubscription
}

// Add 登记一个订阅
func (s *SubscriptionSet) Add(name string, sub browser.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, namedSubscription{name: name, sub: sub})
}

func (s *SubscriptionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// ReleaseAll 按登记的逆序关闭全部订阅；每个都会尝试，返回第一个错误
func (s *SubscriptionSet) ReleaseAll() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var first error
	for i := len(subs) - 1; i >= 0; i-- {
		if err := subs[i].sub.Close(); err != nil && first == nil {
			first = fmt.Errorf("unsubscribe %s: %w", subs[i].name, err)
		}
	}
	return first
}
