package collector

import (
	"sync"

	"github.com/benbjohnson/clock"

	"cdpaudit/pkg/model"
)

// Log 只追加的诊断记录序列，按到达顺序编号
type Log struct {
	mu     sync.Mutex
	clock  clock.Clock
	seq    uint64
	issues []model.Issue
}

// NewLog 创建记录序列
func NewLog(c clock.Clock) *Log {
	if c == nil {
		c = clock.New()
	}
	return &Log{clock: c}
}

// Append 追加一条记录并返回其副本
func (l *Log) Append(kind model.IssueKind, url string, payload any) model.Issue {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	is := model.Issue{Kind: kind, URL: url, Payload: payload, Seq: l.seq, Time: l.clock.Now()}
	l.issues = append(l.issues, is)
	return is
}

// Snapshot 返回当前全部记录的拷贝
func (l *Log) Snapshot() model.Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(model.Report, len(l.issues))
	copy(out, l.issues)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.issues)
}
