// Package storage 把运行概要和诊断记录持久化到 SQLite。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"cdpaudit/internal/logger"
	"cdpaudit/pkg/model"
)

// ErrRunNotFound 指定的运行不存在
var ErrRunNotFound = errors.New("run not found")

// RunRecord 一次运行
type RunRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	StartedAt  time.Time
	FinishedAt time.Time
	URLs       int
	Issues     int
	TimedOut   int
	Warning    string
}

// IssueRecord 一条诊断记录，Payload 保存 JSON 原文
type IssueRecord struct {
	ID      uint   `gorm:"primaryKey"`
	RunID   string `gorm:"index;size:36"`
	Seq     uint64
	Kind    string `gorm:"index;size:16"`
	URL     string
	Payload string
	At      time.Time
}

// Store 运行历史
type Store struct {
	db *gorm.DB
}

// Open 打开数据库并迁移表结构，prefix 作为表名前缀
func Open(dsn, prefix string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&RunRecord{}, &IssueRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save 在一个事务内写入运行概要和全部记录
func (s *Store) Save(ctx context.Context, sum model.RunSummary, report model.Report) error {
	run := RunRecord{
		ID:         string(sum.ID),
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		URLs:       sum.URLs,
		Issues:     sum.Issues,
		TimedOut:   sum.TimedOut,
		Warning:    sum.Warning,
	}
	issues := make([]IssueRecord, 0, len(report))
	for _, is := range report {
		rec := IssueRecord{RunID: run.ID, Seq: is.Seq, Kind: string(is.Kind), URL: is.URL, At: is.Time}
		if is.Payload != nil {
			b, err := json.Marshal(is.Payload)
			if err != nil {
				return fmt.Errorf("encode %s payload: %w", is.Kind, err)
			}
			rec.Payload = string(b)
		}
		issues = append(issues, rec)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(issues) == 0 {
			return nil
		}
		return tx.CreateInBatches(issues, 200).Error
	})
}

// Runs 按开始时间倒序列出运行
func (s *Store) Runs(ctx context.Context, limit int) ([]model.RunSummary, error) {
	var recs []RunRecord
	q := s.db.WithContext(ctx).Order("started_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.RunSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, model.RunSummary{
			ID:         model.RunID(r.ID),
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			URLs:       r.URLs,
			Issues:     r.Issues,
			TimedOut:   r.TimedOut,
			Warning:    r.Warning,
		})
	}
	return out, nil
}

// Issues 读取一次运行的记录，按采集顺序；Payload 为 json.RawMessage
func (s *Store) Issues(ctx context.Context, id model.RunID) (model.Report, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&RunRecord{}).Where("id = ?", string(id)).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	var recs []IssueRecord
	if err := s.db.WithContext(ctx).Where("run_id = ?", string(id)).Order("seq").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make(model.Report, 0, len(recs))
	for _, r := range recs {
		is := model.Issue{Kind: model.IssueKind(r.Kind), URL: r.URL, Seq: r.Seq, Time: r.At}
		if r.Payload != "" {
			is.Payload = json.RawMessage(r.Payload)
		}
		out = append(out, is)
	}
	return out, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
