package logger

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNewWithWriterFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug").With("run", "r1")
	l.Warn("记录", "kind", "log", "url", "http://a.test")

	line := buf.String()
	require.NotEmpty(t, line)
	assert.Equal(t, "warn", gjson.Get(line, "level").String())
	assert.Equal(t, "记录", gjson.Get(line, "message").String())
	assert.Equal(t, "r1", gjson.Get(line, "run").String())
	assert.Equal(t, "http://a.test", gjson.Get(line, "url").String())
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Err(errors.New("boom"), "失败")
	assert.Equal(t, "boom", gjson.Get(buf.String(), "error").String())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "chatty")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())
	l.Info("shown")
	assert.NotZero(t, buf.Len())
}

func TestNopAndEmptyWriters(t *testing.T) {
	t.Parallel()

	l := New(Options{Level: "debug"})
	l.Info("nothing", "k", 1)
	l.With("k", "v").Error("nothing")
	NewNop().Err(errors.New("x"), "nothing")
}

func TestConcurrentWritesShareBuffer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.With("worker", i).Warn("并发", "n", i)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		assert.True(t, gjson.Valid(line), line)
		assert.Equal(t, "并发", gjson.Get(line, "message").String())
	}
}
