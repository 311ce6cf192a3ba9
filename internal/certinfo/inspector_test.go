package certinfo

import (
	"encoding/base64"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpaudit/internal/certinfo/certtest"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockClock() *clock.Mock {
	m := clock.NewMock()
	m.Set(epoch)
	return m
}

func TestInspectBase64DER(t *testing.T) {
	t.Parallel()

	notAfter := epoch.Add(10 * day)
	der := certtest.DER(t, "Test CA", notAfter)

	rec, err := New(newMockClock()).Inspect(base64.StdEncoding.EncodeToString(der))
	require.NoError(t, err)
	assert.Equal(t, "Test CA", rec.IssuerCommonName)
	assert.True(t, rec.ExpiresAt.Equal(notAfter))
	assert.InDelta(t, 10.0, rec.DaysLeft, 1e-9)
	assert.True(t, rec.Expiring(DefaultThresholdDays))
}

func TestInspectPEMPassthrough(t *testing.T) {
	t.Parallel()

	der := certtest.DER(t, "PEM CA", epoch.Add(90*day))
	raw := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	rec, err := New(newMockClock()).Inspect(raw)
	require.NoError(t, err)
	assert.Equal(t, "PEM CA", rec.IssuerCommonName)
	assert.False(t, rec.Expiring(DefaultThresholdDays))
}

func TestExpiryBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		notAfter time.Time
		want     bool
	}{
		{name: "exactly 30 days", notAfter: epoch.Add(30 * day), want: true},
		{name: "30.1 days", notAfter: epoch.Add(30*day + 144*time.Minute), want: false},
		{name: "already expired", notAfter: epoch.Add(-day), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			der := certtest.DER(t, "Boundary CA", tt.notAfter)
			rec, err := New(newMockClock()).Inspect(base64.StdEncoding.EncodeToString(der))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Expiring(DefaultThresholdDays), "daysLeft=%v", rec.DaysLeft)
		})
	}
}

func TestInspectUsesSystemClock(t *testing.T) {
	t.Parallel()

	notAfter := time.Now().Add(20 * day).Truncate(time.Second)
	rec, err := Inspect(certtest.Base64(t, "System CA", notAfter))
	require.NoError(t, err)
	assert.Equal(t, "System CA", rec.IssuerCommonName)
	assert.True(t, rec.ExpiresAt.Equal(notAfter))
	assert.InDelta(t, 20.0, rec.DaysLeft, 0.01)

	_, err = Inspect("%%%")
	assert.ErrorIs(t, err, ErrParse)
}

func TestInspectMalformed(t *testing.T) {
	t.Parallel()

	inputs := map[string]string{
		"empty":         "",
		"not base64":    "%%%not-base64%%%",
		"not x509":      base64.StdEncoding.EncodeToString([]byte("hello world")),
		"broken pem":    "-----BEGIN CERTIFICATE-----\nAAAA\n",
		"truncated der": base64.StdEncoding.EncodeToString(certtest.DER(t, "X", epoch)[:40]),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := New(newMockClock()).Inspect(in)
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestFormatPEMWrapsAt64(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("A", 130)
	out := FormatPEM(body)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, pemHeader, lines[0])
	assert.Len(t, lines[1], 64)
	assert.Len(t, lines[2], 64)
	assert.Len(t, lines[3], 2)
	assert.Equal(t, pemFooter, lines[4])

	assert.Equal(t, FormatPEM(body), FormatPEM(body[:60]+"\n "+body[60:]))
}
