// Package certinfo 解析安全事件中携带的证书并计算剩余有效天数。
package certinfo

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultThresholdDays 剩余天数不超过该值即上报
const DefaultThresholdDays = 30.0

const (
	pemHeader = "-----BEGIN CERTIFICATE-----"
	pemFooter = "-----END CERTIFICATE-----"
	lineWidth = 64
	day       = 24 * time.Hour
)

// ErrParse 证书无法解析，调用方应跳过该证书继续处理
var ErrParse = errors.New("certificate parse error")

// Record 证书概要，只在事件处理期间存在
type Record struct {
	IssuerCommonName string
	ExpiresAt        time.Time
	DaysLeft         float64
}

// Expiring 剩余天数是否不超过阈值（含边界）
func (r Record) Expiring(thresholdDays float64) bool {
	return r.DaysLeft <= thresholdDays
}

// Inspector 证书解析器
type Inspector struct {
	clock clock.Clock
}

// New 创建解析器，c 为空时使用系统时钟
func New(c clock.Clock) *Inspector {
	if c == nil {
		c = clock.New()
	}
	return &Inspector{clock: c}
}

// Inspect 使用系统时钟解析证书
func Inspect(raw string) (Record, error) {
	return New(nil).Inspect(raw)
}

// Inspect 解析 base64 DER 或 PEM 格式的证书
func (i *Inspector) Inspect(raw string) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrParse, r)
		}
	}()

	block, _ := pem.Decode([]byte(FormatPEM(raw)))
	if block == nil {
		return Record{}, fmt.Errorf("%w: invalid PEM body", ErrParse)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return Record{
		IssuerCommonName: cert.Issuer.CommonName,
		ExpiresAt:        cert.NotAfter,
		DaysLeft:         float64(cert.NotAfter.Sub(i.clock.Now())) / float64(day),
	}, nil
}

// FormatPEM 将 base64 正文按 64 列折行并加上 PEM 头尾；已是 PEM 时原样返回
func FormatPEM(raw string) string {
	if strings.Contains(raw, pemHeader) {
		return raw
	}
	body := strings.Join(strings.Fields(raw), "")
	var b strings.Builder
	b.WriteString(pemHeader)
	b.WriteByte('\n')
	for len(body) > lineWidth {
		b.WriteString(body[:lineWidth])
		b.WriteByte('\n')
		body = body[lineWidth:]
	}
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString(pemFooter)
	b.WriteByte('\n')
	return b.String()
}
