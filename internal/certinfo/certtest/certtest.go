// Package certtest 为测试生成临时证书。
package certtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DER 生成一张由 issuerCN 自签、在 notAfter 到期的证书
func DER(t testing.TB, issuerCN string, notAfter time.Time) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: issuerCN},
		NotBefore:    notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

// Base64 与 CDP 安全事件中的证书格式一致
func Base64(t testing.TB, issuerCN string, notAfter time.Time) string {
	return base64.StdEncoding.EncodeToString(DER(t, issuerCN, notAfter))
}
