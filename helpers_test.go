package samlsp_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samlx/samlsp"
)

func testURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// testKeyPairPEM generates a throwaway RSA keypair with a self-signed
// certificate, both PEM encoded.
func testKeyPairPEM(t *testing.T) (certPEM, keyPEM string) {
	t.Helper()
	r := require.New(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	r.NoError(err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sp.test.me"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	r.NoError(err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	r.NoError(err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))

	return certPEM, keyPEM
}

// testServiceProvider builds a provider for http://sp.test.me with the given
// config mutations applied before validation.
func testServiceProvider(t *testing.T, mutate func(cfg *samlsp.Config), opt ...samlsp.Option) *samlsp.ServiceProvider {
	t.Helper()
	r := require.New(t)

	cfg := &samlsp.Config{
		EntityID:                    testURL(t, "http://sp.test.me"),
		AssertionConsumerServiceURL: testURL(t, "http://sp.test.me/sso/acs"),
		SingleLogoutServiceURL:      testURL(t, "http://sp.test.me/sso/sls"),
		IdPEntityID:                 "http://idp.test.me",
		IdPSSOURL:                   testURL(t, "http://idp.test.me/sso/redirect"),
		IdPSLOURL:                   testURL(t, "http://idp.test.me/slo/redirect"),
	}
	if mutate != nil {
		mutate(cfg)
	}

	sp, err := samlsp.NewServiceProvider(cfg, opt...)
	r.NoError(err)

	return sp
}
