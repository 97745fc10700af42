package credential

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
)

func writeCredential(t *testing.T, fs afero.Fs, nickname string, password []byte) []byte {

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.Nil(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: nickname},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:              []string{"localhost"},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.Nil(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: pemCertificate, Bytes: der})

	keyDER, err := pkcs8.MarshalPrivateKey(key, password, nil)
	require.Nil(t, err)
	keyType := pemPrivateKey
	if password != nil {
		keyType = pemEncryptedPrivateKey
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: keyDER})

	require.Nil(t, afero.WriteFile(fs, "certs/"+nickname+certExtension, certPEM, 0644))
	require.Nil(t, afero.WriteFile(fs, "certs/"+nickname+keyExtension, keyPEM, 0600))
	return certPEM
}

func TestClientConfig(t *testing.T) {

	fs := afero.NewMemMapFs()
	logger := logging.NewLogger(slog.LevelInfo, nil)

	caPEM := writeCredential(t, fs, "raagent", nil)
	require.Nil(t, afero.WriteFile(fs, "certs/trust.pem", caPEM, 0644))

	provider := NewFileProvider(logger, fs, Config{
		Dir:        "certs",
		TrustStore: "certs/trust.pem",
		ServerName: "localhost",
	}, nil)

	config, err := provider.ClientConfig("raagent", []string{"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"})
	require.Nil(t, err)
	assert.Len(t, config.Certificates, 1)
	assert.NotNil(t, config.RootCAs)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256}, config.CipherSuites)
	assert.Equal(t, "raagent", config.Certificates[0].Leaf.Subject.CommonName)
}

func TestEncryptedPrivateKey(t *testing.T) {

	fs := afero.NewMemMapFs()
	logger := logging.NewLogger(slog.LevelInfo, nil)
	writeCredential(t, fs, "raagent", []byte("secret"))

	withoutPassword := NewFileProvider(logger, fs, Config{Dir: "certs"}, nil)
	_, err := withoutPassword.Certificate("raagent")
	assert.True(t, errors.Is(err, ErrPasswordUnavailable))

	wrongPassword := NewFileProvider(logger, fs, Config{Dir: "certs", KeyPassword: "nope"}, nil)
	_, err = wrongPassword.Certificate("raagent")
	assert.True(t, errors.Is(err, ErrInvalidPrivateKey))

	prompted := NewFileProvider(logger, fs, Config{Dir: "certs"}, func(nickname string) ([]byte, error) {
		assert.Equal(t, "raagent", nickname)
		return []byte("secret"), nil
	})
	cert, err := prompted.Certificate("raagent")
	require.Nil(t, err)
	assert.NotNil(t, cert.PrivateKey)
}

func TestInvalidNickname(t *testing.T) {

	provider := NewFileProvider(
		logging.NewLogger(slog.LevelInfo, nil),
		afero.NewMemMapFs(),
		Config{Dir: "certs"},
		nil)

	for _, nickname := range []string{"missing", "../etc/passwd"} {
		_, err := provider.ClientConfig(nickname, nil)
		assert.True(t, errors.Is(err, ErrInvalidNickname), nickname)
	}

	// Client certificates are optional
	config, err := provider.ClientConfig("", nil)
	require.Nil(t, err)
	assert.Empty(t, config.Certificates)

	_, err = provider.ServerConfig("", nil, false)
	assert.True(t, errors.Is(err, ErrInvalidNickname))
}

func TestParseCipherSuites(t *testing.T) {

	suites, err := ParseCipherSuites(nil)
	require.Nil(t, err)
	assert.Nil(t, suites)

	suites, err = ParseCipherSuites([]string{" TLS_AES_128_GCM_SHA256 "})
	require.Nil(t, err)
	assert.Equal(t, []uint16{tls.TLS_AES_128_GCM_SHA256}, suites)

	_, err = ParseCipherSuites([]string{"TLS_RSA_WITH_RC4_128_SHA"})
	assert.True(t, errors.Is(err, ErrInvalidCipherSuite))
}
