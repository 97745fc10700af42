package credential

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/spf13/afero"
	"github.com/youmark/pkcs8"
)

const (
	certExtension = ".crt"
	keyExtension  = ".key"

	pemCertificate         = "CERTIFICATE"
	pemPrivateKey          = "PRIVATE KEY"
	pemEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	pemRSAPrivateKey       = "RSA PRIVATE KEY"
	pemECPrivateKey        = "EC PRIVATE KEY"
)

var (
	ErrInvalidNickname     = errors.New("credential: invalid certificate nickname")
	ErrInvalidCipherSuite  = errors.New("credential: invalid cipher suite")
	ErrInvalidPrivateKey   = errors.New("credential: invalid private key")
	ErrInvalidCertificate  = errors.New("credential: invalid certificate")
	ErrInvalidTrustStore   = errors.New("credential: invalid trust store")
	ErrPasswordUnavailable = errors.New("credential: private key is encrypted and no password is available")
)

type Config struct {
	// Directory holding <nickname>.crt and <nickname>.key PEM files
	Dir string `yaml:"dir" json:"dir" mapstructure:"dir"`
	// PEM bundle of trusted remote authority certificates. The system
	// roots are used when empty.
	TrustStore string `yaml:"trust-store" json:"trust_store" mapstructure:"trust-store"`
	// Password for encrypted PKCS #8 private keys
	KeyPassword string `yaml:"key-password" json:"-" mapstructure:"key-password"`
	ServerName  string `yaml:"server-name" json:"server_name" mapstructure:"server-name"`
}

// PasswordFunc returns the password protecting an encrypted private key
type PasswordFunc func(nickname string) ([]byte, error)

// Provider builds TLS configurations from named credentials
type Provider interface {
	ClientConfig(nickname string, cipherSuites []string) (*tls.Config, error)
	ServerConfig(nickname string, cipherSuites []string, requireClientCert bool) (*tls.Config, error)
}

type FileProvider struct {
	config   Config
	fs       afero.Fs
	logger   *logging.Logger
	password PasswordFunc
}

// Creates a new credential provider that reads PEM encoded certificates
// and keys from config.Dir. If password is nil, the configured
// KeyPassword is used for encrypted keys.
func NewFileProvider(
	logger *logging.Logger,
	fs afero.Fs,
	config Config,
	password PasswordFunc) *FileProvider {

	if password == nil {
		password = func(string) ([]byte, error) {
			if config.KeyPassword == "" {
				return nil, ErrPasswordUnavailable
			}
			return []byte(config.KeyPassword), nil
		}
	}
	return &FileProvider{
		config:   config,
		fs:       fs,
		logger:   logger,
		password: password,
	}
}

// Returns a client TLS configuration presenting the named certificate
// and trusting the configured trust store.
func (p *FileProvider) ClientConfig(nickname string, cipherSuites []string) (*tls.Config, error) {
	suites, err := ParseCipherSuites(cipherSuites)
	if err != nil {
		return nil, err
	}
	roots, err := p.trustStore()
	if err != nil {
		return nil, err
	}
	config := &tls.Config{
		CipherSuites: suites,
		MinVersion:   tls.VersionTLS12,
		RootCAs:      roots,
		ServerName:   p.config.ServerName,
	}
	if nickname != "" {
		cert, err := p.Certificate(nickname)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{*cert}
	}
	return config, nil
}

// Returns a server TLS configuration presenting the named certificate.
// Client certificates are verified against the trust store.
func (p *FileProvider) ServerConfig(
	nickname string,
	cipherSuites []string,
	requireClientCert bool) (*tls.Config, error) {

	suites, err := ParseCipherSuites(cipherSuites)
	if err != nil {
		return nil, err
	}
	cert, err := p.Certificate(nickname)
	if err != nil {
		return nil, err
	}
	clientCAs, err := p.trustStore()
	if err != nil {
		return nil, err
	}
	clientAuth := tls.VerifyClientCertIfGiven
	if requireClientCert {
		clientAuth = tls.RequireAndVerifyClientCert
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		CipherSuites: suites,
		ClientAuth:   clientAuth,
		ClientCAs:    clientCAs,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Loads the certificate chain and private key stored under nickname
func (p *FileProvider) Certificate(nickname string) (*tls.Certificate, error) {
	if nickname == "" || strings.ContainsAny(nickname, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNickname, nickname)
	}
	certFile := filepath.Join(p.config.Dir, nickname+certExtension)
	keyFile := filepath.Join(p.config.Dir, nickname+keyExtension)

	certPEM, err := afero.ReadFile(p.fs, certFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidNickname, nickname)
		}
		return nil, err
	}
	keyPEM, err := afero.ReadFile(p.fs, keyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s: missing private key", ErrInvalidNickname, nickname)
		}
		return nil, err
	}

	cert := &tls.Certificate{}
	for block, rest := pem.Decode(certPEM); block != nil; block, rest = pem.Decode(rest) {
		if block.Type == pemCertificate {
			cert.Certificate = append(cert.Certificate, block.Bytes)
		}
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCertificate, certFile)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	cert.Leaf = leaf

	key, err := p.parsePrivateKey(nickname, keyPEM)
	if err != nil {
		return nil, err
	}
	cert.PrivateKey = key

	p.logger.Debug("credential: loaded certificate",
		"nickname", nickname,
		"subject", leaf.Subject.String())

	return cert, nil
}

func (p *FileProvider) parsePrivateKey(nickname string, keyPEM []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, ErrInvalidPrivateKey
	}
	var key any
	var err error
	switch block.Type {
	case pemEncryptedPrivateKey:
		password, perr := p.password(nickname)
		if perr != nil {
			return nil, perr
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
	case pemPrivateKey:
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
	case pemRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case pemECPrivateKey:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unsupported PEM type %q", ErrInvalidPrivateKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

func (p *FileProvider) trustStore() (*x509.CertPool, error) {
	if p.config.TrustStore == "" {
		return nil, nil
	}
	data, err := afero.ReadFile(p.fs, p.config.TrustStore)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrustStore, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTrustStore, p.config.TrustStore)
	}
	return pool, nil
}

// Converts IANA cipher suite names to their TLS identifiers. Only
// suites considered secure by crypto/tls are accepted. An empty list
// selects the crypto/tls defaults.
func ParseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		known[suite.Name] = suite.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCipherSuite, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
