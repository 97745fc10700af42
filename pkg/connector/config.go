package connector

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/connection"
	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/message"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
)

const (
	DefaultResendInterval = 60 * time.Second
	DefaultPort           = 8443
)

var (
	ErrNoURI            = errors.New("connector: no URI configured for request type")
	ErrInvalidSourceID  = errors.New("connector: invalid source id")
	ErrInvalidAuthority = errors.New("connector: invalid remote authority")
)

// Config is the configuration of a single connector to a remote authority
type Config struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// Identifier of this node, used as the prefix of outbound composite
	// request IDs
	SourceID     string          `yaml:"source-id" json:"source_id" mapstructure:"source-id"`
	Authority    AuthorityConfig `yaml:"authority" json:"authority" mapstructure:"authority"`
	Nickname     string          `yaml:"nickname" json:"nickname" mapstructure:"nickname"`
	CipherSuites []string        `yaml:"cipher-suites" json:"cipher_suites" mapstructure:"cipher-suites"`
	MinHTTPConns int             `yaml:"min-http-conns" json:"min_http_conns" mapstructure:"min-http-conns"`
	MaxHTTPConns int             `yaml:"max-http-conns" json:"max_http_conns" mapstructure:"max-http-conns"`
	// Seconds between resend ticks. Zero selects the default, a
	// negative value disables resending.
	ResendInterval int `yaml:"resend-interval" json:"resend_interval" mapstructure:"resend-interval"`
	// Pending set size above which a warning is logged on every tick.
	// Zero disables the warning.
	PendingWarnThreshold int `yaml:"pending-warn-threshold" json:"pending_warn_threshold" mapstructure:"pending-warn-threshold"`
}

type AuthorityConfig struct {
	// Identifier of the remote authority, used in logs and metrics
	ID string `yaml:"id" json:"id" mapstructure:"id"`
	// A single host or a space separated list of host[:port] failover
	// alternatives
	Host        string            `yaml:"host" json:"host" mapstructure:"host"`
	Port        int               `yaml:"port" json:"port" mapstructure:"port"`
	URIs        map[string]string `yaml:"uris" json:"uris" mapstructure:"uris"`
	ContentType string            `yaml:"content-type" json:"content_type" mapstructure:"content-type"`
	// Seconds
	Timeout       int `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	FailoverDelay int `yaml:"failover-delay" json:"failover_delay" mapstructure:"failover-delay"`
}

// Authority describes a remote authority. It is immutable once created.
type Authority struct {
	ID            string
	Hosts         []string
	URIs          map[request.Type]string
	ContentType   string
	Timeout       time.Duration
	FailoverDelay time.Duration
}

// Creates a new Authority from its configuration, validating the
// per-operation URI mappings.
func NewAuthority(config AuthorityConfig) (*Authority, error) {
	port := config.Port
	if port == 0 {
		port = DefaultPort
	}
	hosts := connection.ParseHosts(config.Host, port)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuthority, connection.ErrNoHosts)
	}
	uris := make(map[request.Type]string, len(config.URIs))
	for op, uri := range config.URIs {
		typ, err := request.ParseType(op)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidAuthority, err)
		}
		uris[typ] = uri
	}
	contentType := config.ContentType
	if contentType == "" {
		contentType = message.ContentType
	}
	id := config.ID
	if id == "" {
		id = hosts[0]
	}
	return &Authority{
		ID:            id,
		Hosts:         hosts,
		URIs:          uris,
		ContentType:   contentType,
		Timeout:       time.Duration(config.Timeout) * time.Second,
		FailoverDelay: time.Duration(config.FailoverDelay) * time.Second,
	}, nil
}

// Returns the URI serving the provided request type
func (a *Authority) URI(typ request.Type) (string, error) {
	uri, ok := a.URIs[typ]
	if !ok || uri == "" {
		return "", fmt.Errorf("%w: %s", ErrNoURI, typ)
	}
	return uri, nil
}

// Returns the resend interval, or zero if resending is disabled
func (c *Config) Interval() time.Duration {
	switch {
	case c.ResendInterval < 0:
		return 0
	case c.ResendInterval == 0:
		return DefaultResendInterval
	}
	return time.Duration(c.ResendInterval) * time.Second
}
