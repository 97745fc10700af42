package connection

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultFailoverDelay = 5 * time.Second
)

var (
	ErrTransport      = errors.New("connection: transport failure")
	ErrAuthentication = errors.New("connection: authentication failed")
	ErrProtocol       = errors.New("connection: protocol failure")
	ErrNoHosts        = errors.New("connection: no remote hosts configured")
)

// StatusError reports a non-200 reply from the remote authority. It
// unwraps to ErrAuthentication for 401 and ErrProtocol otherwise.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("connection: remote authority replied %s", e.Status)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrAuthentication
	}
	return ErrProtocol
}

type Params struct {
	Logger *logging.Logger
	// Remote endpoints in failover order, as host:port
	Hosts       []string
	TLSConfig   *tls.Config
	ContentType string
	// Deadline for a single request/reply exchange
	Timeout time.Duration
	// Delay between connection attempts to successive hosts
	FailoverDelay time.Duration
}

// Connection owns at most one TLS session to a remote authority and
// exchanges one request body for one reply body per Send. A Connection
// is not safe for concurrent use; callers obtain exclusive use from a
// Pool.
type Connection struct {
	id            string
	logger        *logging.Logger
	hosts         []string
	tlsConfig     *tls.Config
	contentType   string
	timeout       time.Duration
	failoverDelay time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	host   string
	dialed bool
}

func New(params *Params) *Connection {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	failoverDelay := params.FailoverDelay
	if failoverDelay <= 0 {
		failoverDelay = DefaultFailoverDelay
	}
	id := uuid.NewString()
	return &Connection{
		id:            id,
		logger:        params.Logger.With(slog.String("connection", id)),
		hosts:         params.Hosts,
		tlsConfig:     params.TLSConfig,
		contentType:   params.ContentType,
		timeout:       timeout,
		failoverDelay: failoverDelay,
	}
}

// Parses a space separated list of host or host:port alternatives,
// applying defaultPort to entries without a port.
func ParseHosts(hosts string, defaultPort int) []string {
	fields := strings.Fields(hosts)
	parsed := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, _, err := net.SplitHostPort(field); err == nil {
			parsed = append(parsed, field)
			continue
		}
		parsed = append(parsed, net.JoinHostPort(field, strconv.Itoa(defaultPort)))
	}
	return parsed
}

func (c *Connection) ID() string {
	return c.id
}

// Returns the host:port of the current session, or an empty
// string if not connected.
func (c *Connection) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Establishes a TLS session with the first reachable host, waiting the
// failover delay between attempts. Any existing session is closed first.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Connection) connect(ctx context.Context) error {
	c.disconnect()

	if len(c.hosts) == 0 {
		return ErrNoHosts
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.timeout},
		Config:    c.tlsConfig,
	}

	next := 0
	var conn net.Conn
	operation := func() error {
		host := c.hosts[next]
		next++
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			c.logger.MaybeError(err, slog.String("host", host))
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		c.host = host
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.failoverDelay),
			uint64(len(c.hosts)-1)),
		ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		c.host = ""
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)
	c.dialed = true
	c.logger.Debug("connection: connected", slog.String("host", c.host))
	return nil
}

// Sends the payload to uri and returns the reply body. At most one
// reconnect is performed per call: a dropped session is re-established
// once, and an exchange that fails mid-call on an established session
// is retried once over a new session. Returns an error wrapping
// ErrTransport when the exchange could not be completed, or a
// *StatusError for any reply other than 200.
func (c *Connection) Send(ctx context.Context, uri string, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reconnected := false
	if c.conn == nil {
		reconnected = c.dialed
		if err := c.connect(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}

	for {
		reply, err := c.exchange(ctx, uri, payload)
		if err == nil {
			return reply, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, err
		}
		c.disconnect()
		if reconnected {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		c.logger.Warn("connection: exchange failed, reconnecting",
			slog.String("uri", uri),
			slog.String("error", err.Error()))
		reconnected = true
		if err := c.connect(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
}

// Performs a single HTTP/1.1 POST over the current session
func (c *Connection) exchange(ctx context.Context, uri string, payload []byte) ([]byte, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://%s%s", c.host, uri)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	if err := req.Write(c.writer); err != nil {
		return nil, err
	}
	if err := c.writer.Flush(); err != nil {
		return nil, err
	}

	resp, err := http.ReadResponse(c.reader, req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.Close {
		// The remote authority will not reuse this session
		c.disconnect()
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return body, nil
}

// Closes the current session, if any
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnect()
}

func (c *Connection) disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.writer = nil
	c.host = ""
	return err
}
