package connection

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContentType = "application/x-test"

// Starts a TLS server that counts the sessions it accepts
func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	sessions := &atomic.Int32{}
	srv := httptest.NewUnstartedServer(handler)
	srv.Config.ConnState = func(conn net.Conn, state http.ConnState) {
		if state == http.StateNew {
			sessions.Add(1)
		}
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv, sessions
}

func newTestConnection(srv *httptest.Server, hosts ...string) *Connection {
	if len(hosts) == 0 {
		hosts = []string{srv.Listener.Addr().String()}
	}
	var tlsConfig *tls.Config
	if srv != nil {
		tlsConfig = srv.Client().Transport.(*http.Transport).TLSClientConfig.Clone()
	}
	return New(&Params{
		Logger:        logging.NewLogger(slog.LevelDebug, nil),
		Hosts:         hosts,
		TLSConfig:     tlsConfig,
		ContentType:   testContentType,
		Timeout:       2 * time.Second,
		FailoverDelay: 10 * time.Millisecond,
	})
}

// Returns an address nothing is listening on
func deadAddress(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func echo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != testContentType {
		http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
		return
	}
	body, _ := io.ReadAll(r.Body)
	w.Write(body)
}

func TestSend(t *testing.T) {

	srv, sessions := newTestServer(t, echo)
	conn := newTestConnection(srv)
	defer conn.Close()

	assert.False(t, conn.Connected())

	reply, err := conn.Send(context.Background(), "/ca/connector/enroll", []byte("hello"))
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), reply)
	assert.True(t, conn.Connected())
	assert.Equal(t, srv.Listener.Addr().String(), conn.Host())

	// Keep-alive session is reused
	reply, err = conn.Send(context.Background(), "/ca/connector/enroll", []byte("again"))
	require.Nil(t, err)
	assert.Equal(t, []byte("again"), reply)
	assert.Equal(t, int32(1), sessions.Load())
}

func TestStatusErrors(t *testing.T) {

	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrAuthentication},
		{http.StatusInternalServerError, ErrProtocol},
		{http.StatusNotFound, ErrProtocol},
	}
	for _, tt := range tests {
		srv, sessions := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		})
		conn := newTestConnection(srv)

		_, err := conn.Send(context.Background(), "/", []byte("x"))
		assert.True(t, errors.Is(err, tt.want), err)
		assert.False(t, errors.Is(err, ErrTransport))

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, tt.code, statusErr.Code)

		// Status replies are not retried
		assert.Equal(t, int32(1), sessions.Load())
		conn.Close()
	}
}

func TestReconnectAfterDroppedSession(t *testing.T) {

	srv, sessions := newTestServer(t, echo)
	conn := newTestConnection(srv)
	defer conn.Close()

	_, err := conn.Send(context.Background(), "/", []byte("one"))
	require.Nil(t, err)

	srv.CloseClientConnections()

	reply, err := conn.Send(context.Background(), "/", []byte("two"))
	require.Nil(t, err)
	assert.Equal(t, []byte("two"), reply)
	assert.Equal(t, int32(2), sessions.Load())
}

func TestSingleReconnectPerSend(t *testing.T) {

	attempts := &atomic.Int32{}
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		hj, ok := w.(http.Hijacker)
		if !assert.True(t, ok) {
			return
		}
		session, _, err := hj.Hijack()
		if assert.Nil(t, err) {
			session.Close()
		}
	})
	conn := newTestConnection(srv)
	defer conn.Close()

	_, err := conn.Send(context.Background(), "/", []byte("x"))
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, int32(2), attempts.Load())
	assert.False(t, conn.Connected())
}

func TestConnectionCloseHeader(t *testing.T) {

	srv, sessions := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Write([]byte("bye"))
	})
	conn := newTestConnection(srv)
	defer conn.Close()

	reply, err := conn.Send(context.Background(), "/", []byte("x"))
	require.Nil(t, err)
	assert.Equal(t, []byte("bye"), reply)
	assert.False(t, conn.Connected())

	_, err = conn.Send(context.Background(), "/", []byte("x"))
	require.Nil(t, err)
	assert.Equal(t, int32(2), sessions.Load())
}

func TestUnreachableHost(t *testing.T) {

	conn := newTestConnection(nil, deadAddress(t))

	_, err := conn.Send(context.Background(), "/", []byte("x"))
	assert.True(t, errors.Is(err, ErrTransport))
	assert.False(t, conn.Connected())
}

func TestNoHosts(t *testing.T) {

	conn := New(&Params{
		Logger: logging.NewLogger(slog.LevelInfo, nil),
	})
	err := conn.Connect(context.Background())
	assert.Equal(t, ErrNoHosts, err)
}

func TestFailover(t *testing.T) {

	srv, _ := newTestServer(t, echo)
	live := srv.Listener.Addr().String()
	conn := newTestConnection(srv, deadAddress(t), live)
	defer conn.Close()

	require.Nil(t, conn.Connect(context.Background()))
	assert.Equal(t, live, conn.Host())

	reply, err := conn.Send(context.Background(), "/", []byte("x"))
	require.Nil(t, err)
	assert.Equal(t, []byte("x"), reply)
}

func TestConnectHonorsContext(t *testing.T) {

	conn := newTestConnection(nil, deadAddress(t), deadAddress(t))
	conn.failoverDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := conn.Connect(ctx)
	assert.NotNil(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestParseHosts(t *testing.T) {

	assert.Equal(t,
		[]string{"ca1.example.com:8443", "ca2.example.com:9443", "[::1]:8443"},
		ParseHosts("ca1.example.com  ca2.example.com:9443 ::1", 8443))

	assert.Empty(t, ParseHosts("   ", 8443))
}
