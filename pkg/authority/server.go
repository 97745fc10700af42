package authority

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	HTTP_SERVER_READ_TIMEOUT  = 5 * time.Second
	HTTP_SERVER_WRITE_TIMEOUT = 30 * time.Second
	HTTP_SERVER_IDLE_TIMEOUT  = 120 * time.Second
	HTTP_SHUTDOWN_TIMEOUT     = 5 * time.Second
)

var (
	ErrBindPort = errors.New("authority: unable to bind to service port")
)

type Config struct {
	ID                string            `yaml:"id" json:"id" mapstructure:"id"`
	ListenAddress     string            `yaml:"listen" json:"listen" mapstructure:"listen"`
	Port              int               `yaml:"port" json:"port" mapstructure:"port"`
	Nickname          string            `yaml:"nickname" json:"nickname" mapstructure:"nickname"`
	CipherSuites      []string          `yaml:"cipher-suites" json:"cipher_suites" mapstructure:"cipher-suites"`
	RequireClientCert bool              `yaml:"require-client-cert" json:"require_client_cert" mapstructure:"require-client-cert"`
	AllowedClients    []string          `yaml:"allowed-clients" json:"allowed_clients" mapstructure:"allowed-clients"`
	URIs              map[string]string `yaml:"uris" json:"uris" mapstructure:"uris"`
	// Deliveries answered with the pending status before a request completes
	Polls int `yaml:"polls" json:"polls" mapstructure:"polls"`
}

// Parses the configured operation URIs
func (c *Config) OperationURIs() (map[request.Type]string, error) {
	uris := make(map[request.Type]string, len(c.URIs))
	for op, uri := range c.URIs {
		typ, err := request.ParseType(op)
		if err != nil {
			return nil, err
		}
		uris[typ] = uri
	}
	return uris, nil
}

// WebServer serves the authority endpoints over TLS, along with the
// prometheus metrics of the process.
type WebServer struct {
	config     *Config
	httpServer *http.Server
	listener   net.Listener
	logger     *logging.Logger
	router     *mux.Router
	tlsConfig  *tls.Config
}

func NewWebServer(
	logger *logging.Logger,
	config *Config,
	tlsConfig *tls.Config,
	service *Service,
	gatherer prometheus.Gatherer) *WebServer {

	router := mux.NewRouter()
	service.RegisterRoutes(router)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}
	return &WebServer{
		config:    config,
		logger:    logger,
		router:    router,
		tlsConfig: tlsConfig,
		httpServer: &http.Server{
			Handler:      router,
			IdleTimeout:  HTTP_SERVER_IDLE_TIMEOUT,
			ReadTimeout:  HTTP_SERVER_READ_TIMEOUT,
			WriteTimeout: HTTP_SERVER_WRITE_TIMEOUT,
		},
	}
}

// Binds the TLS listener. The bound address is available from Addr.
func (server *WebServer) Listen() error {
	addr := net.JoinHostPort(server.config.ListenAddress, fmt.Sprint(server.config.Port))
	listener, err := tls.Listen("tcp", addr, server.tlsConfig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBindPort, err)
	}
	server.listener = listener
	server.logger.Info("authority: listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (server *WebServer) Addr() net.Addr {
	if server.listener == nil {
		return nil
	}
	return server.listener.Addr()
}

// Serves requests until Shutdown is called
func (server *WebServer) Run() error {
	if server.listener == nil {
		if err := server.Listen(); err != nil {
			return err
		}
	}
	err := server.httpServer.Serve(server.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (server *WebServer) Shutdown() {
	server.logger.Info("authority: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), HTTP_SHUTDOWN_TIMEOUT)
	defer cancel()
	server.logger.MaybeError(server.httpServer.Shutdown(ctx))
}
