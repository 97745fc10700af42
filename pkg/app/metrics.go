package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/codegangsta/negroni"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	METRICS_READ_TIMEOUT     = 5 * time.Second
	METRICS_WRITE_TIMEOUT    = 10 * time.Second
	METRICS_SHUTDOWN_TIMEOUT = 5 * time.Second
)

// MetricsServer exposes the relay's prometheus registry over plain HTTP
// while the connectors run.
type MetricsServer struct {
	app        *App
	httpServer *http.Server
	listener   net.Listener
}

// Creates a metrics server for the configured listener, or returns nil
// if the metrics listener is disabled.
func (app *App) NewMetricsServer() *MetricsServer {
	if app.Config.Metrics.Port <= 0 {
		return nil
	}
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(router)
	return &MetricsServer{
		app: app,
		httpServer: &http.Server{
			Handler:      n,
			ReadTimeout:  METRICS_READ_TIMEOUT,
			WriteTimeout: METRICS_WRITE_TIMEOUT,
		},
	}
}

func (server *MetricsServer) Listen() error {
	addr := net.JoinHostPort(
		server.app.Config.Metrics.ListenAddress,
		fmt.Sprint(server.app.Config.Metrics.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server.listener = listener
	server.app.Logger.Info("metrics: listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (server *MetricsServer) Run() error {
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

func (server *MetricsServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), METRICS_SHUTDOWN_TIMEOUT)
	defer cancel()
	server.app.Logger.MaybeError(server.httpServer.Shutdown(ctx))
}
