package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/connection"
	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/message"
	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/transfer"
	"github.com/jeremyhahn/go-trusted-relay/pkg/credential"
	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
	"github.com/prometheus/client_golang/prometheus"
)

// Liveness reports whether the owning process is accepting work
type Liveness interface {
	IsRunning() bool
}

// LivenessFunc adapts a function to the Liveness interface
type LivenessFunc func() bool

func (f LivenessFunc) IsRunning() bool {
	return f()
}

// Exchanger performs a single request / reply round trip with a remote
// authority over the provided connection, returning the decoded reply
// and the remote authority's own ID for the request.
type Exchanger interface {
	Exchange(ctx context.Context, conn *connection.Connection, r *request.Request) (*message.Message, string, error)
}

type Params struct {
	Logger      *logging.Logger
	Config      *Config
	Store       request.Store
	Credentials credential.Provider
	// Optional; the resender always runs when nil
	Liveness Liveness
	// Optional; metrics are not exported when nil
	Registerer prometheus.Registerer
}

// Connector delivers requests to a single remote authority. Requests the
// remote authority has not yet resolved are handed to a Resender, which
// re-delivers them until they complete.
type Connector struct {
	name      string
	sourceID  string
	authority *Authority
	codec     *message.Codec
	logger    *logging.Logger
	metrics   *Metrics
	pool      *connection.Pool
	resender  *Resender
	store     request.Store
}

// Creates a new connector. An error is returned if the configuration is
// invalid or the TLS client credential can not be loaded.
func New(params *Params) (*Connector, error) {
	config := params.Config
	if config.SourceID == "" {
		return nil, ErrInvalidSourceID
	}
	authority, err := NewAuthority(config.Authority)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := params.Credentials.ClientConfig(config.Nickname, config.CipherSuites)
	if err != nil {
		return nil, err
	}
	codec, err := message.NewCodec()
	if err != nil {
		return nil, err
	}

	name := config.Name
	if name == "" {
		name = authority.ID
	}
	logger := params.Logger.Component("connector").With(
		slog.String("connector", name),
		slog.String("authority", authority.ID))

	factory := func() *connection.Connection {
		return connection.New(&connection.Params{
			Logger:        logger,
			Hosts:         authority.Hosts,
			TLSConfig:     tlsConfig,
			ContentType:   authority.ContentType,
			Timeout:       authority.Timeout,
			FailoverDelay: authority.FailoverDelay,
		})
	}

	connector := &Connector{
		name:      name,
		sourceID:  config.SourceID,
		authority: authority,
		codec:     codec,
		logger:    logger,
		metrics:   NewMetrics(params.Registerer, name),
		store:     params.Store,
	}
	connector.pool = connection.NewPool(&connection.PoolParams{
		Logger:         logger,
		MinConnections: config.MinHTTPConns,
		MaxConnections: config.MaxHTTPConns,
		Factory:        factory,
	})
	connector.resender = NewResender(&ResenderParams{
		Logger:               logger,
		Name:                 name,
		Interval:             config.Interval(),
		PendingWarnThreshold: config.PendingWarnThreshold,
		Store:                params.Store,
		Liveness:             params.Liveness,
		Exchanger:            connector,
		Factory:              factory,
		Metrics:              connector.metrics,
	})
	return connector, nil
}

func (c *Connector) Name() string {
	return c.name
}

func (c *Connector) Authority() *Authority {
	return c.authority
}

func (c *Connector) Resender() *Resender {
	return c.resender
}

// Starts the periodic resend task
func (c *Connector) Start() {
	c.resender.Start()
}

// Stops the periodic resend task, waiting for an in-flight tick to
// complete, and closes idle pooled connections.
func (c *Connector) Stop() {
	c.resender.Stop()
	c.pool.Close()
}

// Sends the request to the remote authority. Returns true if the remote
// authority reached a terminal outcome for the request, in which case the
// outcome has been copied onto the request. Returns false if the request
// is still being processed remotely or could not be delivered; such
// requests are queued for resend. An error is returned only for
// configuration and authentication failures, which are never retried.
func (c *Connector) Send(ctx context.Context, r *request.Request) (bool, error) {
	if r.Status() == request.StatusComplete {
		return true, nil
	}
	if _, err := c.authority.URI(r.Type()); err != nil {
		c.metrics.sends.WithLabelValues(outcomeConfig).Inc()
		c.logger.Error(err, slog.String("request", r.ID().String()))
		return false, err
	}

	conn, err := c.pool.Borrow(ctx)
	if err != nil {
		// Stopped connector or expired context; the request waits for
		// the resender like any other undelivered request
		c.metrics.sends.WithLabelValues(outcomeTransport).Inc()
		c.logger.Error(err, slog.String("request", r.ID().String()))
		c.park(ctx, r)
		return false, nil
	}
	c.metrics.poolSize.Set(float64(c.pool.InUse()))
	defer func() {
		c.pool.Return(conn)
		c.metrics.poolSize.Set(float64(c.pool.InUse()))
	}()

	reply, remoteID, err := c.Exchange(ctx, conn, r)
	if err != nil {
		return c.failed(ctx, r, err)
	}
	return c.resolve(ctx, r, reply, remoteID)
}

// Exchange encodes the outbound projection of the request, sends it over
// conn and decodes the reply.
func (c *Connector) Exchange(
	ctx context.Context,
	conn *connection.Connection,
	r *request.Request) (*message.Message, string, error) {

	uri, err := c.authority.URI(r.Type())
	if err != nil {
		return nil, "", err
	}

	msg := message.New(message.CompositeID(c.sourceID, r.ID()), r.Type(), r.Status())
	transfer.ToMessage(r, msg)
	payload, err := c.codec.Encode(msg)
	if err != nil {
		return nil, "", err
	}

	c.logger.Debug("connector: sending request",
		slog.String("request", r.ID().String()),
		slog.String("type", r.Type().String()),
		slog.String("uri", uri))

	body, err := conn.Send(ctx, uri, payload)
	if err != nil {
		return nil, "", err
	}
	reply, err := c.codec.Decode(body)
	if err != nil {
		return nil, "", err
	}
	remoteID, err := message.ParseCompositeID(reply.RequestID)
	if err != nil {
		return nil, "", err
	}
	return reply, remoteID, nil
}

// Applies the status decision to a decoded reply
func (c *Connector) resolve(
	ctx context.Context,
	r *request.Request,
	reply *message.Message,
	remoteID string) (bool, error) {

	status := reply.RequestStatus
	logger := c.logger.With(
		slog.String("request", r.ID().String()),
		slog.String("remote_request", remoteID),
		slog.String("remote_status", status.String()))

	switch status {
	case request.StatusBegin,
		request.StatusPending,
		request.StatusSvcPending,
		request.StatusApproved:

		c.metrics.sends.WithLabelValues(outcomePending).Inc()
		if r.Type().Disposable() {
			logger.Debug("connector: remote authority has not resolved query")
			return false, nil
		}
		r.SetAttribute(request.AttrRemoteRequestID, request.String(remoteID))
		logger.Info("connector: request pending at remote authority")
		c.park(ctx, r)
		return false, nil

	case request.StatusRejected, request.StatusCanceled:
		transfer.ToRequest(reply, r)
		r.SetAttribute(request.AttrRemoteRequestID, request.String(remoteID))
		r.SetAttribute(request.AttrResult, request.String(request.ResultError))
		r.SetAttribute(request.AttrRemoteStatus, request.String(status.String()))
		if errs, ok := reply.Attributes[request.AttrErrors]; ok {
			r.SetAttribute(request.AttrErrors, errs)
		}
		logger.Warn("connector: remote authority did not approve request")
		c.complete(ctx, r)
		c.metrics.sends.WithLabelValues(outcomeDelivered).Inc()
		return true, nil

	case request.StatusComplete:
		transfer.ToRequest(reply, r)
		r.SetAttribute(request.AttrRemoteRequestID, request.String(remoteID))
		logger.Info("connector: request completed by remote authority")
		c.complete(ctx, r)
		c.metrics.sends.WithLabelValues(outcomeDelivered).Inc()
		return true, nil
	}

	err := fmt.Errorf("%w: %w: %q", connection.ErrProtocol, request.ErrInvalidStatus, status)
	logger.Error(err)
	c.metrics.sends.WithLabelValues(outcomeProtocol).Inc()
	c.park(ctx, r)
	return false, nil
}

// Handles a failed exchange. Authentication and configuration failures
// are returned to the caller; everything else is queued for resend.
func (c *Connector) failed(ctx context.Context, r *request.Request, err error) (bool, error) {
	switch {
	case errors.Is(err, ErrNoURI):
		c.metrics.sends.WithLabelValues(outcomeConfig).Inc()
		c.logger.Error(err, slog.String("request", r.ID().String()))
		return false, err
	case errors.Is(err, connection.ErrAuthentication):
		c.metrics.sends.WithLabelValues(outcomeAuth).Inc()
		c.authenticationFailed(r, err, logging.SourceConnector)
		return false, err
	case errors.Is(err, connection.ErrTransport):
		c.metrics.sends.WithLabelValues(outcomeTransport).Inc()
	default:
		c.metrics.sends.WithLabelValues(outcomeProtocol).Inc()
	}
	c.logger.Error(err, slog.String("request", r.ID().String()))
	c.park(ctx, r)
	return false, nil
}

func (c *Connector) authenticationFailed(r *request.Request, err error, source string) {
	c.logger.Error(err, slog.String("request", r.ID().String()))
	c.logger.Security(logging.SecurityLogEntry{
		Severity:        logging.SeverityHigh,
		Category:        logging.CategoryAuthentication,
		Description:     "remote authority rejected the relay's credentials",
		Details:         fmt.Sprintf("connector=%s request=%s: %s", c.name, r.ID(), err),
		Source:          source,
		OffenderAddress: c.authority.Hosts[0],
	})
}

// Marks a request as awaiting the remote authority and queues it for
// resend. Disposable and locally resolved requests are left untouched.
func (c *Connector) park(ctx context.Context, r *request.Request) {
	if r.Type().Disposable() {
		return
	}
	for {
		status := r.Status()
		if status.Terminal() {
			return
		}
		if status == request.StatusSvcPending ||
			r.CompareAndSetStatus(status, request.StatusSvcPending) {
			break
		}
	}
	if err := c.store.UpdateRequest(context.WithoutCancel(ctx), r); err != nil {
		c.logger.Error(err, slog.String("request", r.ID().String()))
	}
	// A concurrent resend may have completed the request since
	if r.Status() != request.StatusSvcPending {
		return
	}
	c.resender.AddRequest(r)
}

func (c *Connector) complete(ctx context.Context, r *request.Request) {
	r.SetStatus(request.StatusComplete)
	if err := c.store.UpdateRequest(ctx, r); err != nil {
		c.logger.Error(err, slog.String("request", r.ID().String()))
	}
}
