package connector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/connection"
	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/transfer"
	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
	"gopkg.in/tomb.v2"
)

type ResenderParams struct {
	Logger *logging.Logger
	Name   string
	// Zero disables resending
	Interval             time.Duration
	PendingWarnThreshold int
	Store                request.Store
	Liveness             Liveness
	Exchanger            Exchanger
	// Creates the resender's dedicated connection
	Factory connection.Factory
	Metrics *Metrics
}

// Resender periodically re-delivers requests the remote authority has not
// yet completed. Requests are resent one at a time over a dedicated
// connection that is never shared with foreground senders.
type Resender struct {
	logger        *logging.Logger
	name          string
	interval      time.Duration
	warnThreshold int
	store         request.Store
	liveness      Liveness
	exchanger     Exchanger
	factory       connection.Factory
	metrics       *Metrics
	pending       *PendingSet

	mu  sync.Mutex
	tmb *tomb.Tomb

	// Guards the fields below, which belong to the tick in progress
	tickMu sync.Mutex
	conn   *connection.Connection
	seeded bool
}

func NewResender(params *ResenderParams) *Resender {
	metrics := params.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil, params.Name)
	}
	return &Resender{
		logger:        params.Logger,
		name:          params.Name,
		interval:      params.Interval,
		warnThreshold: params.PendingWarnThreshold,
		store:         params.Store,
		liveness:      params.Liveness,
		exchanger:     params.Exchanger,
		factory:       params.Factory,
		metrics:       metrics,
		pending:       NewPendingSet(),
	}
}

func (r *Resender) Enabled() bool {
	return r.interval > 0
}

func (r *Resender) Pending() *PendingSet {
	return r.pending
}

// Starts the periodic resend task, which ticks immediately and then once
// per interval. Calling Start on a running resender has no effect.
func (r *Resender) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Enabled() {
		r.logger.Info("resender: resending disabled", slog.String("name", r.name))
		return
	}
	if r.tmb != nil && r.tmb.Alive() {
		return
	}

	tmb := new(tomb.Tomb)
	r.tmb = tmb
	tmb.Go(func() error {
		r.logger.Info("resender: started",
			slog.String("name", r.name),
			slog.Duration("interval", r.interval))
		defer r.logger.Info("resender: stopped", slog.String("name", r.name))

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		// In-flight ticks are never interrupted by Stop
		ctx := context.Background()
		r.Tick(ctx)
		for {
			select {
			case <-tmb.Dying():
				return nil
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	})
}

// Stops the periodic resend task, waiting for an in-flight tick to
// complete, and closes the dedicated connection.
func (r *Resender) Stop() {
	r.mu.Lock()
	tmb := r.tmb
	r.tmb = nil
	r.mu.Unlock()

	if tmb != nil {
		tmb.Kill(nil)
		r.logger.MaybeError(tmb.Wait())
	}

	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	r.dropConnection()
}

// Queues the request for resend. Disposable requests are never queued.
func (r *Resender) AddRequest(req *request.Request) {
	if req.Type().Disposable() || !r.Enabled() {
		return
	}
	if r.pending.Add(req.ID()) {
		r.logger.Debug("resender: request queued", slog.String("request", req.ID().String()))
		r.metrics.pending.Set(float64(r.pending.Len()))
	}
}

// Tick performs a single resend pass over the pending requests
func (r *Resender) Tick(ctx context.Context) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	if r.liveness != nil && !r.liveness.IsRunning() {
		r.logger.Debug("resender: not running, skipping tick")
		return
	}
	r.metrics.ticks.Inc()

	if r.conn == nil {
		conn := r.factory()
		if err := conn.Connect(ctx); err != nil {
			r.logger.Error(err, slog.String("name", r.name))
			return
		}
		r.conn = conn
		r.seeded = false
	}
	if !r.seeded {
		if err := r.seed(ctx); err != nil {
			r.logger.Error(err, slog.String("name", r.name))
		} else {
			r.seeded = true
		}
	}

	ids := r.pending.Snapshot()
	r.observePending()
	for i, id := range ids {
		err := r.resend(ctx, id)
		if errors.Is(err, connection.ErrTransport) || errors.Is(err, connection.ErrAuthentication) {
			r.logger.Warn("resender: connection unusable, skipping remaining requests",
				slog.String("name", r.name),
				slog.Int("skipped", len(ids)-i-1))
			r.dropConnection()
			break
		}
	}
	r.observePending()
}

// Adds every request the store holds in the svc_pending status
func (r *Resender) seed(ctx context.Context) error {
	requests, err := r.store.ListRequestsByStatus(ctx, request.StatusSvcPending)
	if err != nil {
		return err
	}
	for _, req := range requests {
		r.AddRequest(req)
	}
	r.logger.Debug("resender: seeded pending requests",
		slog.String("name", r.name),
		slog.Int("count", r.pending.Len()))
	return nil
}

// Resends a single request. A non-nil error is returned only when the
// exchange failed.
func (r *Resender) resend(ctx context.Context, id request.ID) error {
	logger := r.logger.With(slog.String("request", id.String()))

	req, err := r.store.FindRequest(ctx, id)
	if err != nil {
		if errors.Is(err, request.ErrRequestNotFound) {
			logger.Warn("resender: request not found, dropping")
			r.pending.Remove(id)
			return nil
		}
		logger.Error(err)
		return nil
	}
	defer func() {
		logger.MaybeError(r.store.ReleaseRequest(ctx, req))
	}()

	if status := req.Status(); status != request.StatusSvcPending {
		logger.Debug("resender: request no longer pending, dropping",
			slog.String("status", status.String()))
		r.pending.Remove(id)
		return nil
	}

	reply, remoteID, err := r.exchanger.Exchange(ctx, r.conn, req)
	if err != nil {
		switch {
		case errors.Is(err, connection.ErrAuthentication):
			r.metrics.resends.WithLabelValues(outcomeAuth).Inc()
			logger.Security(logging.SecurityLogEntry{
				Severity:    logging.SeverityHigh,
				Category:    logging.CategoryAuthentication,
				Description: "remote authority rejected the relay's credentials",
				Details:     err.Error(),
				Source:      logging.SourceConnector,
			})
		case errors.Is(err, connection.ErrTransport):
			r.metrics.resends.WithLabelValues(outcomeTransport).Inc()
		case errors.Is(err, ErrNoURI):
			r.metrics.resends.WithLabelValues(outcomeConfig).Inc()
		default:
			r.metrics.resends.WithLabelValues(outcomeProtocol).Inc()
		}
		logger.Error(err)
		return err
	}

	if reply.RequestStatus != request.StatusComplete {
		r.metrics.resends.WithLabelValues(outcomeNotCompleted).Inc()
		logger.Debug("resender: request not yet completed",
			slog.String("remote_request", remoteID),
			slog.String("remote_status", reply.RequestStatus.String()))
		return nil
	}

	transfer.ToRequest(reply, req)
	req.SetAttribute(request.AttrRemoteRequestID, request.String(remoteID))
	req.SetStatus(request.StatusComplete)
	if err := r.store.MarkAsServiced(ctx, req); err != nil {
		logger.Error(err)
	}
	r.pending.Remove(id)
	r.metrics.resends.WithLabelValues(outcomeDelivered).Inc()
	logger.Info("resender: request completed by remote authority",
		slog.String("remote_request", remoteID))
	return nil
}

func (r *Resender) dropConnection() {
	if r.conn == nil {
		return
	}
	r.logger.MaybeError(r.conn.Close())
	r.conn = nil
	r.seeded = false
}

func (r *Resender) observePending() {
	size := r.pending.Len()
	r.metrics.pending.Set(float64(size))
	if r.warnThreshold > 0 && size > r.warnThreshold {
		r.logger.Warn("resender: pending requests exceed warning threshold",
			slog.String("name", r.name),
			slog.Int("pending", size),
			slog.Int("threshold", r.warnThreshold))
	}
}
