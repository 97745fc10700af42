package authority

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/codegangsta/negroni"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/message"
	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
)

const (
	// Upper bound on the size of an encoded request message
	MaxMessageSize = 8 << 20
)

var (
	ErrUnauthorized = errors.New("authority: unauthorized")
	ErrInvalidID    = errors.New("authority: invalid authority id")
	ErrTypeMismatch = errors.New("authority: request type does not match endpoint")
)

// Processor performs the PKI operation carried by a relayed request.
// It is invoked every time the relay delivers a request that has not
// reached a terminal status, with the remote ID assigned on first
// delivery, and returns the current status and the attributes to
// return to the relay.
type Processor interface {
	Process(ctx context.Context, remoteID string, msg *message.Message) (request.Status, request.Attributes, error)
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, remoteID string, msg *message.Message) (request.Status, request.Attributes, error)

func (f ProcessorFunc) Process(ctx context.Context, remoteID string, msg *message.Message) (request.Status, request.Attributes, error) {
	return f(ctx, remoteID, msg)
}

// Authenticator verifies the client of an inbound request. A non-nil
// error results in a 401 reply.
type Authenticator func(r *http.Request) error

type Params struct {
	Logger *logging.Logger
	// Identifier of this authority, used as the prefix of reply IDs
	ID            string
	URIs          map[request.Type]string
	Processor     Processor
	Authenticator Authenticator
}

type entry struct {
	mu       sync.Mutex
	remoteID string
	reply    []byte
	status   request.Status
}

// Service is the authority side of the relay protocol. It decodes relayed
// requests, de-duplicates them by their composite ID and replies with the
// outcome reported by the Processor. Once a request reaches a terminal
// status the recorded reply is returned for every later delivery.
type Service struct {
	id            string
	logger        *logging.Logger
	codec         *message.Codec
	processor     Processor
	authenticator Authenticator
	uris          map[request.Type]string

	mu      sync.Mutex
	entries map[string]*entry
}

func NewService(params *Params) (*Service, error) {
	if params.ID == "" {
		return nil, ErrInvalidID
	}
	codec, err := message.NewCodec()
	if err != nil {
		return nil, err
	}
	return &Service{
		id:            params.ID,
		logger:        params.Logger.Component("authority"),
		codec:         codec,
		processor:     params.Processor,
		authenticator: params.Authenticator,
		uris:          params.URIs,
		entries:       make(map[string]*entry),
	}, nil
}

// Returns a router serving every configured operation URI
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()
	s.RegisterRoutes(router)
	return router
}

// Registers the operation endpoints on the provided router
func (s *Service) RegisterRoutes(router *mux.Router) {
	for typ, uri := range s.uris {
		router.Handle(uri, negroni.New(
			negroni.NewRecovery(),
			negroni.HandlerFunc(s.authenticate),
			negroni.Wrap(s.operation(typ)),
		)).Methods(http.MethodPost)
	}
}

// Returns the number of distinct requests received
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) authenticate(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if s.authenticator != nil {
		if err := s.authenticator(r); err != nil {
			s.logger.Security(logging.SecurityLogEntry{
				Severity:        logging.SeverityMedium,
				Category:        logging.CategoryAuthentication,
				Description:     "rejected relay client",
				Details:         err.Error(),
				Source:          logging.SourceAuthority,
				OffenderAddress: r.RemoteAddr,
			})
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
	}
	next(w, r)
}

func (s *Service) operation(typ request.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxMessageSize))
		if err != nil {
			s.logger.MaybeError(err, slog.String("remote", r.RemoteAddr))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg, err := s.codec.Decode(body)
		if err != nil {
			s.logger.MaybeError(err, slog.String("remote", r.RemoteAddr))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if msg.RequestType != typ {
			err := fmt.Errorf("%w: %s", ErrTypeMismatch, msg.RequestType)
			s.logger.MaybeError(err, slog.String("remote", r.RemoteAddr))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := message.ParseCompositeID(msg.RequestID); err != nil {
			s.logger.MaybeError(err, slog.String("remote", r.RemoteAddr))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reply, err := s.handle(r.Context(), msg)
		if err != nil {
			s.logger.Error(err, slog.String("request", msg.RequestID))
			http.Error(w, "request processing failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", message.ContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(reply)
	}
}

// Processes a decoded message, returning the encoded reply
func (s *Service) handle(ctx context.Context, msg *message.Message) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.entries[msg.RequestID]
	if !ok {
		e = &entry{remoteID: uuid.NewString()}
		s.entries[msg.RequestID] = e
	}
	s.mu.Unlock()

	// Deliveries of the same request are processed one at a time
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := s.logger.With(
		slog.String("request", msg.RequestID),
		slog.String("remote_request", e.remoteID))

	if e.status.Terminal() {
		logger.Debug("authority: replaying terminal reply",
			slog.String("status", e.status.String()))
		return e.reply, nil
	}

	status, attrs, err := s.processor.Process(ctx, e.remoteID, msg)
	if err != nil {
		return nil, err
	}
	reply := message.New(message.CompositeID(s.id, request.ID(e.remoteID)), msg.RequestType, status)
	for name, value := range attrs {
		reply.Attributes[name] = value
	}
	encoded, err := s.codec.Encode(reply)
	if err != nil {
		return nil, err
	}
	e.status = status
	e.reply = encoded

	logger.Info("authority: processed request",
		slog.String("type", msg.RequestType.String()),
		slog.String("status", status.String()))
	return encoded, nil
}
