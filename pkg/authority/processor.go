package authority

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/message"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
)

// DeferredProcessor reports every request as pending for a fixed number
// of deliveries and completes it on the next one. It stands in for an
// authority whose agents approve requests out of band.
type DeferredProcessor struct {
	// Deliveries answered with the pending status before completing
	Polls int

	mu         sync.Mutex
	deliveries map[string]int
}

func NewDeferredProcessor(polls int) *DeferredProcessor {
	return &DeferredProcessor{
		Polls:      polls,
		deliveries: make(map[string]int),
	}
}

func (p *DeferredProcessor) Process(
	ctx context.Context,
	remoteID string,
	msg *message.Message) (request.Status, request.Attributes, error) {

	p.mu.Lock()
	p.deliveries[remoteID]++
	n := p.deliveries[remoteID]
	p.mu.Unlock()

	if n <= p.Polls {
		return request.StatusPending, nil, nil
	}

	// Echo the relayed attributes back along with a result
	attrs := msg.Attributes.Clone()
	if attrs == nil {
		attrs = make(request.Attributes)
	}
	attrs[request.AttrResult] = request.String(request.ResultSuccess)
	digest := sha256.Sum256([]byte(msg.RequestID))
	attrs[request.AttrSerialNumbers] = request.StringList{"0x" + hex.EncodeToString(digest[:8])}
	return request.StatusComplete, attrs, nil
}

// Returns the number of deliveries recorded for the remote ID
func (p *DeferredProcessor) Deliveries(remoteID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deliveries[remoteID]
}

// Returns an Authenticator accepting clients that present a verified
// certificate whose subject common name is in allowed. An empty allowed
// list accepts any verified client certificate.
func ClientCertAuthenticator(allowed []string) Authenticator {
	return func(r *http.Request) error {
		if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 {
			return fmt.Errorf("%w: no verified client certificate", ErrUnauthorized)
		}
		cn := r.TLS.VerifiedChains[0][0].Subject.CommonName
		if len(allowed) > 0 && !slices.Contains(allowed, cn) {
			return fmt.Errorf("%w: %s", ErrUnauthorized, cn)
		}
		return nil
	}
}
