package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
)

// IDSeparator joins the originating node's identifier and the
// node-local request ID in a composite message ID.
const IDSeparator = ":"

var (
	ErrMalformedID = errors.New("message: malformed composite request id")
)

// Message is the wire representation of a request snapshot exchanged
// between a relay and a remote authority.
type Message struct {
	RequestID     string
	RequestType   request.Type
	RequestStatus request.Status
	Attributes    request.Attributes
}

func New(requestID string, typ request.Type, status request.Status) *Message {
	return &Message{
		RequestID:     requestID,
		RequestType:   typ,
		RequestStatus: status,
		Attributes:    make(request.Attributes),
	}
}

// Returns the composite ID "<source>:<id>"
func CompositeID(source string, id request.ID) string {
	return source + IDSeparator + id.String()
}

// Returns the node-local portion of a composite ID, the substring after
// the last separator. IDs without a separator, or with an empty source
// or local part, are rejected.
func ParseCompositeID(id string) (string, error) {
	idx := strings.LastIndex(id, IDSeparator)
	if idx <= 0 || idx == len(id)-1 {
		return "", fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	return id[idx+1:], nil
}
