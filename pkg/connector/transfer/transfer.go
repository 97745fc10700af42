package transfer

import (
	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/message"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
)

// Attributes that never leave or enter a request through a message
var excluded = map[string]struct{}{
	request.AttrRequestType:    {},
	request.AttrRequestID:      {},
	request.AttrRequestVersion: {},
	request.AttrAuthToken:      {},
}

// Attributes transferred for requests that did not originate
// from a certificate profile
var allowed = map[string]struct{}{
	request.AttrHTTPParams:         {},
	request.AttrAgentParams:        {},
	request.AttrCertInfo:           {},
	request.AttrIssuedCerts:        {},
	request.AttrOldCerts:           {},
	request.AttrOldSerials:         {},
	request.AttrRevokedCerts:       {},
	request.AttrRevokedCertRecords: {},
	request.AttrRevokedReason:      {},
	request.AttrSerialNumbers:      {},
	request.AttrCACertChain:        {},
	request.AttrCRL:                {},
	request.AttrErrors:             {},
	request.AttrResult:             {},
	request.AttrError:              {},
	request.AttrServiceErrors:      {},
	request.AttrRemoteStatus:       {},
	request.AttrRemoteRequestID:    {},
	request.AttrChallengePhrase:    {},
	request.AttrChallengeHash:      {},
	request.AttrChallengeSalt:      {},
	request.AttrIssuerDN:           {},
	request.AttrCertFilter:         {},
	request.AttrUID:                {},
	request.AttrPassword:           {},
	request.AttrPasswordTag:        {},
}

// Transferable reports whether the named attribute moves between a
// request and a message. Profile requests transfer everything except
// the structural and credential attributes; all other requests transfer
// only the fixed allow-list.
func Transferable(name string, profile bool) bool {
	if profile {
		_, skip := excluded[name]
		return !skip
	}
	_, ok := allowed[name]
	return ok
}

// Select returns the transferable subset of attrs. Values are deep
// copied, so the result shares no memory with attrs.
func Select(attrs request.Attributes, profile bool) request.Attributes {
	selected := make(request.Attributes)
	for name, value := range attrs {
		if value == nil || !Transferable(name, profile) {
			continue
		}
		if request.Scalar(value) {
			selected[name] = value
			continue
		}
		selected[name] = value.Clone()
	}
	return selected
}

// ToMessage is the outbound projection: it copies the transferable
// attributes of the request onto the message, overwriting existing
// values of the same name.
func ToMessage(r *request.Request, msg *message.Message) {
	if msg.Attributes == nil {
		msg.Attributes = make(request.Attributes)
	}
	for name, value := range Select(r.Attributes(), r.IsProfileRequest()) {
		msg.Attributes[name] = value
	}
}

// ToRequest is the inbound projection: it copies the transferable
// attributes of a reply message onto the local request, overwriting
// existing values of the same name. Whether the request is a profile
// request is decided by the message, which carries the profile ID back.
// Applying the same reply more than once yields the same request state.
func ToRequest(msg *message.Message, r *request.Request) {
	profile := msg.Attributes.String(request.AttrProfileID) != "" || r.IsProfileRequest()
	for name, value := range Select(msg.Attributes, profile) {
		r.SetAttribute(name, value)
	}
}
