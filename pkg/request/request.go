package request

import (
	"context"
	"sync"
	"time"
)

// Store is the persistent request repository the relay works against.
// Implementations return the same live *Request to every caller that
// holds an unreleased checkout of the same ID.
type Store interface {
	FindRequest(ctx context.Context, id ID) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error
	MarkAsServiced(ctx context.Context, r *Request) error
	ReleaseRequest(ctx context.Context, r *Request) error
	ListRequestsByStatus(ctx context.Context, status Status) ([]*Request, error)
}

// Request is a long-running PKI operation. All accessors are safe for
// concurrent use; the foreground sender and the background resender may
// operate on the same instance.
type Request struct {
	mu         sync.RWMutex
	id         ID
	typ        Type
	status     Status
	realm      string
	serviced   bool
	attributes Attributes
	created    time.Time
	modified   time.Time
}

func New(id ID, typ Type) *Request {
	now := time.Now()
	return &Request{
		id:         id,
		typ:        typ,
		status:     StatusBegin,
		attributes: make(Attributes),
		created:    now,
		modified:   now,
	}
}

func (r *Request) ID() ID {
	return r.id
}

func (r *Request) Type() Type {
	return r.typ
}

func (r *Request) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Request) SetStatus(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.modified = time.Now()
}

// CompareAndSetStatus sets the status to next only when the current
// status equals expected. Returns true if the status was changed.
func (r *Request) CompareAndSetStatus(expected, next Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != expected {
		return false
	}
	r.status = next
	r.modified = time.Now()
	return true
}

func (r *Request) Realm() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.realm
}

func (r *Request) SetRealm(realm string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realm = realm
}

func (r *Request) Serviced() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.serviced
}

func (r *Request) SetServiced(serviced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serviced = serviced
	r.modified = time.Now()
}

func (r *Request) Created() time.Time {
	return r.created
}

func (r *Request) Modified() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modified
}

// Attribute returns a copy of the named extension attribute
func (r *Request) Attribute(name string) (Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.attributes[name]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// StringAttribute returns the named attribute if it holds a String
func (r *Request) StringAttribute(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attributes.String(name)
}

// SetAttribute stores a copy of value under name, replacing any
// existing value.
func (r *Request) SetAttribute(name string, value Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attributes[name] = value.Clone()
	r.modified = time.Now()
}

func (r *Request) DeleteAttribute(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attributes, name)
	r.modified = time.Now()
}

// Attributes returns a deep copy of all extension attributes
func (r *Request) Attributes() Attributes {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attributes.Clone()
}

// IsProfileRequest reports whether the request was created by a
// certificate profile, identified by a non-empty profileId attribute.
func (r *Request) IsProfileRequest() bool {
	return r.StringAttribute(AttrProfileID) != ""
}
