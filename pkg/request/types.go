package request

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRequestNotFound = errors.New("request: request not found")
	ErrInvalidStatus   = errors.New("request: invalid request status")
	ErrInvalidType     = errors.New("request: invalid request type")
	ErrInvalidKind     = errors.New("request: invalid attribute kind")
)

// ID uniquely identifies a request for its entire lifetime
type ID string

func (id ID) String() string {
	return string(id)
}

// Type is the PKI operation a request performs
type Type string

const (
	TypeEnrollment           Type = "enrollment"
	TypeRenewal              Type = "renewal"
	TypeRevocation           Type = "revocation"
	TypeUnrevocation         Type = "unrevocation"
	TypeGetRevocationInfo    Type = "getRevocationInfo"
	TypeGetCAChain           Type = "getCAChain"
	TypeGetCRL               Type = "getCRL"
	TypeGetCertificates      Type = "getCertificates"
	TypeGetCertsForChallenge Type = "getCertsForChallenge"
	TypeCert4CRL             Type = "cert4crl"
	TypeUncert4CRL           Type = "uncert4crl"
)

var types = []Type{
	TypeEnrollment,
	TypeRenewal,
	TypeRevocation,
	TypeUnrevocation,
	TypeGetRevocationInfo,
	TypeGetCAChain,
	TypeGetCRL,
	TypeGetCertificates,
	TypeGetCertsForChallenge,
	TypeCert4CRL,
	TypeUncert4CRL,
}

func (t Type) String() string {
	return string(t)
}

// Disposable reports whether requests of this type are one-shot
// queries that are never queued for resend.
func (t Type) Disposable() bool {
	return t == TypeGetRevocationInfo
}

// Parses a request type name. Names are matched case insensitively
// since configuration keys are lowercased when loaded.
func ParseType(t string) (Type, error) {
	for _, known := range types {
		if strings.EqualFold(string(known), t) {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidType, t)
}

// Status is the position of a request in its processing lifecycle
type Status string

const (
	StatusBegin      Status = "begin"
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusSvcPending Status = "svc_pending"
	StatusCanceled   Status = "canceled"
	StatusRejected   Status = "rejected"
	StatusComplete   Status = "complete"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further processing is warranted
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// InProgress reports whether the status is one of the
// recognized non-terminal states
func (s Status) InProgress() bool {
	switch s {
	case StatusBegin, StatusPending, StatusSvcPending, StatusApproved:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if status.Terminal() || status.InProgress() {
		return status, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidStatus, s)
}
