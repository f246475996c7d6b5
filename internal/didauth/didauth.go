// Package didauth declares the two externally-consumed authentication
// interfaces the Gateway depends on: DID-WBA credential verification and
// DID-to-paths resolution. Concrete implementations are constructor-injected
// into the Gateway; this package never holds a process-wide singleton.
package didauth

import "context"

// Verifier checks a DID-WBA Authorization header against a service domain
// and returns the DID that signed it. Nonce/timestamp windowing is the
// verifier's own concern.
type Verifier interface {
	Verify(ctx context.Context, authorization, domain string) (did string, err error)
}

// PathOracle resolves a DID to the ordered set of path prefixes it has
// advertised. An empty slice means the DID has no registered services.
type PathOracle interface {
	PathsFor(ctx context.Context, did string) ([]string, error)
}

// HeaderSigner builds the DID-WBA Authorization header the Receiver sends
// when dialing the Gateway, signing a challenge derived from the request URL
// and the current timestamp with the local DID document's private key.
type HeaderSigner interface {
	SignRequest(ctx context.Context, requestURL string) (authorization string, err error)
}

// AllowList is the Gateway's additional filter: when non-empty, only DIDs
// present here are accepted even if Verifier succeeds.
type AllowList struct {
	allowed map[string]struct{}
}

// NewAllowList builds an allow list from a DID slice. A nil or empty slice
// means "no filtering" — Allows reports true for every DID.
func NewAllowList(dids []string) *AllowList {
	if len(dids) == 0 {
		return &AllowList{}
	}
	m := make(map[string]struct{}, len(dids))
	for _, d := range dids {
		m[d] = struct{}{}
	}
	return &AllowList{allowed: m}
}

// Allows reports whether did passes the filter.
func (a *AllowList) Allows(did string) bool {
	if a == nil || len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[did]
	return ok
}
