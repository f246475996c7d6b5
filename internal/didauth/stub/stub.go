// Package stub provides trivial Verifier and PathOracle implementations for
// local development and tests, mirroring the project's stub-client idiom:
// no external dependency, deterministic behaviour, safe defaults.
package stub

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const (
	Name     = "stub-didauth"
	ShowName = "stub DID-WBA verifier and path oracle"
)

// Verifier trusts any Authorization header of the form "didwba <did>" and
// returns that DID verbatim. It never calls out to a network service.
type Verifier struct{}

func NewVerifier() *Verifier { return &Verifier{} }

func (v *Verifier) Verify(_ context.Context, authorization, _ string) (string, error) {
	const prefix = "didwba "
	if !strings.HasPrefix(authorization, prefix) {
		return "", errors.New("stub verifier: missing didwba scheme")
	}
	did := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	if did == "" {
		return "", errors.New("stub verifier: empty did")
	}
	return did, nil
}

// HeaderSigner emits the bare "didwba <did>" header the stub Verifier
// accepts. It pairs with Verifier for loopback runs only.
type HeaderSigner struct {
	DID string
}

func NewHeaderSigner(did string) *HeaderSigner { return &HeaderSigner{DID: did} }

func (s *HeaderSigner) SignRequest(_ context.Context, _ string) (string, error) {
	if s.DID == "" {
		return "", errors.New("stub signer: no did configured")
	}
	return "didwba " + s.DID, nil
}

// PathOracle is an in-memory DID→paths map, mutable through Register for
// tests and local runs; a real deployment wires in an oracle backed by the
// DID registry service instead.
type PathOracle struct {
	mu    sync.RWMutex
	paths map[string][]string
}

func NewPathOracle() *PathOracle {
	return &PathOracle{paths: make(map[string][]string)}
}

func (o *PathOracle) PathsFor(_ context.Context, did string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	paths := o.paths[did]
	out := make([]string, len(paths))
	copy(out, paths)
	return out, nil
}

// Register advertises paths for did, replacing any previous registration.
// Admin-only mutation: nothing on the request path calls this.
func (o *PathOracle) Register(did string, paths []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths[did] = append([]string(nil), paths...)
}
