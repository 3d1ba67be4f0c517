package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/openadex/salesagent/pkg/contracts"
)

// ReservationAdapter models a backend whose platform requires manual
// review on its side: Execute parks the action behind a tracking token
// and answers Pending until the platform confirms or declines. The
// orchestrator re-invokes Execute with the same idempotency key after
// approval; a still-undecided reservation returns the same token.
type ReservationAdapter struct {
	mu           sync.Mutex
	reservations map[string]*reservation
}

type reservation struct {
	token    string
	order    *contracts.Order
	decided  bool
	approved bool
}

// NewReservationAdapter creates the adapter with no open reservations.
func NewReservationAdapter() *ReservationAdapter {
	return &ReservationAdapter{reservations: make(map[string]*reservation)}
}

func (a *ReservationAdapter) Name() string { return "reservation" }

func (a *ReservationAdapter) Execute(ctx context.Context, req ExecuteRequest) (ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecutionResult{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.reservations[req.IdempotencyKey]
	if !ok {
		r = &reservation{
			token: "rsv-" + shortHash(req.IdempotencyKey),
			order: req.Order,
		}
		a.reservations[req.IdempotencyKey] = r
	}

	if !r.decided {
		return Park(r.token), nil
	}
	if !r.approved {
		return Reject("", "reservation declined by backend platform"), nil
	}

	lineIDs := make(map[string]string, len(r.order.Packages))
	for _, pkg := range r.order.Packages {
		lineIDs[pkg.ID] = "rsv-line-" + shortHash(req.IdempotencyKey+":"+pkg.ID)
	}
	return Confirm(Confirmation{
		BackendOrderID: "rsv-order-" + shortHash(req.IdempotencyKey+":order"),
		LineIDs:        lineIDs,
		EffectiveState: "reserved",
	}), nil
}

// ResolveToken records the platform's decision for the reservation
// holding the given tracking token. In production this is driven by
// the backend's callback or a polling loop; tests drive it directly.
func (a *ReservationAdapter) ResolveToken(token string, approved bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.reservations {
		if r.token == token {
			r.decided = true
			r.approved = approved
			return nil
		}
	}
	return fmt.Errorf("adapters: unknown tracking token %q", token)
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}
