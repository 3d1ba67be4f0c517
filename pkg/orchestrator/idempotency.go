package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/openadex/salesagent/pkg/contracts"
)

// IdempotencyKey derives the adapter idempotency key for one
// orchestrated action: SHA-256 over the RFC 8785 canonical JSON of
// (tenant, object, action). Canonicalization makes the key stable
// across processes and field-order changes, so a crash-retry replays
// the same backend call.
func IdempotencyKey(tenantID string, objectType contracts.ObjectType, objectID string, action contracts.StepKind) (string, error) {
	raw, err := json.Marshal(map[string]string{
		"tenant": tenantID,
		"object": string(objectType) + "/" + objectID,
		"action": string(action),
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: marshal idempotency seed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("orchestrator: canonicalize idempotency seed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
