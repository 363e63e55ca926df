// Package outbox stages domain events and outbox messages into the
// ambient unit of work and drains committed messages to external brokers
// with at-least-once delivery.
package outbox

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// keyNamespace is the fixed UUID namespace for name-based idempotency
// keys. It must never change: keys are only stable across deployments
// while the namespace and the input encoding stay fixed.
var keyNamespace = uuid.MustParse("9b1e6f04-2a77-4c43-8a44-5d2f3f9c2e61")

// keyPartSeparator delimits key parts. Business identifiers never contain
// control characters, so the encoding is unambiguous.
const keyPartSeparator = "\x1f"

// IdempotencyKey derives a deterministic identifier from stable business
// inputs. Identical inputs always produce a byte-identical key, so a
// retried operation collapses onto the already-staged outbox row and an
// at-least-once consumer can de-duplicate.
func IdempotencyKey(tenantID, category, entityID, kind string, version int, correlation string) string {
	canonical := strings.Join([]string{
		tenantID,
		category,
		entityID,
		kind,
		strconv.Itoa(version),
		correlation,
	}, keyPartSeparator)

	return uuid.NewSHA1(keyNamespace, []byte(canonical)).String()
}
