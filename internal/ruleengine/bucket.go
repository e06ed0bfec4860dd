package ruleengine

import (
	"crypto/sha256"
	"encoding/binary"
)

// emptySubjectBucket is returned when no subject identifier can be resolved.
// Bucket 100 only clears a percentage threshold at 100%, so anonymous
// callers are excluded from partial rollouts by construction.
const emptySubjectBucket = 100

// Bucket maps (flagKey, subjectID) to a stable integer in [1, 100].
//
// The digest must be stable across processes, architectures, and restarts,
// since different instances evaluating the same subject have to agree on
// the rollout decision. SHA-256 gives that plus uniform distribution; the
// first 32 bits of the digest are reduced modulo 100.
func Bucket(flagKey, subjectID string) int {
	if subjectID == "" {
		return emptySubjectBucket
	}

	h := sha256.New()
	h.Write([]byte(flagKey))
	h.Write([]byte(":"))
	h.Write([]byte(subjectID))

	digest := h.Sum(nil)
	return int(binary.BigEndian.Uint32(digest[:4])%100) + 1
}

// SubjectID resolves the identifier used for bucketing from an evaluation
// context. The first non-empty field wins: explicit target id, user id,
// session id, tenant id, account id, trace id. An empty string means the
// context is anonymous.
func SubjectID(ctx Context) string {
	for _, candidate := range []string{
		ctx.TargetID,
		ctx.UserID,
		ctx.SessionID,
		ctx.TenantID,
		ctx.AccountID,
		ctx.TraceID,
	} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
