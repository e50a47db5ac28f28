// Package broadcast delivers scheduled announcements to guild channels.
//
// Posts go through a bounded queue drained by a small worker pool. Each send
// is rate limited, retried with jittered backoff, and optionally deduplicated
// by key. Dedup keys are persisted through storage so a restart inside the
// window does not post the same daily challenge twice.
package broadcast
