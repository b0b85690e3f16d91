package domain

import "time"

// AuditEntry is an immutable record of one action taken on (or around) a
// stream. Append-only; display ordering is creation time descending.
type AuditEntry struct {
	ID        string         `json:"id"`
	StreamID  string         `json:"streamId"`
	Type      string         `json:"type"` // free-form action tag: pause, resume, cancel, withdraw, claim, reject, ...
	Message   string         `json:"message"`
	Signature string         `json:"signature,omitempty"` // optional external-ledger transaction signature
	Actor     string         `json:"actor,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"` // opaque nested key/value metadata
	Created   time.Time      `json:"created"`
}
