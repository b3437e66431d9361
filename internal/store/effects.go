package store

// EffectKind is the closed set of mutations a reducer decision can
// request against the materialized tables (§4.C).
type EffectKind string

const (
	EffectUpsertSession  EffectKind = "upsert_session"
	EffectMutateSession  EffectKind = "mutate_session"
	EffectDeleteSession  EffectKind = "delete_session"
	EffectCreateTombstone EffectKind = "create_tombstone"
	EffectClearTombstone  EffectKind = "clear_tombstone"
	EffectUpsertShell     EffectKind = "upsert_shell"
)

// Effect is one requested mutation. Exactly the fields relevant to Kind
// are populated; the reducer never touches the database directly, it only
// produces a slice of these (§4.C: "reduce(store_view, event) -> effects").
type Effect struct {
	Kind EffectKind

	Session   Session   // EffectUpsertSession, EffectMutateSession
	SessionID string    // EffectMutateSession, EffectDeleteSession, EffectCreateTombstone, EffectClearTombstone
	EndedAt   string    // EffectCreateTombstone
	Shell     Shell     // EffectUpsertShell

	// MutateFields restricts EffectMutateSession to only the listed
	// columns so a heartbeat-only event (e.g. a non-idle notification)
	// cannot clobber state set by a previous, unrelated effect.
	MutateFields []string
}
