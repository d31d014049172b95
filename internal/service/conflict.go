package service

import (
	"github.com/medisync/medisync-go/internal/crypto"
	"github.com/medisync/medisync-go/internal/model"
)

// detection is the outcome of comparing an incoming change against the
// server's cache baseline.
type detection int

const (
	// detectApply: no disagreement, apply through the registry.
	detectApply detection = iota
	// detectIdempotent: payload is byte-identical to the baseline;
	// acknowledge without touching registry or cache version.
	detectIdempotent
	// detectConflict: the client edited a stale version.
	detectConflict
)

// detectChange implements the conflict check. The version counter is
// the canonical mechanism; the content hash only short-circuits exact
// resubmissions of already-applied payloads.
//
// CREATE never conflicts: there is no prior state to disagree with. A
// missing or tombstoned baseline means the server has nothing newer,
// so the change applies directly.
func detectChange(baseline *model.OfflineCacheEntry, e *model.SyncQueueEntry) detection {
	if e.Operation == model.OpCreate {
		return detectApply
	}
	if baseline == nil || baseline.IsDeleted {
		return detectApply
	}

	if len(e.Payload) > 0 && crypto.HashRecord(baseline.Data) == crypto.HashRecord(e.Payload) {
		return detectIdempotent
	}

	if e.Payload.Version() < baseline.Version {
		return detectConflict
	}
	return detectApply
}

// mergeCriticalFields builds the automatic resolution payload for an
// UPDATE conflict: every critical field takes the server's value, all
// other fields take the client's. The client's stale version counter
// is replaced by the server's so the merged payload passes detection
// on re-apply.
func mergeCriticalFields(server, client model.Payload, critical []string) model.Payload {
	merged := make(model.Payload, len(client)+len(critical))
	for k, v := range client {
		merged[k] = v
	}
	for _, field := range critical {
		if v, ok := server[field]; ok {
			merged[field] = v
		}
	}
	if v, ok := server["version"]; ok {
		merged["version"] = v
	}
	return merged
}

// criticalFieldsDiffer reports whether any critical field disagrees
// between the server and client snapshots. A disagreement on a
// critical field means the automatic merge would have to discard a
// deliberate client edit, so the conflict is left for a human instead.
// The version counter is compared separately and ignored here.
func criticalFieldsDiffer(server, client model.Payload, critical []string) bool {
	for _, field := range critical {
		if field == "version" {
			continue
		}
		sv, sok := server[field]
		cv, cok := client[field]
		if sok != cok {
			return true
		}
		if sok && !valuesEqual(sv, cv) {
			return true
		}
	}
	return false
}

// valuesEqual compares two payload values through the canonical form,
// so 2 and 2.0 agree the way they do after a JSON round trip.
func valuesEqual(a, b any) bool {
	return crypto.HashRecord(model.Payload{"v": a}) == crypto.HashRecord(model.Payload{"v": b})
}
