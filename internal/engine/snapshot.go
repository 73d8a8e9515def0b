package engine

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// Snapshot is the read-only projection of a mutation handed to
// observers. Snapshots are built fresh for every notification and
// share no mutable references with the internal mutation - observers
// may freeze or retain them.
type Snapshot struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	Label     string    `json:"label"`
	Status    Status    `json:"status"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`

	// PatchCount totals forward patches across all touched stores.
	PatchCount int `json:"patch_count"`

	// AffectedPaths is the sorted union of coarse entity paths.
	AffectedPaths []string `json:"affected_paths"`

	Retries    int `json:"retries"`
	MaxRetries int `json:"max_retries"`
}

// clone copies the snapshot with its own backing slices, so that
// observers never see one snapshot value twice across notifications.
func (s Snapshot) clone() Snapshot {
	out := s
	out.AffectedPaths = append([]string(nil), s.AffectedPaths...)
	return out
}

// snapshot projects the mutation's current state. Caller holds the
// queue mutex.
func (m *Mutation) snapshot() Snapshot {
	return Snapshot{
		ID:            m.id,
		Token:         m.token,
		Label:         normalizeLabel(m.label),
		Status:        m.status,
		Seq:           m.seq,
		CreatedAt:     m.createdAt,
		PatchCount:    m.patchCount(),
		AffectedPaths: m.paths.Slice(),
		Retries:       m.budget.Used(),
		MaxRetries:    m.budget.Max(),
	}
}

// normalizeLabel NFC-normalizes a label so that snapshots, logs, and
// golden files see one byte representation per visible string.
func normalizeLabel(label string) string {
	return norm.NFC.String(label)
}
