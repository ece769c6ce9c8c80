// Package withdrawals holds the withdrawal status snapshot a session builds
// from incremental query results, and the filter, sort and paging view over it.
package withdrawals

import (
	"fmt"
	"time"

	"evovault/core/identity"
)

// CreditsPerDash is the platform credit denomination of one DASH.
const CreditsPerDash uint64 = 100_000_000_000

// Record is a single withdrawal as reported by the platform.
type Record struct {
	DateTime time.Time           `json:"date_time"`
	Status   Status              `json:"status"`
	Amount   uint64              `json:"amount"`
	OwnerID  identity.Identifier `json:"owner_id"`
	Address  string              `json:"address"`
}

// Key identifies a withdrawal for de-duplication.
type Key struct {
	OwnerID  identity.Identifier
	UnixNano int64
	Amount   uint64
}

// Key returns the de-duplication key of r. Status and destination are not
// part of it, so a record re-reported with a newer status is a duplicate.
func (r Record) Key() Key {
	return Key{OwnerID: r.OwnerID, UnixNano: r.DateTime.UTC().UnixNano(), Amount: r.Amount}
}

// Snapshot is the aggregated withdrawal state held by a session.
type Snapshot struct {
	TotalAmount            uint64   `json:"total_amount"`
	RecentWithdrawalAmount uint64   `json:"recent_withdrawal_amount"`
	DailyWithdrawalLimit   uint64   `json:"daily_withdrawal_limit"`
	TotalCreditsOnPlatform uint64   `json:"total_credits_on_platform"`
	Withdrawals            []Record `json:"withdrawals"`
}

// PartialResult is one page of withdrawal status delivered by the query
// dispatcher. It has the same shape as a Snapshot.
type PartialResult Snapshot

// MergeStats reports the effect of a merge.
type MergeStats struct {
	Added      int
	Duplicates int
	Size       int
}

// Clone deep copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Withdrawals = append([]Record(nil), s.Withdrawals...)
	return out
}

// Merge folds p into s. Scalars are overwritten by p's values. Records are
// appended in arrival order unless their Key is already present; nothing is
// removed.
func (s *Snapshot) Merge(p PartialResult) MergeStats {
	s.TotalAmount = p.TotalAmount
	s.RecentWithdrawalAmount = p.RecentWithdrawalAmount
	s.DailyWithdrawalLimit = p.DailyWithdrawalLimit
	s.TotalCreditsOnPlatform = p.TotalCreditsOnPlatform

	seen := make(map[Key]struct{}, len(s.Withdrawals)+len(p.Withdrawals))
	for _, r := range s.Withdrawals {
		seen[r.Key()] = struct{}{}
	}
	var stats MergeStats
	for _, r := range p.Withdrawals {
		key := r.Key()
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		s.Withdrawals = append(s.Withdrawals, r)
		stats.Added++
	}
	stats.Size = len(s.Withdrawals)
	return stats
}

// FormatDash renders a credit amount as DASH with two decimals.
func FormatDash(credits uint64) string {
	return fmt.Sprintf("%.2f DASH", float64(credits)/float64(CreditsPerDash))
}
