package relay

import "github.com/hitoshi/holmirdas/internal/model"

// TrimPolicy は転送ログが上限を超えたときの削除方針。
type TrimPolicy int

const (
	// TrimEvictOldest はDone、GiveUpの順に削除し、それでも上限を超える場合は
	// 状態に関係なく先頭（最も古い）エントリを削除する。
	// 終端状態のエントリが少ないまま上限を超え続けると、未完了のTodo/Retryも失われる。
	TrimEvictOldest TrimPolicy = iota
	// TrimKeepPending はDone、GiveUpのみを削除する。
	// 未完了のエントリは失わず、その代わりログが上限を超えることを許容する。
	TrimKeepPending
)

// String はログ出力用の名前を返す。
func (p TrimPolicy) String() string {
	switch p {
	case TrimKeepPending:
		return "keep_pending"
	default:
		return "evict_oldest"
	}
}

// Trim はエントリ数がmaxEntries以下になるまで1件ずつ削除した結果を返す。
// 削除の優先順位は Done → GiveUp → 先頭のエントリ（TrimEvictOldestの場合のみ）。
// 同じ優先度のエントリが複数ある場合はリスト上で最も前にあるものを削除する。
// maxEntriesが0以下の場合は削除しない。
func Trim(entries []model.LogEntry, maxEntries int, policy TrimPolicy) []model.LogEntry {
	if maxEntries <= 0 || len(entries) <= maxEntries {
		return entries
	}

	excess := len(entries) - maxEntries
	removed := make([]bool, len(entries))

	for _, state := range []model.EntryState{model.StateDone, model.StateGiveUp} {
		for i, e := range entries {
			if excess == 0 {
				break
			}
			if !removed[i] && e.State == state {
				removed[i] = true
				excess--
			}
		}
	}

	if policy == TrimEvictOldest {
		for i := range entries {
			if excess == 0 {
				break
			}
			if !removed[i] {
				removed[i] = true
				excess--
			}
		}
	}

	kept := make([]model.LogEntry, 0, len(entries))
	for i, e := range entries {
		if !removed[i] {
			kept = append(kept, e)
		}
	}
	return kept
}
