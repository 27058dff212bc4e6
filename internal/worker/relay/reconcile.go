package relay

import (
	"time"

	"github.com/hitoshi/holmirdas/internal/model"
)

// Reconcile は読み込んだ転送ログと新たに発見したURLを統合し、重複のない作業リストを返す。
//
// 出力は読み込み済みエントリ（元の順序）に続いて、未知のURLの新規Todoエントリ
// （discoveredの順序）を並べたものになる。discoveredは古い順で渡すこと。
// 処理が途中で打ち切られた場合に古い記事が優先されるようにするため。
//
// 両方に存在するURLは読み込み済みエントリを優先し、状態と試行回数を保持する。
// 再発見によってDone/GiveUp/RetryのエントリがTodoに戻ることはない。
// 入力のスライスは変更しない。
func Reconcile(loaded []model.LogEntry, discovered []string, now time.Time) []model.LogEntry {
	seen := make(map[string]struct{}, len(loaded)+len(discovered))
	merged := make([]model.LogEntry, 0, len(loaded)+len(discovered))

	for _, e := range loaded {
		if _, dup := seen[e.PostURL]; dup {
			continue
		}
		seen[e.PostURL] = struct{}{}
		merged = append(merged, e)
	}

	for _, u := range discovered {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		merged = append(merged, model.NewLogEntry(u, now))
	}

	return merged
}
