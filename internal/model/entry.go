// Package model はドメインモデルを定義する。
package model

import "time"

// EntryState は転送ログエントリの処理状態を表す。
type EntryState string

const (
	// StateTodo は未試行、またはレート制限で差し戻された状態。
	StateTodo EntryState = "Todo"
	// StateRetry は1回以上失敗し、まだ再試行の余地がある状態。
	StateRetry EntryState = "Retry"
	// StateDone は転送に成功した終端状態。
	StateDone EntryState = "Done"
	// StateGiveUp は再試行上限に達した終端状態。
	StateGiveUp EntryState = "GiveUp"
)

// IsTerminal は終端状態（Done/GiveUp）かどうかを返す。
// 終端状態のエントリは以後のどの実行でも再転送されない。
func (s EntryState) IsTerminal() bool {
	return s == StateDone || s == StateGiveUp
}

// Valid は定義済みの状態タグかどうかを返す。
func (s EntryState) Valid() bool {
	switch s {
	case StateTodo, StateRetry, StateDone, StateGiveUp:
		return true
	default:
		return false
	}
}

// LogEntry は追跡中の投稿URL1件と、その転送の進捗を表す。
// PostURLがログ全体で一意なキーとなる。
//
// LogEntryは値として扱い、状態遷移のたびに新しい値を生成して
// コレクション内の同じキーの要素を置き換える。FirstSeenAtは生成後に変更しない。
type LogEntry struct {
	PostURL     string     `json:"postUrl"`
	State       EntryState `json:"state"`
	Tries       int        `json:"tries"`
	FirstSeenAt time.Time  `json:"firstSeenAt"`
}

// NewLogEntry は新規発見したURLのTodoエントリを生成する。
func NewLogEntry(postURL string, now time.Time) LogEntry {
	return LogEntry{
		PostURL:     postURL,
		State:       StateTodo,
		Tries:       0,
		FirstSeenAt: now,
	}
}

// Succeeded は転送成功後のエントリを返す。
func (e LogEntry) Succeeded() LogEntry {
	e.State = StateDone
	return e
}

// Failed は一般的な転送失敗後のエントリを返す。
// 試行回数を1増やし、maxRetries未満ならRetry、そうでなければGiveUpとする。
func (e LogEntry) Failed(maxRetries int) LogEntry {
	e.Tries++
	if e.Tries < maxRetries {
		e.State = StateRetry
	} else {
		e.State = StateGiveUp
	}
	return e
}

// RateLimited はレート制限を受けた後のエントリを返す。
// 試行回数は消費せず、Todoに戻す。
func (e LogEntry) RateLimited() LogEntry {
	e.State = StateTodo
	return e
}
