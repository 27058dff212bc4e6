// Package logstore は転送ログのスナップショットファイルの読み書きを提供する。
// スナップショットはLogEntryのJSON配列で、実行のたびに全体を書き換える。
package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hitoshi/holmirdas/internal/model"
)

// Store は単一パスのスナップショットファイルを扱う。
// 同じパスに対する同時実行は想定しない（プロセス間ロックは行わない）。
type Store struct {
	path string
}

// New はStoreの新しいインスタンスを生成する。
func New(path string) *Store {
	return &Store{path: path}
}

// Path はスナップショットファイルのパスを返す。
func (s *Store) Path() string {
	return s.path
}

// Load はスナップショットを読み込む。
// ファイルが存在しない場合は空のスナップショットを作成して空のログを返す。
// ファイルが解析できない場合はmodel.ErrCorruptedLogをラップしたエラーを返し、
// ファイルには触れない（手動復旧のために残す）。
func (s *Store) Load(ctx context.Context) ([]model.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			entries := []model.LogEntry{}
			if err := s.Save(ctx, entries); err != nil {
				return nil, fmt.Errorf("空の転送ログの作成に失敗: %w", err)
			}
			return entries, nil
		}
		return nil, fmt.Errorf("転送ログの読み込みに失敗: %w", err)
	}

	var entries []model.LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCorruptedLog, s.path, err)
	}
	if entries == nil {
		// "null" は空のログとして扱う
		entries = []model.LogEntry{}
	}

	for i, e := range entries {
		if e.PostURL == "" {
			return nil, fmt.Errorf("%w: %s: %d件目のpostUrlが空です", model.ErrCorruptedLog, s.path, i+1)
		}
		if !e.State.Valid() {
			return nil, fmt.Errorf("%w: %s: %d件目の状態 %q は不明です", model.ErrCorruptedLog, s.path, i+1, e.State)
		}
		if e.Tries < 0 {
			return nil, fmt.Errorf("%w: %s: %d件目のtriesが負です", model.ErrCorruptedLog, s.path, i+1)
		}
	}

	return entries, nil
}

// Save はスナップショットを与えられたエントリで全体ごと上書きする。
// 同じディレクトリの一時ファイルに書き込んでからリネームするため、
// 読み手が書き込み途中のファイルを完全なスナップショットと誤認することはない。
func (s *Store) Save(ctx context.Context, entries []model.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("転送ログのエンコードに失敗: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("転送ログのディレクトリ作成に失敗: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("転送ログの書き込みに失敗: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
