package model

import "errors"

// ErrCorruptedLog は永続化された転送ログが解析できないことを示す。
// このエラーが返った場合、実行は中断し既存ファイルには一切書き込まない。
var ErrCorruptedLog = errors.New("転送ログが破損しています")

// ErrRateLimited は転送先が too many requests を返したことを示す。
// Forwarderはこのエラーをラップして返し、ディスパッチャは実行を早期終了する。
var ErrRateLimited = errors.New("転送先のレート制限に達しました")
