// Command holmirdas はハッシュタグフィードの投稿をMisskeyインスタンスに取り込ませる。
//
//	holmirdas [run]        転送処理を1回実行して終了する
//	holmirdas worker       RUN_INTERVALごとに転送処理を実行する
//	holmirdas healthcheck  ワーカーの /health を確認する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/holmirdas/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
