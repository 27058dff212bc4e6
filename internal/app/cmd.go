package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandRun は転送処理を1回実行して終了することを示す。
	// cronやsystemdタイマーからの起動を想定する。
	CommandRun Command = "run"
	// CommandWorker は常駐し、一定間隔で転送処理を実行することを示す。
	CommandWorker Command = "worker"
	// CommandHealthcheck はワーカーの /health を確認することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandRunを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandRun
	}

	switch Command(args[0]) {
	case CommandWorker:
		return CommandWorker
	case CommandHealthcheck:
		return CommandHealthcheck
	default:
		return CommandRun
	}
}
