package fireauth

import "sync"

// プロセス全体で共有するデフォルトクライアント。
// 初期化は冪等で、最初に成功した1回のみ有効になる。
var (
	defaultMu     sync.RWMutex
	defaultClient *Client
)

// Initialize はデフォルトクライアントを初期化して返す。
// すでに初期化済みの場合は設定を無視して既存のインスタンスを返す
// （「初期化済み」はエラーではなく成功として扱う）。
// 並行して呼び出された場合も全呼び出しが同一のインスタンスに収束する。
func Initialize(config Config) (*Client, error) {
	defaultMu.RLock()
	if defaultClient != nil {
		c := defaultClient
		defaultMu.RUnlock()
		return c, nil
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()

	// ダブルチェック: ロック待ちの間に別のゴルーチンが初期化済みの場合がある
	if defaultClient != nil {
		return defaultClient, nil
	}

	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}

	defaultClient = client
	return defaultClient, nil
}

// Default は初期化済みのデフォルトクライアントを返す。
// 未初期化の場合は(nil, false)を返す。
func Default() (*Client, bool) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultClient, defaultClient != nil
}

// ResetDefault はデフォルトクライアントを破棄する。テスト用。
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultClient = nil
}
