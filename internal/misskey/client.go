// Package misskey はMisskeyインスタンスへの投稿転送を提供する。
// ap/show エンドポイントにリモート投稿のURLを渡し、インスタンスに取り込ませる。
package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/holmirdas/internal/model"
)

// showPath はリモートオブジェクト取り込みAPIのパス。
const showPath = "api/ap/show"

// maxErrorBody はエラーレスポンスからログに残す最大バイト数。
const maxErrorBody = 512

// Client はMisskey APIのクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	instanceURL string
	token       string
}

// NewClient はClientの新しいインスタンスを生成する。
// instanceURLはインスタンスのベースURL（例: https://misskey.example/）。
func NewClient(httpClient *http.Client, logger *slog.Logger, instanceURL, token string) *Client {
	if !strings.HasSuffix(instanceURL, "/") {
		instanceURL += "/"
	}
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		instanceURL: instanceURL,
		token:       token,
	}
}

// showRequest は ap/show のリクエストボディ。
type showRequest struct {
	I   string `json:"i"`
	URI string `json:"uri"`
}

// Forward は投稿URLをインスタンスに取り込ませる。
// 429の場合はmodel.ErrRateLimitedをラップしたエラーを返す。
// 成功時のレスポンスボディは解釈しない。
func (c *Client) Forward(ctx context.Context, postURL string) error {
	body, err := json.Marshal(showRequest{I: c.token, URI: postURL})
	if err != nil {
		return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.instanceURL+showPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "HolMirDas/1.0 (+feed relay)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("ap/show の呼び出しに失敗しました",
			slog.String("post_url", postURL),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ap/show の呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("ap/show がステータス %d を返しました: %w", resp.StatusCode, model.ErrRateLimited)

	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("ap/show がエラーステータスを返しました",
			slog.String("post_url", postURL),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(detail)),
		)
		return fmt.Errorf("ap/show がステータス %d を返しました", resp.StatusCode)
	}
}
