// Package feed はRSS/Atomフィードから投稿URLを取得する機能を提供する。
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// SourceConfig はSourceの設定パラメータ。
type SourceConfig struct {
	// Timeout はフィード1件あたりのHTTPタイムアウト。
	Timeout time.Duration
	// MaxBodySize はレスポンスボディの最大サイズ（バイト）。
	MaxBodySize int64
	// Interval はフィード間のリクエスト最小間隔。0以下なら待機しない。
	Interval time.Duration
}

// Source はフィードを取得し、投稿URLを古い順に返す。
// フィードへのリクエストはrate.Limiterで間隔を空けて行う。
type Source struct {
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	limiter     *rate.Limiter
	timeout     time.Duration
	maxBodySize int64
}

// NewSource はSourceの新しいインスタンスを生成する。
func NewSource(ssrfGuard SSRFValidator, logger *slog.Logger, cfg SourceConfig) *Source {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Source{
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		limiter:     rate.NewLimiter(limit, 1),
		timeout:     cfg.Timeout,
		maxBodySize: cfg.MaxBodySize,
	}
}

// PostURLs はフィードを取得してパースし、各記事の投稿URLを古い順に返す。
// HTTPエラーやパース失敗はエラーとして返す（呼び出し元で継続を判断する）。
func (s *Source) PostURLs(ctx context.Context, feedURL string) ([]string, error) {
	if err := s.ssrfGuard.ValidateURL(feedURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	client := s.ssrfGuard.NewSafeClient(s.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "HolMirDas/1.0 (+feed relay)")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("フィードがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	// リダイレクト後の最終URLを相対リンクの基準にする
	urls := ChronologicalPostURLs(resp.Request.URL, parsed.Items)

	s.logger.Debug("フィードをパースしました",
		slog.String("feed_url", feedURL),
		slog.String("feed_title", parsed.Title),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("items_count", len(urls)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return urls, nil
}

// ChronologicalPostURLs はgofeedの記事から投稿URLを取り出し、古い順に並べて返す。
//
// フィードは通常新しい順に並んでいるため、まず文書順を反転する。
// 全記事に公開日時（なければ更新日時）がある場合はさらに日時で安定ソートする。
// 投稿URLはLinkを使い、Linkがなくhttp(s)形式のGUIDがあればGUIDを使う。
// 相対リンクはbaseで解決し、解決後も絶対http(s)URLでない記事は除く。
// baseがnilの場合は絶対URLのみを採用する。
func ChronologicalPostURLs(base *url.URL, items []*gofeed.Item) []string {
	type dated struct {
		url string
		at  *time.Time
	}

	candidates := make([]dated, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item == nil {
			continue
		}
		u := postURL(base, item)
		if u == "" {
			continue
		}
		at := item.PublishedParsed
		if at == nil {
			at = item.UpdatedParsed
		}
		candidates = append(candidates, dated{url: u, at: at})
	}

	allDated := true
	for _, c := range candidates {
		if c.at == nil {
			allDated = false
			break
		}
	}
	if allDated {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].at.Before(*candidates[j].at)
		})
	}

	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		urls = append(urls, c.url)
	}
	return urls
}

func postURL(base *url.URL, item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return absoluteURL(base, link)
	}
	// GUIDは識別子なので相対解決しない
	return absoluteURL(nil, strings.TrimSpace(item.GUID))
}

// absoluteURL はrawをbaseで解決し、絶対http(s)URLなら文字列で返す。
func absoluteURL(base *url.URL, raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}
