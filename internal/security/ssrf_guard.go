// Package security はフィード取得時のSSRF防止を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrBlockedURL は取得を許可しないURLであることを示す。
var ErrBlockedURL = errors.New("blocked url")

// defaultPorts はフィード取得で許可するポート。
var defaultPorts = []int{80, 443}

// allowedSchemes は許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は静的検証で拒否するアドレス範囲。
// DNS解決後のIPはsafeurlのDialerで検証される。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	// クラウドメタデータ (169.254.169.254) を含む
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

var blockedHostnames = []string{"localhost", "localhost.localdomain"}

// Guard はフィードURLの検証とSSRF防止付きHTTPクライアントの生成を行う。
// feed.SSRFValidatorを満たす。
type Guard struct {
	ports []int
}

// Option はGuardの設定を変更する。
type Option func(*Guard)

// WithPorts は許可するポートを置き換える。
func WithPorts(ports ...int) Option {
	return func(g *Guard) {
		g.ports = slices.Clone(ports)
	}
}

// NewGuard はGuardの新しいインスタンスを生成する。
func NewGuard(opts ...Option) *Guard {
	g := &Guard{ports: slices.Clone(defaultPorts)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// プライベート、ループバック、リンクローカルへの接続はDNS解決後に拒否される。
func (g *Guard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// 拒否した場合はErrBlockedURLをラップしたエラーを返す。
func (g *Guard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty URL", ErrBlockedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("%w: scheme %q", ErrBlockedURL, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedURL)
	}

	if port := parsed.Port(); port != "" && !g.portAllowed(port) {
		return fmt.Errorf("%w: port %s", ErrBlockedURL, port)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("%w: address %s", ErrBlockedURL, addr)
			}
		}
		return nil
	}

	if slices.Contains(blockedHostnames, strings.ToLower(host)) {
		return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
	}
	return nil
}

// ValidateAll は複数のURLを検証し、拒否されたものをまとめて返す。
// 起動時に設定値の誤りを早期に知らせるために使う。
func (g *Guard) ValidateAll(rawURLs []string) error {
	var errs []error
	for _, u := range rawURLs {
		if err := g.ValidateURL(u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

func (g *Guard) portAllowed(port string) bool {
	for _, p := range g.ports {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}
