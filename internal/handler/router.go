// Package handler はワーカーモードで公開する運用エンドポイントを提供する。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/holmirdas/internal/middleware"
	"github.com/hitoshi/holmirdas/internal/worker/relay"
)

// StatusProvider は直近の実行状況を返すインターフェース。
type StatusProvider interface {
	Snapshot() relay.StatusSnapshot
}

// OpsDeps はNewOpsRouterに必要な依存関係をまとめた構造体。
type OpsDeps struct {
	Status  StatusProvider
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewOpsRouter は運用エンドポイントのルーティングを構成したchi.Routerを返す。
//
//	GET /health  プロセスの生存確認（healthcheckサブコマンドが使用）
//	GET /status  直近の転送処理の結果
//	GET /metrics Prometheusスクレイプ
func NewOpsRouter(deps OpsDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logging(deps.Logger, "/health", "/metrics"))

	h := &opsHandler{status: deps.Status}
	r.Get("/health", h.Health)
	r.Get("/status", h.RunStatus)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}

type opsHandler struct {
	status StatusProvider
}

type healthResponse struct {
	Status string `json:"status"`
	Runs   int    `json:"runs"`
}

// Health は生存確認に200を返す。
func (h *opsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Runs:   h.status.Snapshot().Runs,
	})
}

// RunStatus は直近の実行結果を返す。
func (h *opsHandler) RunStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
