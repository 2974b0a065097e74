package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"docvault-service/config"
)

// NewRouter はルーターを生成する。
func NewRouter(kh *KeyHandler, fh *FileHandler, gh *GrantHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// ルート定義
	r.Route("/v1/orgs/{org_id}", func(r chi.Router) {
		r.Post("/keys", kh.CreateKey)
		r.Post("/keys/rotate", kh.RotateKey)
		r.Get("/keys/active", kh.GetActiveKey)
		r.Get("/keys/{key_version}", kh.GetKeyByVersion)
		r.Get("/encryption", kh.GetEncryptionStatus)

		r.Post("/grants", gh.Grant)
		r.Get("/grants", gh.List)
		r.Get("/grants/effective", gh.GetEffective)
	})
	r.Route("/v1/files/{file_id}", func(r chi.Router) {
		r.Post("/encryption", fh.RecordEncryption)
		r.Get("/encryption", fh.GetMetadata)
	})
	r.Post("/v1/grants/{grant_id}/revoke", gh.Revoke)

	if cfg.OtelEnabled {
		return otelhttp.NewHandler(r, "docvault-service")
	}
	return r
}
