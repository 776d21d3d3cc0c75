package main

import (
	"net/http"

	"github.com/renderloop/backend/internal/auth"
	"github.com/renderloop/backend/internal/handlers"
)

// RegisterRoutes adds every endpoint to the given mux. The generation API
// accepts both session tokens and access keys through the auth middleware;
// the provider webhook is deliberately unauthenticated.
func RegisterRoutes(
	mux *http.ServeMux,
	authMW func(http.Handler) http.Handler,
	authHandler *auth.Handler,
	genHandler *handlers.GenerationHandler,
	webhookHandler *handlers.WebhookHandler,
	accountHandler *handlers.AccountHandler,
	keyHandler *handlers.ProviderKeyHandler,
) {
	// Session bootstrap
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Generation API
	mux.Handle("POST /v1/generations", authMW(http.HandlerFunc(genHandler.Create)))
	mux.Handle("GET /v1/generations/{id}", authMW(http.HandlerFunc(genHandler.Get)))
	mux.Handle("GET /v1/generations", authMW(http.HandlerFunc(genHandler.List)))

	// Provider callback
	mux.HandleFunc("POST /v1/webhooks/provider", webhookHandler.Receive)

	// Account dashboard
	mux.Handle("GET /api/v1/account/me", authMW(http.HandlerFunc(accountHandler.GetMe)))
	mux.Handle("GET /api/v1/credit-ledger", authMW(http.HandlerFunc(accountHandler.ListCreditEntries)))
	mux.Handle("POST /api/v1/access-keys", authMW(http.HandlerFunc(accountHandler.CreateAccessKey)))
	mux.Handle("POST /api/v1/access-keys/{id}/revoke", authMW(http.HandlerFunc(accountHandler.RevokeAccessKey)))

	// Provider key administration
	mux.Handle("POST /api/v1/provider-keys", authMW(http.HandlerFunc(keyHandler.Create)))
	mux.Handle("GET /api/v1/provider-keys", authMW(http.HandlerFunc(keyHandler.List)))
	mux.Handle("POST /api/v1/provider-keys/{id}/activate", authMW(keyHandler.SetActive(true)))
	mux.Handle("POST /api/v1/provider-keys/{id}/deactivate", authMW(keyHandler.SetActive(false)))
}
