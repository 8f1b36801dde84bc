// Package handlers holds the HTTP building blocks shared by the server:
// the JSON envelope, admin authentication, health checks, the Telegram
// webhook endpoint and reusable middleware.
package handlers
