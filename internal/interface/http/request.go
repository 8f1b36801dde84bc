package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// requestID - id, выданный withRequestID, или "".
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// clientIP: первый адрес X-Forwarded-For, затем X-Real-IP, затем сокет.
// Бот стоит за reverse proxy, который эти заголовки перезаписывает.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// redactPath прячет секрет webhook в логах.
func redactPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "/webhook/telegram/"); ok && rest != "" {
		return "/webhook/telegram/***"
	}
	return path
}

func queryInt(r *http.Request, key string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return n
	}
	return def
}

// queryBool: true, 1 или yes.
func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
