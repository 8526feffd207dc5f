package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go-wiki-collab/internal/logger"
	"go-wiki-collab/internal/view"
)

// AppError represents a custom error type for the application.
type AppError struct {
	Error   error
	Message string
	Code    int
}

// AppHandler is a custom handler function type that returns an AppError.
type AppHandler func(http.ResponseWriter, *http.Request) *AppError

// Error is a middleware that converts handler errors into user-friendly
// error pages, or JSON envelopes on the API surface.
func Error(log logger.Logger, view *view.View) func(AppHandler) http.Handler {
	return func(next AppHandler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err, ok := rec.(error)
					if !ok {
						err = fmt.Errorf("%v", rec)
					}
					log.Error(err, "Panic recovered")
					writeError(w, r, view, http.StatusInternalServerError, "Internal Server Error")
				}
			}()

			err := next(w, r)
			if err != nil {
				log.Error(err.Error, err.Message)
				writeError(w, r, view, err.Code, err.Message)
			}
		})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, v *view.View, code int, message string) {
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"message": message,
		})
		return
	}

	data := map[string]interface{}{
		"StatusCode": code,
		"StatusText": message,
	}
	w.WriteHeader(code)
	v.Render(w, r, "error.html", data)
}

// wantsJSON reports whether the request belongs to the JSON API surface.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	p := r.URL.Path
	return strings.HasPrefix(p, "/pages/") ||
		strings.HasPrefix(p, "/drafts") ||
		p == "/lock" || p == "/unlock"
}
