package session

import (
	"context"
	"net/http"
)

// Manager abstracts the session store. The session is the source of the
// actor identity (subject and display name) that every coordination call
// receives explicitly; keeping it behind an interface lets handler tests
// swap in an in-memory fake.
type Manager interface {
	LoadAndSave(next http.Handler) http.Handler
	Put(ctx context.Context, key string, val interface{})
	GetString(ctx context.Context, key string) string
	PopString(ctx context.Context, key string) string
	Destroy(ctx context.Context) error
	Remove(ctx context.Context, key string)
}
