package middleware

import (
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/casbin/casbin/v2"
)

// Authorizer creates a new middleware for authorization.
// It resolves the actor from session data, attaches their info (subject,
// display name, roles) to the request context, and checks the route
// against the Casbin policy.
func Authorizer(e *casbin.Enforcer, sm *scs.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get the user's subject from the session.
			// If not present, it will be an empty string.
			subject := sm.GetString(r.Context(), "user_subject")
			if subject == "" {
				subject = "anonymous"
			}
			displayName := sm.GetString(r.Context(), "user_name")

			roles, err := e.GetImplicitRolesForUser(subject)
			if err != nil {
				http.Error(w, "Authorization error", http.StatusInternalServerError)
				return
			}

			// Add user info to the request context for downstream handlers.
			userInfo := &UserInfo{Subject: subject, DisplayName: displayName, Roles: roles}
			r = r.WithContext(SetUserInfo(r.Context(), userInfo))

			// Use Casbin to enforce the policy.
			allowed, err := e.Enforce(subject, r.URL.Path, r.Method)
			if err != nil {
				http.Error(w, "Authorization error", http.StatusInternalServerError)
				return
			}

			if !allowed {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
