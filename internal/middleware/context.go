package middleware

import "context"

// contextKey defines a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey = contextKey("user")

// ModeratorRole is the role that grants the privileged coordination
// operations: breaking another user's lock and resolving conflicts.
const ModeratorRole = "moderator"

// UserInfo represents the essential user information stored in the session
// and request context.
type UserInfo struct {
	Subject     string
	DisplayName string
	Roles       []string
}

// HasRole reports whether the user carries the given role.
func (u *UserInfo) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the user may override locks and resolve
// conflicts.
func (u *UserInfo) IsPrivileged() bool {
	return u.HasRole(ModeratorRole)
}

// Name returns the display name, falling back to the subject.
func (u *UserInfo) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Subject
}

// GetUserInfo retrieves the user information from the request context.
func GetUserInfo(ctx context.Context) *UserInfo {
	if userInfo, ok := ctx.Value(userContextKey).(*UserInfo); ok {
		return userInfo
	}
	// Return an anonymous user if no user info is found in the context.
	return &UserInfo{Subject: "anonymous"}
}

// SetUserInfo adds the user information to the request context.
func SetUserInfo(ctx context.Context, userInfo *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, userInfo)
}
