package auth

import (
	"fmt"
	"go-wiki-collab/internal/logger"

	"github.com/casbin/casbin/v2"
)

// SeedDefaultPolicies ensures that the application has a baseline set of authorization rules.
// It checks if each default policy exists before adding it, making the operation idempotent
// and safe to run on every application start.
func SeedDefaultPolicies(e casbin.IEnforcer, log logger.Logger) {
	log.Info("Seeding default authorization policies...")

	// Anonymous users can read; editors additionally edit, lock, draft,
	// and discuss; moderators break locks and resolve conflicts.
	// The 'editor' role inherits from 'anonymous', 'moderator' from 'editor'.
	policies := [][]string{
		// Anonymous users can view pages and access login/callback routes.
		{"anonymous", "/", "GET"},
		{"anonymous", "/robots.txt", "GET"},
		{"anonymous", "/sitemap.xml", "GET"},
		{"anonymous", "/static/*", "GET"},
		{"anonymous", "/view/*", "GET"},
		{"anonymous", "/history/*", "GET"},
		{"anonymous", "/auth/login", "GET"},
		{"anonymous", "/auth/callback", "GET"},
		{"anonymous", "/auth/logout", "GET"},
		{"anonymous", "/pages/:id/status", "GET"},
		{"anonymous", "/pages/:id/lock-status", "GET"},
		{"anonymous", "/pages/:id/events", "GET"},

		// Editors can do everything anonymous users can, plus edit, save,
		// and coordinate with other editors.
		{"editor", "/edit/*", "GET"},
		{"editor", "/save/*", "POST"},
		{"editor", "/list", "GET"},
		{"editor", "/pages/:id", "PUT"},
		{"editor", "/pages/:id/editing", "POST"},
		{"editor", "/pages/:id/stopped-editing", "POST"},
		{"editor", "/lock", "POST"},
		{"editor", "/unlock", "POST"},
		{"editor", "/pages/:id/section-locks", "GET"},
		{"editor", "/pages/:id/section-locks", "POST"},
		{"editor", "/pages/:id/section-locks", "DELETE"},
		{"editor", "/drafts", "GET"},
		{"editor", "/drafts", "POST"},
		{"editor", "/pages/:id/drafts", "GET"},
		{"editor", "/pages/:id/drafts", "DELETE"},
		{"editor", "/pages/:id/revert/:version", "POST"},
		{"editor", "/pages/:id/discussions", "GET"},
		{"editor", "/pages/:id/discussions", "POST"},

		// Moderators resolve what editors cannot.
		{"moderator", "/pages/:id/resolve-conflict", "POST"},
	}
	for _, p := range policies {
		if has, _ := e.HasPolicy(p); !has {
			if _, err := e.AddPolicy(p); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add policy %v", p))
			}
		}
	}

	// Role inheritance: editor extends anonymous, moderator extends editor.
	roleLinks := [][2]string{
		{"editor", "anonymous"},
		{"moderator", "editor"},
	}
	for _, link := range roleLinks {
		if has, _ := e.HasRoleForUser(link[0], link[1]); !has {
			if _, err := e.AddRoleForUser(link[0], link[1]); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add role %s -> %s", link[0], link[1]))
			}
		}
	}
	log.Info("Policy seeding complete.")
}
