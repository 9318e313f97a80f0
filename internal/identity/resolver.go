// Package identity rewrites user references in extracted documents and
// imports chat participants.
package identity

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/edgard/bizcircle/internal/database"
	"github.com/edgard/bizcircle/internal/knowledge"
)

// keySeparator splits an entry key into its timestamp and user parts.
const keySeparator = ": "

// UserLookup finds users by id. It returns nil, nil for unknown ids.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*database.User, error)
}

// Resolver replaces "<timestamp>: <user_id>" entry keys with
// "<timestamp>: <name> (<phone>)".
type Resolver struct {
	users UserLookup
	log   *slog.Logger
}

// NewResolver creates a Resolver backed by users.
func NewResolver(users UserLookup, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		users: users,
		log:   log.With("component", "identity_resolver"),
	}
}

// Resolve rewrites the entry keys of every Positive, Negative and Suggestions
// section of doc in place and returns doc. Only keys change. Keys that do not
// reference a known user, and keys whose rewrite would collide with another
// key of the same section, are kept as they are.
func (r *Resolver) Resolve(ctx context.Context, doc *knowledge.Document) *knowledge.Document {
	if doc == nil {
		return doc
	}

	cache := make(map[int64]*database.User)
	resolved, unresolved := 0, 0
	doc.Walk(func(_, _ string, record *knowledge.BusinessRecord) bool {
		for _, section := range record.EntrySections() {
			if section.Len() == 0 {
				continue
			}
			rewritten, n, missed := r.rewriteSection(ctx, section, cache)
			*section = rewritten
			resolved += n
			unresolved += missed
		}
		return true
	})

	r.log.DebugContext(ctx, "Resolved entry keys", "resolved", resolved, "unresolved", unresolved, "users", len(cache))
	return doc
}

func (r *Resolver) rewriteSection(ctx context.Context, section *knowledge.Fields, cache map[int64]*database.User) (knowledge.Fields, int, int) {
	var out knowledge.Fields
	resolved, unresolved := 0, 0
	for key, text := range section.All() {
		newKey, ok := r.resolveKey(ctx, key, cache)
		if ok && newKey != key && (out.Has(newKey) || section.Has(newKey)) {
			r.log.WarnContext(ctx, "Resolved key collides with an existing entry, keeping original", "key", key, "resolved_key", newKey)
			newKey, ok = key, false
		}
		if ok {
			resolved++
		} else {
			unresolved++
		}
		out.Set(newKey, text)
	}
	return out, resolved, unresolved
}

func (r *Resolver) resolveKey(ctx context.Context, key string, cache map[int64]*database.User) (string, bool) {
	timestamp, rawID, found := strings.Cut(key, keySeparator)
	if !found {
		return key, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return key, false
	}

	user, cached := cache[id]
	if !cached {
		user, err = r.users.GetUserByID(ctx, id)
		if err != nil {
			r.log.WarnContext(ctx, "User lookup failed, keeping entry key", "user_id", id, "error", err)
			return key, false
		}
		cache[id] = user
	}
	if user == nil {
		return key, false
	}
	return timestamp + keySeparator + DisplayLabel(user), true
}

// DisplayLabel renders a user as "<name> (<phone>)", or just the phone
// number when no name is recorded.
func DisplayLabel(user *database.User) string {
	name := strings.TrimSpace(user.DisplayName())
	if name == "" {
		return user.PhoneNumber
	}
	return name + " (" + user.PhoneNumber + ")"
}
