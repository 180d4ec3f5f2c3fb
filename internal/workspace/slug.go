package workspace

import (
	"strings"

	"github.com/google/uuid"
)

const maxIdentityChars = 20

// GenerateSlug derives a workspace slug from a user identity. The local
// part of an email (or the whole identity otherwise) is lowercased,
// non-alphanumerics collapse to hyphens, and a random suffix keeps
// distinct users with the same sanitized identity apart. The remote
// side may still rewrite the slug on creation; its answer wins.
func GenerateSlug(identity string) string {
	if at := strings.Index(identity, "@"); at >= 0 {
		identity = identity[:at]
	}
	identity = strings.ToLower(identity)

	var b strings.Builder
	lastHyphen := false
	for _, r := range identity {
		if b.Len() >= maxIdentityChars {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen && b.Len() > 0 {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	sanitized := strings.Trim(b.String(), "-")
	if sanitized == "" {
		sanitized = "anon"
	}

	return "user-" + sanitized + "-" + uuid.NewString()[:8]
}
