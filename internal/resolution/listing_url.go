package resolution

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"goflare.io/refgate/internal/models"
)

var canonicalListingPath = regexp.MustCompile(`^/listings/[A-Za-z0-9_-]+(/[A-Za-z0-9_-]+)*/?$`)

// ListingURL builds the canonical listing path for a resolved reference.
// An explicit detail path is used when, after dropping scheme and host, it
// has the canonical /listings/... shape. Otherwise the path is a slug of
// type, contract and location ending in the numeric id, or in the
// lowercase reference when no numeric id is present.
func ListingURL(listing *models.Listing, ref string) string {
	if listing == nil {
		return "/listings/" + strings.ToLower(ref)
	}
	if path, ok := detailPath(listing.DetailPath); ok {
		return path
	}

	parts := make([]string, 0, 5)
	for _, field := range []string{listing.Type, listing.Contract, listing.District, listing.City} {
		if s := slugify(field); s != "" {
			parts = append(parts, s)
		}
	}
	if id, ok := numericID(listing.ID); ok {
		parts = append(parts, id)
	} else {
		parts = append(parts, strings.ToLower(ref))
	}
	return "/listings/" + strings.Join(parts, "-")
}

func detailPath(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	path := u.Path
	if !canonicalListingPath.MatchString(path) {
		return "", false
	}
	return path, true
}

func slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return b.String()
}

func numericID(v any) (string, bool) {
	switch id := v.(type) {
	case float64:
		if id < 0 || id != math.Trunc(id) {
			return "", false
		}
		return strconv.FormatFloat(id, 'f', 0, 64), true
	case json.Number:
		if _, err := strconv.ParseUint(id.String(), 10, 64); err != nil {
			return "", false
		}
		return id.String(), true
	case string:
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return "", false
		}
		return id, true
	default:
		return "", false
	}
}
