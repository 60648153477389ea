package page

import (
	"regexp"
	"strings"
)

// CacheKeyAttr is one normalized attribute segment of a form cache key.
type CacheKeyAttr struct {
	Name  string
	Value string
}

// Cache key segments after the page id look like `pagemode(Edit)` or
// `embedded(False)`. The attribute grammar is reverse-engineered; segments
// that do not match are kept as bare flags rather than dropped.
var cacheKeyAttrPattern = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9_]*)\((.*)\)$`)

// ParseCacheKeyAttrs extracts the normalized attributes following the page id
// in a form cache key. The page id segment itself is not included; use
// PageIDFromCacheKey for that. Attribute names and values are lowercased and
// deduplicated, first occurrence wins.
func ParseCacheKeyAttrs(cacheKey string) []CacheKeyAttr {
	_, rest, found := strings.Cut(cacheKey, ":")
	if !found || rest == "" {
		return nil
	}

	attrs := make([]CacheKeyAttr, 0, 2)
	for _, segment := range strings.Split(rest, ":") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if matches := cacheKeyAttrPattern.FindStringSubmatch(segment); len(matches) == 3 {
			attrs = append(attrs, CacheKeyAttr{
				Name:  normalizeAttrToken(matches[1]),
				Value: normalizeAttrToken(matches[2]),
			})
			continue
		}
		attrs = append(attrs, CacheKeyAttr{Name: normalizeAttrToken(segment)})
	}

	return dedupeAttrs(attrs)
}

// PageModeFromCacheKey reads the pagemode attribute, e.g. "edit" or "view".
// Empty when the key carries none.
func PageModeFromCacheKey(cacheKey string) string {
	for _, attr := range ParseCacheKeyAttrs(cacheKey) {
		if attr.Name == "pagemode" {
			return attr.Value
		}
	}
	return ""
}

// EmbeddedFromCacheKey reads the embedded flag; absent means false.
func EmbeddedFromCacheKey(cacheKey string) bool {
	for _, attr := range ParseCacheKeyAttrs(cacheKey) {
		if attr.Name == "embedded" {
			return attr.Value == "true"
		}
	}
	return false
}

func normalizeAttrToken(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	return strings.Trim(normalized, "\"'`")
}

func dedupeAttrs(attrs []CacheKeyAttr) []CacheKeyAttr {
	if len(attrs) <= 1 {
		return attrs
	}

	seen := make(map[string]struct{}, len(attrs))
	uniq := make([]CacheKeyAttr, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Name == "" {
			continue
		}
		if _, exists := seen[attr.Name]; exists {
			continue
		}
		seen[attr.Name] = struct{}{}
		uniq = append(uniq, attr)
	}
	return uniq
}
