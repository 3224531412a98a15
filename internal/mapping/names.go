package mapping

import (
	"strings"
	"unicode"
)

// CanonicalName returns the lower camel form used as the identity of an
// entity: "Blog Post", "blog_post", "BlogPost" and "blogPost.json" all
// become "blogPost".
func CanonicalName(name string) string {
	words := splitWords(baseName(name))
	var b strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 {
			w = upperFirst(w)
		}
		b.WriteString(w)
	}
	return b.String()
}

// ModelName returns the capitalized form used for storage models and for
// reference targets: "blog post" becomes "BlogPost".
func ModelName(name string) string {
	return upperFirst(CanonicalName(name))
}

// SameEntity compares two entity names the only way the system does.
func SameEntity(a, b string) bool {
	return CanonicalName(a) == CanonicalName(b)
}

func baseName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// splitWords cuts on separators and on case boundaries
// ("HTTPServer" -> HTTP, Server; "postID2" -> post, ID2).
func splitWords(s string) []string {
	var words []string
	var cur []rune
	rs := []rune(s)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	rs := []rune(s)
	rs[0] = unicode.ToUpper(rs[0])
	return string(rs)
}
