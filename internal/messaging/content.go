package messaging

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	hashtagRegex = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_]+)`)
	urlRegex     = regexp.MustCompile(`https?://[^\s<>"]+`)
)

// shortContentLimit is the length below which the cleaned text itself is
// used as the summary.
const shortContentLimit = 200

// ExtractHashtags returns the lowercased hashtags in text, without the
// leading '#', in order of first appearance.
func ExtractHashtags(text string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, m := range hashtagRegex.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// RemoveHashtags strips hashtags from text and collapses the whitespace left behind.
func RemoveHashtags(text string) string {
	return strings.Join(strings.Fields(hashtagRegex.ReplaceAllString(text, " ")), " ")
}

// ExtractURLs returns the http(s) URLs in text with trailing punctuation trimmed.
func ExtractURLs(text string) []string {
	var urls []string
	for _, u := range urlRegex.FindAllString(text, -1) {
		u = strings.TrimRightFunc(u, func(r rune) bool {
			return unicode.IsPunct(r) && r != '/' && r != '_' && r != '-'
		})
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// IsURLOnly reports whether text consists of exactly one URL.
func IsURLOnly(text string) bool {
	text = strings.TrimSpace(text)
	urls := ExtractURLs(text)
	return len(urls) == 1 && (text == urls[0] || strings.TrimRight(text, ".,;:!?)") == urls[0])
}

// MergeTags merges user hashtags with generated tags. User tags come first
// and duplicates are dropped.
func MergeTags(user, generated []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range [][]string{user, generated} {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// ParseCommand extracts a bot command such as "/help" or "/weekly@MyBot".
// The returned name is lowercased and has no slash or bot suffix.
func ParseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func withoutTags(tags []string, drop ...string) []string {
	var out []string
	for _, t := range tags {
		if !containsTag(drop, t) {
			out = append(out, t)
		}
	}
	return out
}
