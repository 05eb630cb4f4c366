package retrieve

import (
	"regexp"
	"strings"
)

// Defect text mixes prose with identifiers. These patterns pull out the
// tokens that plausibly name code: back-quoted spans, camelCase and
// snake_case words, dotted/pathed references from stack traces, and
// verb-prefixed method-like names.
var (
	backquotePattern = regexp.MustCompile("`([^`\\s]+)`")
	camelPattern     = regexp.MustCompile(`\b[a-zA-Z][a-z0-9]+(?:[A-Z][a-zA-Z0-9]*)+\b`)
	snakePattern     = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:_[a-z0-9]+)+\b`)
	dottedPattern    = regexp.MustCompile(`\b[a-zA-Z_][\w]*(?:[./][a-zA-Z_][\w]*)+\b`)
	verbPattern      = regexp.MustCompile(`\b(?:get|set|is|has|load|save|read|write|parse|build|create|update|delete|handle|process|validate|fetch|send|init|open|close|run)[a-zA-Z0-9_]{2,}\b`)
)

// stopTokens are identifier-shaped words too generic to look up.
var stopTokens = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "when": true,
	"error": true, "errors": true, "exception": true, "null": true,
	"none": true, "true": true, "false": true, "undefined": true,
	"issue": true, "bug": true, "fails": true, "failed": true,
	"failure": true, "crash": true, "stack": true, "trace": true,
	"line": true, "file": true, "user": true, "users": true,
}

const maxSymbols = 8

// ExtractSymbols pulls candidate identifier names from free-form defect
// text, most specific first, capped at maxSymbols.
func ExtractSymbols(text string) []string {
	var symbols []string
	seen := make(map[string]bool)

	add := func(token string) {
		token = strings.Trim(token, "().,;:!?")
		if len(token) < 3 || len(symbols) >= maxSymbols {
			return
		}
		if stopTokens[strings.ToLower(token)] {
			return
		}
		if seen[token] {
			return
		}
		seen[token] = true
		symbols = append(symbols, token)
	}

	// Back-quoted spans are explicit identifier references.
	for _, m := range backquotePattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	// Dotted and slashed references: take the final component, which is
	// the symbol a stack frame or path points at.
	for _, m := range dottedPattern.FindAllString(text, -1) {
		parts := strings.FieldsFunc(m, func(r rune) bool { return r == '.' || r == '/' })
		if len(parts) > 0 {
			last := parts[len(parts)-1]
			// Drop file extensions, keep method names.
			if !isFileExtension(last) {
				add(last)
			} else if len(parts) > 1 {
				add(parts[len(parts)-2])
			}
		}
	}

	for _, m := range camelPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range snakePattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range verbPattern.FindAllString(text, -1) {
		add(m)
	}

	// Remaining plain words: lowest priority, but a bare token like
	// "login" in "login fails with null user" still names a function.
	for _, token := range strings.Fields(text) {
		token = strings.Trim(token, "`\"'().,;:!?")
		if len(token) >= 4 && isWordToken(token) {
			add(token)
		}
	}

	return symbols
}

func isWordToken(s string) bool {
	for _, r := range s {
		if !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

// ExtractKeywords returns plain salient words for full-text lookup:
// lowercase tokens long enough to carry signal, minus stop words.
func ExtractKeywords(text string, limit int) []string {
	var keywords []string
	seen := make(map[string]bool)

	for _, token := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z') && !('0' <= r && r <= '9') && r != '_'
	}) {
		if len(keywords) >= limit {
			break
		}
		lower := strings.ToLower(token)
		if len(lower) < 4 || stopTokens[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		keywords = append(keywords, lower)
	}

	return keywords
}

func isFileExtension(s string) bool {
	switch strings.ToLower(s) {
	case "go", "py", "js", "ts", "jsx", "tsx", "rs", "java", "rb", "php",
		"cs", "kt", "swift", "scala", "c", "cpp", "h", "hpp", "sql",
		"yaml", "yml", "json", "toml", "md", "txt", "log":
		return true
	}
	return false
}
