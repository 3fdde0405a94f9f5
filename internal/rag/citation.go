package rag

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\((https?://[^)\s]+)\)`)
	bareURLPattern      = regexp.MustCompile(`https?://[^\s<>()\[\]"'` + "`" + `]+`)
	placeholderPattern  = regexp.MustCompile(`\[(?:[A-Z][A-Z0-9_./-]*(?: [A-Z0-9_./-]+)+|[^\[\]]*\b(?i:links?|urls?)\b[^\[\]]*)\]`)
	repeatedSpace       = regexp.MustCompile(`[ \t]{2,}`)
)

// SanitizeLinks drops every link whose host is outside allowed (subdomains
// included) and every bracketed placeholder such as [HTML FILE NAMES] or
// [insert link]. Single bracketed terms like [OPT] or [I-20] stay. An empty
// allowed list keeps all hosts.
func SanitizeLinks(answer string, allowed []string) string {
	out := markdownLinkPattern.ReplaceAllStringFunc(answer, func(link string) string {
		parts := markdownLinkPattern.FindStringSubmatch(link)
		if hostAllowed(parts[2], allowed) {
			return link
		}
		return parts[1]
	})

	out = bareURLPattern.ReplaceAllStringFunc(out, func(raw string) string {
		trimmed := strings.TrimRight(raw, ".,;:!?")
		if hostAllowed(trimmed, allowed) {
			return raw
		}
		return raw[len(trimmed):]
	})

	out = removePlaceholders(out)

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		body := strings.TrimLeft(line, " \t")
		if body == "" {
			lines[i] = ""
			continue
		}
		indent := line[:len(line)-len(body)]
		lines[i] = indent + strings.TrimRight(repeatedSpace.ReplaceAllString(body, " "), " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// removePlaceholders keeps bracketed text that is the label of a markdown link.
func removePlaceholders(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range placeholderPattern.FindAllStringIndex(s, -1) {
		if loc[1] < len(s) && s[loc[1]] == '(' {
			continue
		}
		b.WriteString(s[last:loc[0]])
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func hostAllowed(raw string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
