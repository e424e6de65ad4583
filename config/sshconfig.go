package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// entry is one parsed "keyword args..." line from an OpenSSH-style config
// file, tagged with the file and line number it came from for provenance
// and with the Host patterns (if any) that must match for it to apply.
type entry struct {
	Keyword string
	Args    []string
	File    string
	Line    int
	Hosts   []string // nil means "applies unconditionally"
}

// ParseFile reads path and any files it Includes, returning entries in
// file order. Syntax: case-insensitive keywords (hyphens/underscores
// ignored), `Host pattern...` blocks with glob (*, ?) and negation
// (!prefix) matching, `Include file...` with globs resolved relative to
// the including file's directory, double-quoted arguments with backslash
// escapes, and `#` comments -- mirroring OpenSSH's ssh_config grammar per
// spec.md section 4.7.
func ParseFile(path string) ([]entry, error) {
	return parseFile(path, map[string]bool{})
}

func parseFile(path string, seen map[string]bool) ([]entry, error) {
	abs, err := filepath.Abs(path)
	if err == nil {
		if seen[abs] {
			return nil, fmt.Errorf("config: circular Include of %s", path)
		}
		seen[abs] = true
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var out []entry
	var activeHosts []string
	inHostBlock := false

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		keyword, args, err := splitLine(line)
		if err != nil {
			return nil, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
		if keyword == "" {
			continue
		}
		norm := normalizeKeyword(keyword)

		switch norm {
		case "host":
			activeHosts = args
			inHostBlock = true
			continue
		case "include":
			dir := filepath.Dir(path)
			for _, pattern := range args {
				if !filepath.IsAbs(pattern) {
					pattern = filepath.Join(dir, pattern)
				}
				matches, err := filepath.Glob(pattern)
				if err != nil {
					return nil, fmt.Errorf("config: %s:%d: bad Include glob %q: %w", path, lineNo, pattern, err)
				}
				for _, m := range matches {
					included, err := parseFile(m, seen)
					if err != nil {
						return nil, err
					}
					out = append(out, included...)
				}
			}
			continue
		}

		var hosts []string
		if inHostBlock {
			hosts = activeHosts
		}
		out = append(out, entry{Keyword: norm, Args: args, File: path, Line: lineNo, Hosts: hosts})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return out, nil
}

// normalizeKeyword lower-cases a keyword and strips hyphens/underscores so
// RxBw, rx-bw and rx_bw all match the same canonical field.
func normalizeKeyword(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "-", "")
	k = strings.ReplaceAll(k, "_", "")
	return k
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

// splitLine tokenizes "keyword arg1 arg2 ..." honoring double-quoted
// arguments with backslash escapes and an optional '=' between keyword and
// first argument (OpenSSH accepts both "Keyword value" and "Keyword=value").
func splitLine(line string) (string, []string, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return "", nil, err
	}
	if len(tokens) == 0 {
		return "", nil, nil
	}
	first := tokens[0]
	rest := tokens[1:]
	if eq := strings.IndexByte(first, '='); eq > 0 {
		kw := first[:eq]
		val := first[eq+1:]
		if val != "" {
			rest = append([]string{val}, rest...)
		}
		return kw, rest, nil
	}
	return first, rest, nil
}

func tokenize(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	haveToken := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line):
			cur.WriteByte(line[i+1])
			i++
			haveToken = true
		case c == '"':
			inQuote = !inQuote
			haveToken = true
		case c == ' ' || c == '\t':
			if inQuote {
				cur.WriteByte(c)
				continue
			}
			if haveToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				haveToken = false
			}
		default:
			cur.WriteByte(c)
			haveToken = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	if haveToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// matchHost reports whether token (a literal hostname or client IP,
// per spec.md's "no DNS" rule) matches the space-separated Host pattern
// list, honoring glob (*, ?) and negation (!prefix): a negated pattern
// that matches excludes the token even if an earlier positive pattern
// matched, mirroring OpenSSH's last-match-wins-for-negation behaviour.
func matchHost(patterns []string, token string) bool {
	matched := false
	for _, p := range patterns {
		neg := strings.HasPrefix(p, "!")
		pat := strings.TrimPrefix(p, "!")
		ok, _ := filepath.Match(pat, token)
		if ok {
			if neg {
				return false
			}
			matched = true
		}
	}
	return matched
}

// valuesForHost returns, per keyword, the first applicable entry's
// arguments together with provenance -- first-match-wins scanning in file
// order, skipping entries whose Host patterns don't match token.
func valuesForHost(entries []entry, token string) map[string]entry {
	out := make(map[string]entry)
	for _, e := range entries {
		if _, have := out[e.Keyword]; have {
			continue
		}
		if e.Hosts != nil && !matchHost(e.Hosts, token) {
			continue
		}
		out[e.Keyword] = e
	}
	return out
}
