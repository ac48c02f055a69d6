package configstore

// The settings file is a minimal TOML subset: one `KEY = "value"` pair per
// line, # comments, values quoted with " or '. Double-quoted values may
// contain \" and \\ escapes. A dedicated scanner keeps parsing decoupled
// from the on-flash encoding and testable without a filesystem.

// ExtractQuoted scans content for key and returns its unescaped quoted
// value. ok is false when the key is absent or its value is not a
// well-formed quoted string.
func ExtractQuoted(content, key string) (value string, ok bool) {
	for start := 0; start < len(content); {
		end := start
		for end < len(content) && content[end] != '\n' {
			end++
		}
		line := content[start:end]
		start = end + 1

		if k, rest, found := splitAssign(line); found && k == key {
			return unquote(rest)
		}
	}
	return "", false
}

// splitAssign splits "KEY = rest" and trims whitespace around the key.
// Comment lines and lines without '=' report found=false.
func splitAssign(line string) (key, rest string, found bool) {
	i := 0
	for i < len(line) && isSpace(line[i]) {
		i++
	}
	if i >= len(line) || line[i] == '#' {
		return "", "", false
	}
	eq := -1
	for j := i; j < len(line); j++ {
		if line[j] == '=' {
			eq = j
			break
		}
	}
	if eq < 0 {
		return "", "", false
	}
	k := line[i:eq]
	for len(k) > 0 && isSpace(k[len(k)-1]) {
		k = k[:len(k)-1]
	}
	return k, line[eq+1:], true
}

// unquote parses a leading quoted string from s, honoring \" and \\
// escapes inside double quotes. Single-quoted values are literal.
func unquote(s string) (string, bool) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i >= len(s) {
		return "", false
	}
	q := s[i]
	if q != '"' && q != '\'' {
		return "", false
	}
	i++
	var out []byte
	for ; i < len(s); i++ {
		c := s[i]
		if q == '"' && c == '\\' && i+1 < len(s) {
			next := s[i+1]
			if next == '"' || next == '\\' {
				out = append(out, next)
				i++
				continue
			}
		}
		if c == q {
			return string(out), true
		}
		out = append(out, c)
	}
	return "", false // unterminated
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}
