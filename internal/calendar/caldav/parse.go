package caldav

import "strings"

// unfoldICS rejoins lines continued with a leading space or tab (RFC 5545
// section 3.1) and drops the carriage returns.
func unfoldICS(data string) []string {
	raw := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// icsProperty returns the unescaped value of the first occurrence of name,
// tolerating property parameters such as SUMMARY;LANGUAGE=en.
func icsProperty(lines []string, name string) string {
	for _, line := range lines {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := line[:idx]
		if semi := strings.Index(key, ";"); semi >= 0 {
			key = key[:semi]
		}
		if !strings.EqualFold(key, name) {
			continue
		}
		return unescapeICSText(line[idx+1:])
	}
	return ""
}

func unescapeICSText(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' || i+1 == len(value) {
			b.WriteByte(value[i])
			continue
		}
		i++
		switch value[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}
