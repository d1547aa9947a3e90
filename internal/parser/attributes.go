package parser

import "strings"

// parseAttributes parses the KEY=VALUE attribute list following the first
// ':' of a tag line. Values are either double-quoted, in which case commas
// and equals signs inside the quotes are literal, or bare tokens ending at
// the next top-level comma. An unterminated quote silently ends attribute
// parsing for the line; upstream playlists with that defect are common
// enough that failing the whole parse is not worth it.
func parseAttributes(line string) map[string]string {
	attrs := make(map[string]string)

	_, raw, found := strings.Cut(line, ":")
	if !found {
		return attrs
	}

	for len(raw) > 0 {
		eq := strings.IndexByte(raw, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(raw[:eq])
		raw = raw[eq+1:]

		var value string
		if strings.HasPrefix(raw, `"`) {
			end := strings.IndexByte(raw[1:], '"')
			if end < 0 {
				// Unterminated quote; drop the rest of the line.
				return attrs
			}
			value = raw[1 : end+1]
			raw = raw[end+2:]
			if comma := strings.IndexByte(raw, ','); comma >= 0 {
				raw = raw[comma+1:]
			} else {
				raw = ""
			}
		} else {
			if comma := strings.IndexByte(raw, ','); comma >= 0 {
				value = raw[:comma]
				raw = raw[comma+1:]
			} else {
				value = raw
				raw = ""
			}
			value = strings.TrimSpace(value)
		}

		if key != "" {
			attrs[key] = value
		}
	}

	return attrs
}
