// Package parser turns raw M3U8 playlist text into a Playlist.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agleyzer/hlsgrab/internal/playlist"
	"github.com/agleyzer/hlsgrab/internal/resolver"
	"github.com/agleyzer/hlsgrab/internal/segment"
	"github.com/agleyzer/hlsgrab/internal/variant"
)

// Recognized M3U8 tags. Unrecognized tags are ignored.
const (
	tagHeader         = "#EXTM3U"
	tagStreamInf      = "#EXT-X-STREAM-INF:"
	tagSegmentInf     = "#EXTINF:"
	tagMediaSequence  = "#EXT-X-MEDIA-SEQUENCE:"
	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagKey            = "#EXT-X-KEY:"
	tagEndList        = "#EXT-X-ENDLIST"
)

// ErrFormat is returned when the document is not an M3U8 playlist at all.
// Every other malformed construct is tolerated best-effort.
var ErrFormat = errors.New("not an M3U8 playlist")

// Parse parses playlist text fetched from baseURL. Relative references are
// resolved against baseURL. The presence of any EXT-X-STREAM-INF tag makes
// the result a master playlist; otherwise it is a media playlist.
func Parse(text, baseURL string) (*playlist.Playlist, error) {
	lines := splitLines(text)
	if len(lines) == 0 || !strings.HasPrefix(lines[0], tagHeader) {
		return nil, fmt.Errorf("missing %s header: %w", tagHeader, ErrFormat)
	}

	pl := &playlist.Playlist{
		BaseURL: baseURL,
		Keys:    make(map[string][]byte),
	}

	for _, line := range lines {
		if strings.HasPrefix(line, tagStreamInf) {
			pl.IsMaster = true
			break
		}
	}

	if pl.IsMaster {
		parseMaster(pl, lines)
		return pl, nil
	}

	parseMedia(pl, lines)
	return pl, nil
}

// parseMaster extracts quality variants. Each EXT-X-STREAM-INF tag must be
// followed by its variant URL line; lines not belonging to a variant are
// ignored.
func parseMaster(pl *playlist.Playlist, lines []string) {
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], tagStreamInf) {
			continue
		}

		attrs := parseAttributes(lines[i])
		if i+1 >= len(lines) || strings.HasPrefix(lines[i+1], "#") {
			// Variant tag without a URL line; drop it.
			continue
		}
		i++

		url, err := resolver.Resolve(lines[i], pl.BaseURL)
		if err != nil {
			continue
		}

		bandwidth, _ := strconv.Atoi(attrs["BANDWIDTH"])
		pl.Variants = append(pl.Variants, variant.Variant{
			Bandwidth:  bandwidth,
			Resolution: attrs["RESOLUTION"],
			Codecs:     attrs["CODECS"],
			URL:        url,
		})
	}
}

// parseMedia extracts segments, carrying the running duration, sequence
// number, and encryption key state across lines.
func parseMedia(pl *playlist.Playlist, lines []string) {
	pl.IsLive = true
	for _, line := range lines {
		if strings.HasPrefix(line, tagEndList) {
			pl.IsLive = false
			break
		}
	}

	var (
		duration float64
		sequence int
		keyURL   string
		keyIV    string
	)

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, tagTargetDuration):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(line, tagTargetDuration), 64); err == nil {
				pl.TargetDuration = v
			}

		case strings.HasPrefix(line, tagMediaSequence):
			if v, err := strconv.Atoi(strings.TrimPrefix(line, tagMediaSequence)); err == nil {
				sequence = v
			}

		case strings.HasPrefix(line, tagSegmentInf):
			raw := strings.TrimPrefix(line, tagSegmentInf)
			if j := strings.IndexByte(raw, ','); j >= 0 {
				raw = raw[:j]
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
				duration = v
			}

		case strings.HasPrefix(line, tagKey):
			attrs := parseAttributes(line)
			if strings.EqualFold(attrs["METHOD"], "NONE") {
				keyURL, keyIV = "", ""
				continue
			}
			if uri, ok := attrs["URI"]; ok {
				if resolved, err := resolver.Resolve(uri, pl.BaseURL); err == nil {
					keyURL = resolved
					if _, seen := pl.Keys[keyURL]; !seen {
						pl.Keys[keyURL] = nil
					}
				}
			}
			if iv, ok := attrs["IV"]; ok {
				keyIV = stripIVPrefix(iv)
			}

		case strings.HasPrefix(line, "#"):
			// Unrecognized tag or comment.

		default:
			url, err := resolver.Resolve(line, pl.BaseURL)
			if err != nil {
				continue
			}
			pl.Segments = append(pl.Segments, segment.Segment{
				URL:      url,
				Duration: duration,
				Sequence: sequence,
				KeyURL:   keyURL,
				IV:       keyIV,
			})
			sequence++
			duration = 0
		}
	}
}

// stripIVPrefix removes a case-insensitive "0x" prefix from an IV attribute
// value; the remainder is kept verbatim.
func stripIVPrefix(iv string) string {
	if len(iv) >= 2 && (iv[:2] == "0x" || iv[:2] == "0X") {
		return iv[2:]
	}
	return iv
}

// splitLines splits playlist text into trimmed, non-empty lines.
func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
