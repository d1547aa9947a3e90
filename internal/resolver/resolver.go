// Package resolver resolves playlist references against a base URL or directory.
package resolver

import (
	"errors"
	"net/url"
	"strings"
)

// ErrEmptyReference is returned when the reference to resolve is empty.
var ErrEmptyReference = errors.New("empty reference")

// Resolve turns a reference from a playlist into an absolute URL.
//
// Absolute references are returned unchanged. Scheme-relative references
// ("//host/path") borrow the base's scheme. Anything else is joined against
// the base, treating the base as a directory: if the base path ends in a
// file name, that component is stripped first. A malformed base never fails
// the resolution; the result is a best-effort concatenation.
func Resolve(reference, base string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", ErrEmptyReference
	}

	if ref, err := url.Parse(reference); err == nil && ref.IsAbs() {
		return reference, nil
	}

	if strings.HasPrefix(reference, "//") {
		scheme := "https"
		if b, err := url.Parse(base); err == nil && b.Scheme != "" {
			scheme = b.Scheme
		}
		return scheme + ":" + reference, nil
	}

	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || len(b.Scheme) == 1 || strings.Contains(base, `\`) {
		// Base is not a URL; treat it as a filesystem path. A one-letter
		// scheme is a Windows drive letter, not a real scheme.
		return joinRaw(base, reference), nil
	}

	ref, err := url.Parse(reference)
	if err != nil {
		return joinRaw(base, reference), nil
	}

	return b.ResolveReference(ref).String(), nil
}

// joinRaw concatenates a reference onto the directory part of base without
// URL semantics. Used for filesystem bases and unparseable inputs.
func joinRaw(base, reference string) string {
	return dirOf(base) + reference
}

// dirOf returns base as a directory with a trailing separator. When the
// last path component looks like a file name it is stripped, otherwise the
// whole base is kept as the directory.
func dirOf(base string) string {
	sep := "/"
	if strings.Contains(base, "\\") && !strings.Contains(base, "/") {
		sep = "\\"
	}

	i := strings.LastIndexAny(base, "/\\")
	if i < 0 {
		return base + sep
	}

	if last := base[i+1:]; strings.Contains(last, ".") {
		return base[:i+1]
	}
	if strings.HasSuffix(base, sep) {
		return base
	}
	return base + sep
}
