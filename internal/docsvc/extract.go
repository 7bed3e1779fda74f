package docsvc

import (
	"regexp"
	"strings"
)

var (
	pathIDPattern  = regexp.MustCompile(`/d/([A-Za-z0-9_-]+)`)
	queryIDPattern = regexp.MustCompile(`[?&]id=([A-Za-z0-9_-]+)`)
	bareIDPattern  = regexp.MustCompile(`[A-Za-z0-9_-]{25,}`)
)

// ExtractDocumentID pulls a document identifier out of a document URL or
// returns ref unchanged when it already looks like an identifier.
//
// Recognized forms: ".../d/{id}/edit", "...?id={id}", or any run of 25 or
// more identifier characters.
func ExtractDocumentID(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if !strings.ContainsAny(ref, "/?") {
		return ref, true
	}
	if m := pathIDPattern.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	if m := queryIDPattern.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	if m := bareIDPattern.FindString(ref); m != "" {
		return m, true
	}
	return "", false
}
