package registry

import (
	"slices"
	"strings"

	"github.com/D4NGK4/CHEDFC/internal/docsvc"
)

// DivisionChiefLevel is the approval level narrowed to the author's division.
const DivisionChiefLevel = "Division Chief"

// Division markers recognised in directory records.
const (
	divisionTechnical      = "Technical"
	divisionAdministrative = "Administrative"
	divisionBoth           = "Both"
)

// ResolveApprovers expands approval levels into an ordered recipient list:
// the author first when includeAuthor is set, then everyone at each level in
// directory order. Duplicates keep their first position.
func ResolveApprovers(dir *docsvc.Directory, author string, levels []string, includeAuthor bool) []string {
	var out []string
	add := func(email string) {
		email = strings.TrimSpace(email)
		if email != "" && !slices.Contains(out, email) {
			out = append(out, email)
		}
	}

	if includeAuthor {
		add(author)
	}
	for _, level := range levels {
		level = strings.TrimSpace(level)
		if level == "" {
			continue
		}
		for _, email := range levelEmails(dir, level, author) {
			add(email)
		}
	}
	return out
}

func levelEmails(dir *docsvc.Directory, level, author string) []string {
	if level == DivisionChiefLevel && strings.TrimSpace(author) != "" {
		if chiefs := divisionChiefs(dir, author); len(chiefs) > 0 {
			return chiefs
		}
	}
	var emails []string
	for _, p := range dir.ByLevel(level) {
		emails = append(emails, p.Email)
	}
	return emails
}

// divisionChiefs returns the chiefs serving the author's division. A chief
// marked "Both" serves either division. With no author record, no division
// or no match, every chief is returned.
func divisionChiefs(dir *docsvc.Directory, author string) []string {
	chiefs := dir.ByLevel(DivisionChiefLevel)
	if len(chiefs) == 0 {
		return nil
	}
	all := make([]string, len(chiefs))
	for i, c := range chiefs {
		all[i] = c.Email
	}

	rec, ok := dir.ByEmail(author)
	if !ok || rec.Division == "" {
		return all
	}

	var want string
	switch {
	case strings.Contains(rec.Division, divisionTechnical):
		want = divisionTechnical
	case strings.Contains(rec.Division, divisionAdministrative):
		want = divisionAdministrative
	default:
		return all
	}

	var matched []string
	for _, c := range chiefs {
		if strings.Contains(c.Division, want) || strings.Contains(c.Division, divisionBoth) {
			matched = append(matched, c.Email)
		}
	}
	if len(matched) == 0 {
		return all
	}
	return matched
}
