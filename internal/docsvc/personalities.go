package docsvc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/status"
)

// DecodePersonalities accepts either a list of person objects or the tabular
// form {"values": [[email, name, initials, position, level, division], ...]}.
func DecodePersonalities(body []byte) ([]approval.Person, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}

	if body[0] == '[' {
		var people []approval.Person
		if err := json.Unmarshal(body, &people); err == nil {
			return trimPeople(people), nil
		}
	}

	var table struct {
		Values [][]any `json:"values"`
	}
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("unrecognized personalities payload: %w", err)
	}
	people := make([]approval.Person, 0, len(table.Values))
	for _, row := range table.Values {
		p := approval.Person{
			Email:    cell(row, 0),
			Name:     cell(row, 1),
			Initials: cell(row, 2),
			Level:    cell(row, 4),
			Division: cell(row, 5),
		}
		if p.Email == "" {
			continue
		}
		people = append(people, p)
	}
	return people, nil
}

func cell(row []any, i int) string {
	if i >= len(row) {
		return ""
	}
	if s, ok := row[i].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func trimPeople(people []approval.Person) []approval.Person {
	out := people[:0]
	for _, p := range people {
		p.Email = strings.TrimSpace(p.Email)
		p.Name = strings.TrimSpace(p.Name)
		p.Initials = strings.TrimSpace(p.Initials)
		p.Level = strings.TrimSpace(p.Level)
		p.Division = strings.TrimSpace(p.Division)
		if p.Email != "" {
			out = append(out, p)
		}
	}
	return out
}

// Directory indexes the approver directory for lookups.
type Directory struct {
	people []approval.Person
}

// NewDirectory wraps a personalities listing.
func NewDirectory(people []approval.Person) *Directory {
	return &Directory{people: people}
}

// People returns the directory in service order.
func (d *Directory) People() []approval.Person {
	return d.people
}

// Resolve maps a stored recipient to an email address. Addresses pass
// through unchanged; anything else is matched against names, then initials.
func (d *Directory) Resolve(recipient string) (string, bool) {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return "", false
	}
	if strings.Contains(r, "@") {
		return r, true
	}
	for _, p := range d.people {
		if p.Name == r {
			return p.Email, true
		}
	}
	for _, p := range d.people {
		if p.Initials != "" && strings.EqualFold(p.Initials, r) {
			return p.Email, true
		}
	}
	return "", false
}

// ByEmail finds a person by case-folded email.
func (d *Directory) ByEmail(email string) (approval.Person, bool) {
	key := status.Fold(email)
	for _, p := range d.people {
		if status.Fold(p.Email) == key {
			return p, true
		}
	}
	return approval.Person{}, false
}

// ByLevel returns everyone at level, in directory order.
func (d *Directory) ByLevel(level string) []approval.Person {
	level = strings.TrimSpace(level)
	var out []approval.Person
	for _, p := range d.people {
		if p.Level == level {
			out = append(out, p)
		}
	}
	return out
}
