// Package batch encodes recipient batches to and from the two text columns a
// queue row persists: the recipient queue and the document identifiers.
//
// Batches are separated by the batch delimiter (";" by default) and recipients
// within a batch by the recipient delimiter ("," by default). The i-th
// identifier group binds the i-th recipient group.
package batch

import (
	"fmt"
	"slices"
	"strings"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

// Default delimiters.
const (
	DefaultBatchSeparator     = ";"
	DefaultRecipientSeparator = ","
)

// Codec parses and serializes batch encodings with fixed delimiters.
type Codec struct {
	BatchSeparator     string
	RecipientSeparator string
}

// DefaultCodec uses ";" between batches and "," between recipients.
var DefaultCodec = Codec{
	BatchSeparator:     DefaultBatchSeparator,
	RecipientSeparator: DefaultRecipientSeparator,
}

// NewCodec returns a codec for the given delimiters.
func NewCodec(batchSep, recipientSep string) (Codec, error) {
	if batchSep == "" || recipientSep == "" {
		return Codec{}, fmt.Errorf("batch delimiters must be non-empty")
	}
	if batchSep == recipientSep {
		return Codec{}, fmt.Errorf("batch and recipient delimiters must differ, both are %q", batchSep)
	}
	return Codec{BatchSeparator: batchSep, RecipientSeparator: recipientSep}, nil
}

// Parse decodes queue and identifier text into batches.
//
// Batches whose recipient group is empty are dropped after pairing. If the
// queue has more groups than the identifier text and the identifier text is a
// single group of several entries, the entries are assigned one per batch in
// order and missing trailing identifiers are left empty. Blank trailing
// identifier groups, as Serialize writes for such batches, pair with the
// queue groups they stand for. Any other count difference returns
// *approval.BatchCountMismatchError.
func (c Codec) Parse(queueText, fileIDText string) ([]approval.Batch, error) {
	queueGroups := c.groups(queueText)
	idGroups := c.groups(fileIDText)

	if len(idGroups) < len(queueGroups) {
		if raw := c.split(fileIDText); len(raw) >= len(queueGroups) && blank(raw[len(queueGroups):]) {
			idGroups = raw[:len(queueGroups)]
		}
	}

	if len(queueGroups) > len(idGroups) && len(idGroups) == 1 {
		ids := c.entries(idGroups[0])
		if len(ids) >= 2 {
			if len(ids) > len(queueGroups) {
				return nil, &approval.BatchCountMismatchError{Batches: len(queueGroups), Identifiers: len(ids)}
			}
			idGroups = make([]string, len(queueGroups))
			copy(idGroups, ids)
		}
	}

	if len(queueGroups) != len(idGroups) {
		return nil, &approval.BatchCountMismatchError{Batches: len(queueGroups), Identifiers: len(idGroups)}
	}

	batches := make([]approval.Batch, 0, len(queueGroups))
	for i, group := range queueGroups {
		recipients := c.entries(group)
		if len(recipients) == 0 {
			continue
		}
		var docID string
		if ids := c.entries(idGroups[i]); len(ids) > 0 {
			docID = ids[0]
		}
		batches = append(batches, approval.Batch{Recipients: recipients, DocumentID: docID})
	}
	return batches, nil
}

// Serialize encodes batches. Batches without recipients are dropped; no
// batches yields two empty strings.
func (c Codec) Serialize(batches []approval.Batch) (queueText, fileIDText string) {
	var queue, ids []string
	for _, b := range batches {
		if !b.Active() {
			continue
		}
		queue = append(queue, strings.Join(b.Recipients, c.RecipientSeparator))
		ids = append(ids, b.DocumentID)
	}
	return strings.Join(queue, c.BatchSeparator), strings.Join(ids, c.BatchSeparator)
}

// ParseSet decodes the dispatched set: recipient-delimited, trimmed,
// de-duplicated with first occurrence kept.
func (c Codec) ParseSet(text string) []string {
	var set []string
	for _, e := range c.entries(text) {
		if !slices.Contains(set, e) {
			set = append(set, e)
		}
	}
	return set
}

// FormatSet encodes the dispatched set.
func (c Codec) FormatSet(set []string) string {
	return strings.Join(set, c.RecipientSeparator)
}

// groups splits on the batch delimiter. Blank text has no groups and trailing
// blank groups left by a dangling delimiter are ignored.
func (c Codec) groups(text string) []string {
	parts := c.split(text)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// split splits on the batch delimiter and trims every group, keeping blanks.
func (c Codec) split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, c.BatchSeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func blank(groups []string) bool {
	for _, g := range groups {
		if g != "" {
			return false
		}
	}
	return true
}

func (c Codec) entries(group string) []string {
	var out []string
	for _, e := range strings.Split(group, c.RecipientSeparator) {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Parse decodes with DefaultCodec.
func Parse(queueText, fileIDText string) ([]approval.Batch, error) {
	return DefaultCodec.Parse(queueText, fileIDText)
}

// Serialize encodes with DefaultCodec.
func Serialize(batches []approval.Batch) (queueText, fileIDText string) {
	return DefaultCodec.Serialize(batches)
}

// ParseSet decodes a dispatched set with DefaultCodec.
func ParseSet(text string) []string {
	return DefaultCodec.ParseSet(text)
}

// FormatSet encodes a dispatched set with DefaultCodec.
func FormatSet(set []string) string {
	return DefaultCodec.FormatSet(set)
}
