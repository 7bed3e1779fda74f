package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Validation error codes.
const (
	ErrCodeSchema     = "CFG001"
	ErrCodeSchemaLoad = "CFG900"
)

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks cfg against the embedded schema and returns every
// violation, or nil.
func Validate(cfg Config) []ValidationError {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []ValidationError{{Message: err.Error(), Code: ErrCodeSchemaLoad}}
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(cfg.schemaView()))
	err := v.Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return nil
	}

	var out []ValidationError
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		path := e.Path()
		if len(path) > 0 && path[0] == "#Config" {
			path = path[1:]
		}
		ve := ValidationError{
			Field:   strings.Join(path, "."),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrCodeSchema,
		}
		// Disjunctions report each failed branch; keep one line per field.
		key := ve.Field + "\x00" + ve.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ve)
	}
	return out
}

// schemaView is cfg in the shape the schema describes, with durations in
// seconds.
func (c Config) schemaView() map[string]any {
	variants := make([]any, len(c.Engine.Variants))
	for i, v := range c.Engine.Variants {
		variants[i] = v
	}
	return map[string]any{
		"store": map[string]any{"path": c.Store.Path},
		"docsvc": map[string]any{
			"url":     c.DocSvc.URL,
			"token":   c.DocSvc.Token,
			"timeout": c.DocSvc.Timeout.Seconds(),
		},
		"lock": map[string]any{
			"backend":      c.Lock.Backend,
			"timeout":      c.Lock.Timeout.Seconds(),
			"ttl":          c.Lock.TTL.Seconds(),
			"redis_url":    c.Lock.RedisURL,
			"postgres_url": c.Lock.PostgresURL,
		},
		"engine": map[string]any{
			"max_dispatches_per_run": c.Engine.MaxDispatchesPerRun,
			"queue_phase":            c.Engine.QueuePhase,
			"variants":               variants,
		},
		"batch": map[string]any{
			"batch_delimiter":     c.Batch.BatchDelimiter,
			"recipient_delimiter": c.Batch.RecipientDelimiter,
		},
		"watch": map[string]any{"interval": c.Watch.Interval.Seconds()},
		"serve": map[string]any{"addr": c.Serve.Addr},
	}
}
