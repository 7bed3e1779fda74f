package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

// Scenario defines a reconciliation scenario.
// It seeds the row store and the Document Service, runs one or more passes,
// and asserts on the dispatches issued and the rows left behind.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the fixed run ID every pass reports.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Engine tunes the driver.
	Engine EngineSettings `yaml:"engine,omitempty"`

	// People is the personality directory the service returns.
	People []approval.Person `yaml:"people,omitempty"`

	// Documents seeds document_rows in order.
	Documents []DocumentSeed `yaml:"documents,omitempty"`

	// Queue seeds queue_rows in order.
	Queue []QueueSeed `yaml:"queue,omitempty"`

	// Histories seeds the Document Service status histories, keyed by
	// document id.
	Histories map[string][]approval.StatusEvent `yaml:"histories,omitempty"`

	// Passes lists the reconciliation passes to run. Each pass first applies
	// its service changes, then runs the driver once. An empty list runs a
	// single pass with no changes.
	Passes []Pass `yaml:"passes,omitempty"`

	// Assertions validate the dispatches and final rows.
	Assertions []Assertion `yaml:"assertions"`
}

// EngineSettings mirrors the engine section of the configuration.
type EngineSettings struct {
	MaxDispatchesPerRun int      `yaml:"max_dispatches_per_run,omitempty"`
	QueuePhase          string   `yaml:"queue_phase,omitempty"`
	Variants            []string `yaml:"variants,omitempty"`
}

// DocumentSeed is one initial document row.
type DocumentSeed struct {
	DocumentID         string `yaml:"document_id"`
	FileName           string `yaml:"file_name,omitempty"`
	Author             string `yaml:"author,omitempty"`
	Status             string `yaml:"status,omitempty"`
	NeedsInitial       bool   `yaml:"needs_initial,omitempty"`
	NeedsSignature     bool   `yaml:"needs_signature,omitempty"`
	InitialRecipient   string `yaml:"initial_recipient,omitempty"`
	SignatureRecipient string `yaml:"signature_recipient,omitempty"`
}

// QueueSeed is one initial queue row. Queue, FileIDs and Dispatched use the
// stored batch encoding.
type QueueSeed struct {
	TemplateID    string `yaml:"template_id"`
	Year          int    `yaml:"year,omitempty"`
	Count         int    `yaml:"count,omitempty"`
	ControlNumber string `yaml:"control_number,omitempty"`
	Fields        string `yaml:"fields,omitempty"`
	Queue         string `yaml:"queue"`
	FileIDs       string `yaml:"file_ids"`
	Dispatched    string `yaml:"dispatched,omitempty"`
	Status        string `yaml:"status,omitempty"`
}

// Pass is one driver run and the service changes applied before it.
type Pass struct {
	// Stamps records completed stamps in document histories.
	Stamps []StampStep `yaml:"stamps,omitempty"`

	// Events appends raw history events, keyed by document id.
	Events map[string][]approval.StatusEvent `yaml:"events,omitempty"`

	// FailStatus makes status queries for a document fail with a message.
	FailStatus map[string]string `yaml:"fail_status,omitempty"`

	// ClearStatus removes status failures.
	ClearStatus []string `yaml:"clear_status,omitempty"`

	// FailDispatch makes stamp requests to an address fail with a message.
	FailDispatch map[string]string `yaml:"fail_dispatch,omitempty"`

	// ClearDispatch removes dispatch failures.
	ClearDispatch []string `yaml:"clear_dispatch,omitempty"`

	// Missing makes the service report documents as not found.
	Missing []string `yaml:"missing,omitempty"`

	// Expect checks the pass report. Nil fields are not checked.
	Expect *PassExpect `yaml:"expect,omitempty"`
}

// StampStep records that Email completed Phase on DocumentID.
type StampStep struct {
	DocumentID string `yaml:"document_id"`
	Email      string `yaml:"email"`
	Phase      string `yaml:"phase"`
}

// PassExpect is the expected pass report.
type PassExpect struct {
	Updated    *int     `yaml:"updated,omitempty"`
	Dispatches *int     `yaml:"dispatches,omitempty"`
	Skipped    *int     `yaml:"skipped,omitempty"`
	Errors     []string `yaml:"errors,omitempty"`
}

// Assertion validates dispatches or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "dispatch_count": Check the number of stamp requests issued
	// - "dispatched_to": Check a stamp request was issued to a recipient
	// - "queue_state": Check fields of a queue row
	// - "document_state": Check fields of a document row
	Type string `yaml:"type"`

	// Pass restricts dispatch assertions to one pass (1-based). Zero means
	// every pass.
	Pass int `yaml:"pass,omitempty"`

	// Count is the expected number of dispatches (used by dispatch_count).
	Count int `yaml:"count,omitempty"`

	// Recipient, DocumentID and Phase select a dispatch (used by
	// dispatched_to). Empty fields match anything. DocumentID also selects
	// the row for document_state.
	Recipient  string `yaml:"recipient,omitempty"`
	DocumentID string `yaml:"document_id,omitempty"`
	Phase      string `yaml:"phase,omitempty"`

	// Row is the queue row index (used by queue_state).
	Row int64 `yaml:"row,omitempty"`

	// Expect contains expected field values (used by queue_state and
	// document_state). Subset match - only specified fields are validated.
	Expect map[string]string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertDispatchCount = "dispatch_count"
	AssertDispatchedTo  = "dispatched_to"
	AssertQueueState    = "queue_state"
	AssertDocumentState = "document_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Engine.QueuePhase != "" {
		if _, err := approval.ParsePhase(s.Engine.QueuePhase); err != nil {
			return fmt.Errorf("engine.queue_phase: %w", err)
		}
	}
	for _, v := range s.Engine.Variants {
		if v != variantDocuments && v != variantQueue {
			return fmt.Errorf("engine.variants: unknown variant %q", v)
		}
	}

	for i, d := range s.Documents {
		if d.DocumentID == "" {
			return fmt.Errorf("documents[%d]: document_id is required", i)
		}
		if d.Status != "" {
			if _, ok := approval.ParseStatus(d.Status); !ok {
				return fmt.Errorf("documents[%d]: unknown status %q", i, d.Status)
			}
		}
	}

	for i, q := range s.Queue {
		if q.TemplateID == "" {
			return fmt.Errorf("queue[%d]: template_id is required", i)
		}
		if q.Status != "" {
			if _, ok := approval.ParseStatus(q.Status); !ok {
				return fmt.Errorf("queue[%d]: unknown status %q", i, q.Status)
			}
		}
	}

	for i, p := range s.Passes {
		for j, st := range p.Stamps {
			if st.DocumentID == "" || st.Email == "" {
				return fmt.Errorf("passes[%d].stamps[%d]: document_id and email are required", i, j)
			}
			if _, err := approval.ParsePhase(st.Phase); err != nil {
				return fmt.Errorf("passes[%d].stamps[%d]: %w", i, j, err)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, passCount(s)); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, passes int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Pass < 0 || a.Pass > passes {
		return fmt.Errorf("assertions[%d]: pass %d out of range 1..%d", index, a.Pass, passes)
	}

	switch a.Type {
	case AssertDispatchCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for dispatch_count", index)
		}
	case AssertDispatchedTo:
		if a.Recipient == "" {
			return fmt.Errorf("assertions[%d]: recipient is required for dispatched_to", index)
		}
		if a.Phase != "" {
			if _, err := approval.ParsePhase(a.Phase); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertQueueState:
		if a.Row <= 0 {
			return fmt.Errorf("assertions[%d]: row is required for queue_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for queue_state", index)
		}
	case AssertDocumentState:
		if a.DocumentID == "" {
			return fmt.Errorf("assertions[%d]: document_id is required for document_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for document_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// passCount is the number of passes the scenario runs.
func passCount(s *Scenario) int {
	if len(s.Passes) == 0 {
		return 1
	}
	return len(s.Passes)
}
