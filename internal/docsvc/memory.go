package docsvc

import (
	"context"
	"slices"
	"sync"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

// Dispatch is one stamp request received by Memory.
type Dispatch struct {
	Phase      approval.Phase `json:"phase" yaml:"phase"`
	Email      string         `json:"email" yaml:"email"`
	DocumentID string         `json:"document_id" yaml:"document_id"`
}

// Memory is an in-process Document Service. Scenarios and tests script its
// histories and failures and inspect the requests it received.
//
// Like the real service, a stamp request appends a "Requesting ..." event for
// the recipient to the document's history unless EchoRequests is false.
type Memory struct {
	mu          sync.Mutex
	histories   map[string][]approval.StatusEvent
	missing     map[string]bool
	statusErr   map[string]error
	dispatchErr map[string]error
	people      []approval.Person
	dispatches  []Dispatch

	// EchoRequests records each stamp request in the document history.
	EchoRequests bool
}

var _ Service = (*Memory)(nil)

// NewMemory returns an empty service that echoes requests into histories.
func NewMemory() *Memory {
	return &Memory{
		histories:    make(map[string][]approval.StatusEvent),
		missing:      make(map[string]bool),
		statusErr:    make(map[string]error),
		dispatchErr:  make(map[string]error),
		EchoRequests: true,
	}
}

// SetHistory replaces the history of documentID.
func (m *Memory) SetHistory(documentID string, events ...approval.StatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[documentID] = slices.Clone(events)
	delete(m.missing, documentID)
}

// AddEvent appends to the history of documentID.
func (m *Memory) AddEvent(documentID string, ev approval.StatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[documentID] = append(m.histories[documentID], ev)
}

// Stamp records that email completed phase on documentID.
func (m *Memory) Stamp(documentID, email string, phase approval.Phase) {
	m.AddEvent(documentID, approval.StatusEvent{
		RecipientName:  m.nameOf(email),
		RecipientEmail: email,
		Label:          phase.Completed().Label(),
	})
}

// History returns a copy of the history of documentID.
func (m *Memory) History(documentID string) []approval.StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.histories[documentID])
}

// SetMissing makes RequestStatus report documentID as not found.
func (m *Memory) SetMissing(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing[documentID] = true
}

// FailStatus makes RequestStatus for documentID return err. A nil err clears it.
func (m *Memory) FailStatus(documentID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.statusErr, documentID)
		return
	}
	m.statusErr[documentID] = err
}

// FailDispatch makes stamp requests to email return err. A nil err clears it.
func (m *Memory) FailDispatch(email string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.dispatchErr, email)
		return
	}
	m.dispatchErr[email] = err
}

// SetPersonalities replaces the directory.
func (m *Memory) SetPersonalities(people []approval.Person) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people = slices.Clone(people)
}

// Dispatches returns every stamp request received, in order.
func (m *Memory) Dispatches() []Dispatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.dispatches)
}

// ResetDispatches forgets received requests.
func (m *Memory) ResetDispatches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = nil
}

// RequestStatus implements Service.
func (m *Memory) RequestStatus(ctx context.Context, documentID string) ([]approval.StatusEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.statusErr[documentID]; ok {
		return nil, &approval.DocumentProcessingError{DocumentID: documentID, Op: "request status", Err: err}
	}
	if m.missing[documentID] {
		return nil, &approval.DocumentNotFoundError{DocumentID: documentID}
	}
	return slices.Clone(m.histories[documentID]), nil
}

// RequestStampInitial implements Service.
func (m *Memory) RequestStampInitial(ctx context.Context, email, documentID string) error {
	return m.request(ctx, approval.PhaseInitial, email, documentID)
}

// RequestStampSignature implements Service.
func (m *Memory) RequestStampSignature(ctx context.Context, email, documentID string) error {
	return m.request(ctx, approval.PhaseSignature, email, documentID)
}

// Personalities implements Service.
func (m *Memory) Personalities(ctx context.Context) ([]approval.Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.people), nil
}

func (m *Memory) request(ctx context.Context, phase approval.Phase, email, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := m.nameOf(email)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.dispatchErr[email]; ok {
		return &approval.DocumentProcessingError{DocumentID: documentID, Op: "request " + phase.String() + " stamp", Err: err}
	}
	if m.missing[documentID] {
		return &approval.DocumentNotFoundError{DocumentID: documentID}
	}
	m.dispatches = append(m.dispatches, Dispatch{Phase: phase, Email: email, DocumentID: documentID})
	if m.EchoRequests {
		m.histories[documentID] = append(m.histories[documentID], approval.StatusEvent{
			RecipientName:  name,
			RecipientEmail: email,
			Label:          phase.Requesting().Label(),
		})
	}
	return nil
}

func (m *Memory) nameOf(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.people {
		if p.Email == email {
			return p.Name
		}
	}
	return ""
}
