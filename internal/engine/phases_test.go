package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/docsvc"
	"github.com/D4NGK4/CHEDFC/internal/testutil"
)

func newTestMachine(svc docsvc.Service) *Machine {
	return NewMachine(svc, testutil.NewDeterministicClock(), nil)
}

func documentRow(status approval.Status) approval.DocumentRow {
	return approval.DocumentRow{
		Index:              1,
		DocumentID:         "doc1",
		FileName:           "doc1.docx",
		Status:             status,
		NeedsInitial:       true,
		NeedsSignature:     true,
		InitialRecipient:   "a@x.com",
		SignatureRecipient: "b@x.com",
	}
}

func event(email, label string) approval.StatusEvent {
	return approval.StatusEvent{RecipientEmail: email, Label: label}
}

// ============================================================================
// Refresh
// ============================================================================

func TestMachine_RefreshMovesForward(t *testing.T) {
	mem := docsvc.NewMemory()
	mem.SetHistory("doc1", event("a@x.com", approval.LabelInitialStamped))
	m := newTestMachine(mem)

	step := m.Refresh(context.Background(), documentRow(approval.StatusRequestingInitial))

	assert.Equal(t, Advanced, step.Transition.Kind)
	assert.Equal(t, approval.StatusRequestingInitial, step.Transition.From)
	assert.Equal(t, approval.StatusInitialStamped, step.Transition.To)
	assert.True(t, step.Changed)
	assert.Equal(t, approval.StatusInitialStamped, step.Row.Status)
}

func TestMachine_RefreshNeverMovesBack(t *testing.T) {
	histories := map[string][]approval.StatusEvent{
		"empty":              nil,
		"requesting initial": {event("a@x.com", approval.LabelRequestingInitial)},
		"pending label":      {event("a@x.com", approval.LabelPending)},
	}
	for name, history := range histories {
		t.Run(name, func(t *testing.T) {
			mem := docsvc.NewMemory()
			mem.SetHistory("doc1", history...)
			m := newTestMachine(mem)

			step := m.Refresh(context.Background(), documentRow(approval.StatusInitialStamped))
			assert.Equal(t, AlreadyInPhase, step.Transition.Kind)
			assert.False(t, step.Changed)
			assert.Equal(t, approval.StatusInitialStamped, step.Row.Status)
		})
	}
}

func TestMachine_RefreshSkipsTerminal(t *testing.T) {
	mem := docsvc.NewMemory()
	mem.FailStatus("doc1", errors.New("must not be called"))
	m := newTestMachine(mem)

	step := m.Refresh(context.Background(), documentRow(approval.StatusSignatureStamped))
	assert.Equal(t, AlreadyInPhase, step.Transition.Kind)
	assert.False(t, step.Changed)
}

func TestMachine_RefreshFromServiceError(t *testing.T) {
	mem := docsvc.NewMemory()
	m := newTestMachine(mem)

	row := documentRow(approval.StatusError)
	row.ErrorKind = approval.ErrorKindService
	row.LastError = "timeout"

	step := m.Refresh(context.Background(), row)
	assert.Equal(t, Advanced, step.Transition.Kind)
	assert.Equal(t, approval.StatusPending, step.Row.Status)
	assert.Empty(t, step.Row.LastError)
	assert.Equal(t, approval.ErrorKindNone, step.Row.ErrorKind)
}

func TestMachine_RefreshFromValidationError(t *testing.T) {
	row := documentRow(approval.StatusError)
	row.ErrorKind = approval.ErrorKindValidation
	row.LastError = `invalid recipient "bob": missing @`

	t.Run("stays while nothing happened", func(t *testing.T) {
		m := newTestMachine(docsvc.NewMemory())
		step := m.Refresh(context.Background(), row)
		assert.Equal(t, AlreadyInPhase, step.Transition.Kind)
		assert.Equal(t, approval.StatusError, step.Row.Status)
	})

	t.Run("moves once the document progressed", func(t *testing.T) {
		mem := docsvc.NewMemory()
		mem.SetHistory("doc1", event("a@x.com", approval.LabelInitialStamped))
		m := newTestMachine(mem)

		step := m.Refresh(context.Background(), row)
		assert.Equal(t, Advanced, step.Transition.Kind)
		assert.Equal(t, approval.StatusInitialStamped, step.Row.Status)
	})
}

func TestMachine_RefreshInvalidDocumentIDFailsOnce(t *testing.T) {
	m := newTestMachine(docsvc.NewMemory())
	row := documentRow(approval.StatusPending)
	row.DocumentID = "bad id/with slash"

	first := m.Refresh(context.Background(), row)
	assert.Equal(t, Failed, first.Transition.Kind)
	require.True(t, first.Changed)
	assert.Equal(t, approval.StatusError, first.Row.Status)
	assert.Equal(t, approval.ErrorKindValidation, first.Row.ErrorKind)

	second := m.Refresh(context.Background(), first.Row)
	assert.Equal(t, AlreadyInPhase, second.Transition.Kind)
	assert.False(t, second.Changed)
	assert.Equal(t, first.Row, second.Row)
}

func TestMachine_RefreshQueryFailureRecordsErrorOnly(t *testing.T) {
	mem := docsvc.NewMemory()
	mem.FailStatus("doc1", errors.New("503"))
	m := newTestMachine(mem)

	step := m.Refresh(context.Background(), documentRow(approval.StatusRequestingInitial))
	assert.Equal(t, Failed, step.Transition.Kind)
	assert.True(t, step.Changed)
	assert.Equal(t, approval.StatusRequestingInitial, step.Row.Status)
	assert.Contains(t, step.Row.LastError, "503")

	// The next successful refresh clears the message.
	mem.FailStatus("doc1", nil)
	again := m.Refresh(context.Background(), step.Row)
	assert.True(t, again.Changed)
	assert.Empty(t, again.Row.LastError)
	assert.Equal(t, approval.StatusRequestingInitial, again.Row.Status)
}

func TestMachine_RefreshInvalidDocumentID(t *testing.T) {
	m := newTestMachine(docsvc.NewMemory())
	row := documentRow(approval.StatusPending)
	row.DocumentID = "bad id/with slash"

	step := m.Refresh(context.Background(), row)
	assert.Equal(t, Failed, step.Transition.Kind)
	assert.Equal(t, approval.StatusError, step.Row.Status)
	assert.Equal(t, approval.ErrorKindValidation, step.Row.ErrorKind)
}

// ============================================================================
// Advance
// ============================================================================

func TestMachine_AdvanceInitialStamped(t *testing.T) {
	mem := docsvc.NewMemory()
	m := newTestMachine(mem)

	step := m.AdvanceInitialStamped(context.Background(), documentRow(approval.StatusInitialStamped), NewResolver(mem), nil)

	assert.Equal(t, Advanced, step.Transition.Kind)
	assert.Equal(t, approval.StatusRequestingSignature, step.Row.Status)
	require.NotNil(t, step.Dispatched)
	assert.Equal(t, "b@x.com", step.Dispatched.Recipient)
	assert.Equal(t, []docsvc.Dispatch{{Phase: approval.PhaseSignature, Email: "b@x.com", DocumentID: "doc1"}}, mem.Dispatches())
}

func TestMachine_AdvanceInitialStamped_NotReady(t *testing.T) {
	mem := docsvc.NewMemory()
	m := newTestMachine(mem)

	row := documentRow(approval.StatusInitialStamped)
	row.NeedsSignature = false

	step := m.AdvanceInitialStamped(context.Background(), row, NewResolver(mem), nil)
	assert.Equal(t, AlreadyInPhase, step.Transition.Kind)
	assert.False(t, step.Changed)
	assert.Empty(t, mem.Dispatches())
}

func TestMachine_AdvancePending(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*approval.DocumentRow)
		wantKind  TransitionKind
		want      approval.Status
		wantPhase approval.Phase
		wantEmail string
	}{
		{
			name:      "initial phase first",
			mutate:    func(*approval.DocumentRow) {},
			wantKind:  Advanced,
			want:      approval.StatusRequestingInitial,
			wantPhase: approval.PhaseInitial,
			wantEmail: "a@x.com",
		},
		{
			name:      "signature only",
			mutate:    func(r *approval.DocumentRow) { r.NeedsInitial = false },
			wantKind:  Advanced,
			want:      approval.StatusRequestingSignature,
			wantPhase: approval.PhaseSignature,
			wantEmail: "b@x.com",
		},
		{
			name:     "initial needed but unbound",
			mutate:   func(r *approval.DocumentRow) { r.InitialRecipient = "" },
			wantKind: AlreadyInPhase,
			want:     approval.StatusPending,
		},
		{
			name: "nothing needed",
			mutate: func(r *approval.DocumentRow) {
				r.NeedsInitial = false
				r.NeedsSignature = false
			},
			wantKind: AlreadyInPhase,
			want:     approval.StatusPending,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := docsvc.NewMemory()
			m := newTestMachine(mem)
			row := documentRow(approval.StatusPending)
			tt.mutate(&row)

			step := m.AdvancePending(context.Background(), row, NewResolver(mem), nil)
			assert.Equal(t, tt.wantKind, step.Transition.Kind)
			assert.Equal(t, tt.want, step.Row.Status)
			if tt.wantKind != Advanced {
				assert.Empty(t, mem.Dispatches())
				return
			}
			require.Len(t, mem.Dispatches(), 1)
			assert.Equal(t, tt.wantPhase, mem.Dispatches()[0].Phase)
			assert.Equal(t, tt.wantEmail, mem.Dispatches()[0].Email)
		})
	}
}

func TestMachine_AdvanceResolvesDisplayName(t *testing.T) {
	mem := docsvc.NewMemory()
	mem.SetPersonalities([]approval.Person{
		{Email: "maria@x.com", Name: "Maria Santos", Initials: "MS"},
	})
	m := newTestMachine(mem)

	row := documentRow(approval.StatusPending)
	row.InitialRecipient = "Maria Santos"

	step := m.AdvancePending(context.Background(), row, NewResolver(mem), nil)
	require.Equal(t, Advanced, step.Transition.Kind)
	assert.Equal(t, "maria@x.com", step.Dispatched.Recipient)
}

func TestMachine_AdvanceFailures(t *testing.T) {
	t.Run("unknown name", func(t *testing.T) {
		mem := docsvc.NewMemory()
		m := newTestMachine(mem)
		row := documentRow(approval.StatusPending)
		row.InitialRecipient = "Nobody"

		step := m.AdvancePending(context.Background(), row, NewResolver(mem), nil)
		assert.Equal(t, Failed, step.Transition.Kind)
		assert.Equal(t, approval.StatusError, step.Row.Status)
		assert.Equal(t, approval.ErrorKindValidation, step.Row.ErrorKind)
		assert.Contains(t, step.Row.LastError, "Nobody")
	})

	t.Run("service refuses", func(t *testing.T) {
		mem := docsvc.NewMemory()
		mem.FailDispatch("a@x.com", errors.New("mailbox full"))
		m := newTestMachine(mem)

		step := m.AdvancePending(context.Background(), documentRow(approval.StatusPending), NewResolver(mem), nil)
		assert.Equal(t, Failed, step.Transition.Kind)
		assert.Equal(t, approval.StatusError, step.Row.Status)
		assert.Equal(t, approval.ErrorKindService, step.Row.ErrorKind)
		assert.Contains(t, step.Row.LastError, "mailbox full")
	})

	t.Run("gate defers", func(t *testing.T) {
		mem := docsvc.NewMemory()
		m := newTestMachine(mem)
		refusal := NewDuplicateDispatchError("run-1", "doc1", "a@x.com")

		step := m.AdvancePending(context.Background(), documentRow(approval.StatusPending), NewResolver(mem),
			func(string, string) error { return refusal })
		assert.Equal(t, AlreadyInPhase, step.Transition.Kind)
		assert.False(t, step.Changed)
		assert.True(t, IsDuplicateDispatch(step.Deferred))
		assert.Empty(t, mem.Dispatches())
	})
}

func TestResolver_AddressSkipsDirectory(t *testing.T) {
	failing := &failingDirectory{Memory: docsvc.NewMemory()}
	r := NewResolver(failing)

	email, err := r.Resolve(context.Background(), " a@x.com ")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", email)
	assert.Equal(t, 0, failing.calls)

	_, err = r.Resolve(context.Background(), "Maria Santos")
	assert.ErrorContains(t, err, "directory down")
	_, err = r.Resolve(context.Background(), "MS")
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls, "directory is fetched once per resolver")
}

type failingDirectory struct {
	*docsvc.Memory
	calls int
}

func (f *failingDirectory) Personalities(ctx context.Context) ([]approval.Person, error) {
	f.calls++
	return nil, errors.New("directory down")
}

func TestTransitionKind_String(t *testing.T) {
	assert.Equal(t, "advanced", Advanced.String())
	assert.Equal(t, "already_in_phase", AlreadyInPhase.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "TransitionKind(9)", TransitionKind(9).String())
}
