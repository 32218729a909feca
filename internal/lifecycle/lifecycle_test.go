package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/store"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		from, to model.ContactStatus
		wantKind apperr.Kind
	}{
		{"first contact", model.ContactStatusNotContacted, model.ContactStatusContacted, ""},
		{"skip ahead", model.ContactStatusNotContacted, model.ContactStatusScheduled, ""},
		{"straight to lost", model.ContactStatusContacted, model.ContactStatusClosedLost, ""},
		{"won from scheduled", model.ContactStatusScheduled, model.ContactStatusClosedWon, ""},
		{"same state", model.ContactStatusResponded, model.ContactStatusResponded, apperr.Validation},
		{"backward", model.ContactStatusScheduled, model.ContactStatusContacted, apperr.Validation},
		{"unknown target", model.ContactStatusContacted, model.ContactStatus("ghosted"), apperr.Validation},
		{"out of won", model.ContactStatusClosedWon, model.ContactStatusContacted, apperr.Precondition},
		{"won to lost", model.ContactStatusClosedWon, model.ContactStatusClosedLost, apperr.Precondition},
		{"out of lost", model.ContactStatusClosedLost, model.ContactStatusClosedWon, apperr.Precondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.from, tt.to)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
		})
	}
}

func TestNoteEntry(t *testing.T) {
	at := time.Date(2026, 3, 4, 15, 4, 5, 0, time.FixedZone("CST", -6*3600))
	assert.Equal(t, "[2026-03-04T21:04:05Z] Left voicemail", NoteEntry(at, "  Left voicemail "))
	assert.Empty(t, NoteEntry(at, "   "))
}

type fakeStore struct {
	got     store.ContactTransition
	company *model.DiscoveredCompany
	err     error
}

func (f *fakeStore) ApplyContactTransition(_ context.Context, tr store.ContactTransition) (*model.DiscoveredCompany, error) {
	f.got = tr
	if f.err != nil {
		return nil, f.err
	}
	return f.company, nil
}

func TestMachine_Transition(t *testing.T) {
	fs := &fakeStore{company: &model.DiscoveredCompany{ID: 9, ContactStatus: model.ContactStatusContacted}}
	m := New(fs)
	m.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	company := &model.DiscoveredCompany{ID: 9, CompanyName: "Acme", ContactStatus: model.ContactStatusNotContacted}
	updated, err := m.Transition(context.Background(), company, model.ContactStatusContacted, "Called the owner", "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.ContactStatusContacted, updated.ContactStatus)

	tr := fs.got
	assert.Equal(t, int64(9), tr.CompanyID)
	assert.Equal(t, model.ContactStatusNotContacted, tr.From)
	assert.Equal(t, model.ContactStatusContacted, tr.To)
	assert.Equal(t, "Called the owner", tr.Notes)
	assert.Equal(t, "[2026-01-02T03:04:05Z] Called the owner", tr.NoteEntry)
	assert.Equal(t, model.AuditContactStatusUpdated, tr.Audit.Action)
	assert.Equal(t, "9", tr.Audit.ResourceID)
	assert.Equal(t, "not_contacted", tr.Audit.Metadata["from_status"])
	assert.True(t, tr.Audit.Success)
}

func TestMachine_TransitionRejectsTerminal(t *testing.T) {
	fs := &fakeStore{}
	m := New(fs)

	company := &model.DiscoveredCompany{ID: 3, ContactStatus: model.ContactStatusClosedWon}
	_, err := m.Transition(context.Background(), company, model.ContactStatusContacted, "", "user-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Precondition))
	assert.Zero(t, fs.got.CompanyID, "store must not be called")
}

func TestMachine_TransitionPropagatesStoreError(t *testing.T) {
	fs := &fakeStore{err: apperr.E(apperr.Precondition, "company 3 status changed concurrently")}
	m := New(fs)

	company := &model.DiscoveredCompany{ID: 3, ContactStatus: model.ContactStatusContacted}
	_, err := m.Transition(context.Background(), company, model.ContactStatusResponded, "", "user-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Precondition))
}
