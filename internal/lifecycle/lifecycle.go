// Package lifecycle governs a company's sales contact-status transitions.
package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/store"
)

// rank orders statuses along the funnel. Both closed states share the last rank.
var rank = map[model.ContactStatus]int{
	model.ContactStatusNotContacted: 0,
	model.ContactStatusContacted:    1,
	model.ContactStatusResponded:    2,
	model.ContactStatusScheduled:    3,
	model.ContactStatusClosedWon:    4,
	model.ContactStatusClosedLost:   4,
}

// IsTerminal reports whether no transition out of s is allowed.
func IsTerminal(s model.ContactStatus) bool {
	return s == model.ContactStatusClosedWon || s == model.ContactStatusClosedLost
}

// Validate checks that from → to is a legal move: forward only, skipping
// ahead allowed, never out of a closed state.
func Validate(from, to model.ContactStatus) error {
	if !to.Valid() {
		return apperr.E(apperr.Validation, "lifecycle: unknown contact status %q", to)
	}
	if IsTerminal(from) {
		return apperr.E(apperr.Precondition, "lifecycle: company is %s; no further transitions allowed", from)
	}
	if from == to {
		return apperr.E(apperr.Validation, "lifecycle: company is already %s", to)
	}
	if rank[to] < rank[from] {
		return apperr.E(apperr.Validation, "lifecycle: cannot move backward from %s to %s", from, to)
	}
	return nil
}

// NoteEntry formats notes as a timestamped line for the company's notes log.
// Blank notes yield "".
func NoteEntry(at time.Time, notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return ""
	}
	return fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), notes)
}

// Store is the persistence the state machine needs.
type Store interface {
	ApplyContactTransition(ctx context.Context, tr store.ContactTransition) (*model.DiscoveredCompany, error)
}

// Machine applies validated transitions.
type Machine struct {
	store Store
	now   func() time.Time
}

// New creates a Machine backed by st.
func New(st Store) *Machine {
	return &Machine{store: st, now: time.Now}
}

// Transition moves company to status `to` on behalf of userID. The status
// change, history event, notes append, and audit entry commit together; a
// concurrent change to the same company surfaces as a Precondition error.
func (m *Machine) Transition(ctx context.Context, company *model.DiscoveredCompany, to model.ContactStatus, notes, userID string) (*model.DiscoveredCompany, error) {
	from := company.ContactStatus
	if err := Validate(from, to); err != nil {
		return nil, err
	}

	at := m.now().UTC()
	notes = strings.TrimSpace(notes)
	meta := model.Metadata{
		"from_status": string(from),
		"to_status":   string(to),
	}
	if notes != "" {
		meta["notes"] = notes
	}

	updated, err := m.store.ApplyContactTransition(ctx, store.ContactTransition{
		CompanyID: company.ID,
		From:      from,
		To:        to,
		Notes:     notes,
		NoteEntry: NoteEntry(at, notes),
		UserID:    userID,
		At:        at,
		Audit: model.AuditLog{
			UserID:       userID,
			Action:       model.AuditContactStatusUpdated,
			ResourceType: "company",
			ResourceID:   strconv.FormatInt(company.ID, 10),
			Description:  fmt.Sprintf("Contact status for %s changed from %s to %s", company.CompanyName, from, to),
			Metadata:     meta,
			Success:      true,
		},
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("lifecycle: contact status updated",
		zap.Int64("company_id", company.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("user_id", userID),
	)
	return updated, nil
}
