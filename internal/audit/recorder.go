// Package audit records the outcome of every admin cycle.
package audit

import (
	"context"
	"errors"

	"hostel-assistant/internal/models"
)

// Recorder persists one audit entry. Callers treat failures as warnings.
type Recorder interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *models.AuditEntry) error { return nil }

// Nop returns a Recorder that discards entries.
func Nop() Recorder { return nopRecorder{} }

// Multi fans an entry out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, entry *models.AuditEntry) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
