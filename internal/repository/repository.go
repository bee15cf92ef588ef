// Package repository contains data access abstractions for verification
// records. Implementations live in subpackages (postgres, memory).
package repository

import (
	"context"
	"errors"
	"time"

	"idverify/internal/model"
)

var (
	// ErrNotFound means no record exists for the verification id.
	ErrNotFound = errors.New("verification not found")
	// ErrFinalized means the record reached a terminal status and rejects step writes.
	ErrFinalized = errors.New("verification already finalized")
)

// VerificationRepository is the record store adapter. Every mutation is
// addressed by the compound key and leaves unrelated fields untouched.
type VerificationRepository interface {
	// Create inserts a new record. The caller sets every immutable field.
	Create(ctx context.Context, v *model.Verification) error

	// FindLatest returns the most recently created record for id, or ErrNotFound.
	FindLatest(ctx context.Context, id string) (*model.Verification, error)

	// SaveDocumentFields overwrites the extracted fields.
	SaveDocumentFields(ctx context.Context, key model.RecordKey, fields model.DocumentFields, at time.Time) error
	// SaveModeration overwrites the moderation labels.
	SaveModeration(ctx context.Context, key model.RecordKey, res model.ModerationResult, at time.Time) error
	// SaveFaceMatch overwrites the face comparison outcome.
	SaveFaceMatch(ctx context.Context, key model.RecordKey, fm model.FaceMatch, at time.Time) error
	// SaveResizedImages records the derived image references.
	SaveResizedImages(ctx context.Context, key model.RecordKey, document, selfie model.ImageRef, at time.Time) error

	// AdvanceStatus moves the record forward along the pipeline. It reports
	// false without error when the move would go backwards or the record is
	// already terminal.
	AdvanceStatus(ctx context.Context, key model.RecordKey, status model.Status, reason string, at time.Time) (bool, error)

	// MarkUploaded records the arrival of one image. When both images are
	// present and no run was claimed yet, it atomically claims the run with
	// runID and reports true. Exactly one caller per record ever sees true.
	MarkUploaded(ctx context.Context, key model.RecordKey, category string, runID string, at time.Time) (bool, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, key model.RecordKey) error

	// ListExpired returns up to limit records whose expiry is before t.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]model.Verification, error)

	// ListStale returns up to limit non-terminal records whose run was claimed
	// before t or, when never claimed, that were created before t.
	ListStale(ctx context.Context, before time.Time, limit int) ([]model.Verification, error)
}
