// Package model holds the verification record and its lifecycle types.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Verification is the persistent record of one identity-verification attempt.
// It is addressed by the compound key (ID, CreatedAt); ID alone is unique.
type Verification struct {
	ID        string    `json:"verification_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Requester Identity  `json:"requester"`

	DocumentImage        ImageRef  `json:"document_image"`
	SelfieImage          ImageRef  `json:"selfie_image"`
	ResizedDocumentImage *ImageRef `json:"resized_document_image,omitempty"`
	ResizedSelfieImage   *ImageRef `json:"resized_selfie_image,omitempty"`

	DocumentFields DocumentFields    `json:"document_fields,omitempty"`
	Moderation     *ModerationResult `json:"moderation_result,omitempty"`
	FaceMatch      *FaceMatch        `json:"face_match_result,omitempty"`

	Status        Status    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`

	DocumentUploaded  bool       `json:"document_uploaded"`
	SelfieUploaded    bool       `json:"selfie_uploaded"`
	WorkflowRunID     string     `json:"workflow_run_id,omitempty"`
	WorkflowStartedAt *time.Time `json:"workflow_started_at,omitempty"`
}

// Key returns the compound key addressing this record.
func (v *Verification) Key() RecordKey {
	return RecordKey{VerificationID: v.ID, CreatedAt: v.CreatedAt}
}

// RecordKey addresses exactly one stored record.
type RecordKey struct {
	VerificationID string
	CreatedAt      time.Time
}

// Identity is the authenticated requester attached to a verification.
type Identity struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

// ImageRef points at an object in the image store.
type ImageRef struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// FieldValue is one extracted document field.
type FieldValue struct {
	Text       string          `json:"text"`
	Confidence decimal.Decimal `json:"confidence"`
}

// DocumentFields maps lowercase field names (first_name, date_of_birth, ...) to values.
type DocumentFields map[string]FieldValue

// ModerationLabel is a single content-moderation finding.
type ModerationLabel struct {
	Name       string          `json:"name"`
	ParentName string          `json:"parent_name,omitempty"`
	Confidence decimal.Decimal `json:"confidence"`
}

// ModerationResult holds the labels reported for each image.
type ModerationResult struct {
	Document []ModerationLabel `json:"document"`
	Selfie   []ModerationLabel `json:"selfie"`
}

// FaceMatch is the outcome of comparing the selfie against the document photo.
type FaceMatch struct {
	Matched    bool            `json:"matched"`
	Similarity decimal.Decimal `json:"similarity"`
	Confidence decimal.Decimal `json:"confidence"`
}

// Round2 normalises a provider score to two decimal places.
func Round2(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
