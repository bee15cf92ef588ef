// Package provider declares the external analysis and delivery collaborators
// used by the verification steps. Implementations live in subpackages.
package provider

import (
	"context"
	"errors"

	"idverify/internal/imaging"
	"idverify/internal/model"
)

// ErrInvalidInput marks a collaborator rejection that retrying cannot fix
// (bad image, unsupported format, malformed request).
var ErrInvalidInput = errors.New("invalid input")

// AnalyzedDocument is the extraction output for one identity document image.
type AnalyzedDocument struct {
	// Found is false when no identity document was detected.
	Found  bool
	Fields model.DocumentFields
}

// DocumentAnalyzer extracts structured fields from an identity document.
type DocumentAnalyzer interface {
	AnalyzeID(ctx context.Context, image []byte) (AnalyzedDocument, error)
}

// ContentModerator lists inappropriate-content labels found in an image.
type ContentModerator interface {
	DetectModerationLabels(ctx context.Context, image []byte) ([]model.ModerationLabel, error)
}

// FaceComparer compares the face in source against the largest face in target.
type FaceComparer interface {
	CompareFaces(ctx context.Context, source, target []byte, threshold float64) (model.FaceMatch, error)
}

// ImageResizer produces a reduced copy of an image.
type ImageResizer interface {
	Resize(ctx context.Context, image []byte) (imaging.Resized, error)
}

// Email is a plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// EmailSender delivers notification mail.
type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) error
}

var _ ImageResizer = (*imaging.Resizer)(nil)
