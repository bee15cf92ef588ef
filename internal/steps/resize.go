package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"idverify/internal/imaging"
	"idverify/internal/model"
	"idverify/internal/provider"
	"idverify/internal/repository"
	"idverify/internal/storage"
)

// ResizePayload is returned by the resize step.
type ResizePayload struct {
	Document model.ImageRef `json:"resized_document"`
	Selfie   model.ImageRef `json:"resized_selfie"`
}

// Resizer stores downscaled copies of both images and completes the record.
type Resizer struct {
	base
	resizer provider.ImageResizer
}

func NewResizer(d Deps, r provider.ImageResizer) *Resizer {
	return &Resizer{base: newBase("resize", d), resizer: r}
}

func (r *Resizer) Run(ctx context.Context, in Input) Result {
	return r.guard(in.VerificationID, func() Result { return r.run(ctx, in) })
}

func (r *Resizer) run(ctx context.Context, in Input) Result {
	v, err := r.resolve(ctx, in.VerificationID)
	if err != nil {
		return r.fail(in.VerificationID, err)
	}
	docKey, selfieKey := keys(in, v)
	if p, done := completed(v, docKey, selfieKey); done {
		r.Log.Info().Str("verification_id", v.ID).Msg("images already resized")
		return ok(p)
	}
	if v.Status.Terminal() {
		return r.fail(in.VerificationID, fmt.Errorf("resize %s: %w", v.ID, repository.ErrFinalized))
	}

	docRef, err := r.derive(ctx, docKey)
	if err != nil {
		return r.fail(in.VerificationID, err)
	}
	selfieRef, err := r.derive(ctx, selfieKey)
	if err != nil {
		return r.fail(in.VerificationID, err)
	}

	now := r.Now()
	if err := r.Repo.SaveResizedImages(ctx, v.Key(), docRef, selfieRef, now); err != nil {
		return r.fail(in.VerificationID, err)
	}
	advanced, err := r.Repo.AdvanceStatus(ctx, v.Key(), model.StatusSucceeded, "", now)
	if err != nil {
		return r.fail(in.VerificationID, err)
	}
	if !advanced {
		return r.fail(in.VerificationID, fmt.Errorf("complete %s: %w", v.ID, repository.ErrFinalized))
	}

	r.Log.Info().
		Str("verification_id", v.ID).
		Str("resized_document", docRef.Key).
		Str("resized_selfie", selfieRef.Key).
		Msg("images resized")

	return Result{
		StatusCode: http.StatusOK,
		Success:    true,
		Payload:    ResizePayload{Document: docRef, Selfie: selfieRef},
	}
}

// completed reports whether an earlier attempt already stored both resized
// copies of these originals and finished the record.
func completed(v *model.Verification, docKey, selfieKey string) (ResizePayload, bool) {
	if v.Status != model.StatusSucceeded || v.ResizedDocumentImage == nil || v.ResizedSelfieImage == nil {
		return ResizePayload{}, false
	}
	if v.ResizedDocumentImage.Key != storage.ResizedKey(docKey) || v.ResizedSelfieImage.Key != storage.ResizedKey(selfieKey) {
		return ResizePayload{}, false
	}
	return ResizePayload{Document: *v.ResizedDocumentImage, Selfie: *v.ResizedSelfieImage}, true
}

// derive resizes one original and uploads it under the resized key.
func (r *Resizer) derive(ctx context.Context, key string) (model.ImageRef, error) {
	img, err := r.fetch(ctx, key)
	if err != nil {
		return model.ImageRef{}, err
	}
	out, err := r.resizer.Resize(ctx, img)
	if err != nil {
		if isImageRejection(err) {
			return model.ImageRef{}, fmt.Errorf("%w: %s: %w", errBadInput, key, err)
		}
		return model.ImageRef{}, fmt.Errorf("resize %s: %w", key, err)
	}

	dst := storage.ResizedKey(key)
	info, err := r.Store.Put(ctx, dst, bytes.NewReader(out.Data), storage.PutObjectOptions{
		Size:        int64(len(out.Data)),
		ContentType: out.ContentType,
	})
	if err != nil {
		return model.ImageRef{}, fmt.Errorf("upload %s: %w", dst, err)
	}
	size := info.Size
	if size <= 0 {
		size = int64(len(out.Data))
	}
	return model.ImageRef{Key: dst, Size: size}, nil
}

func isImageRejection(err error) bool {
	return errors.Is(err, imaging.ErrUnsupportedFormat) ||
		errors.Is(err, imaging.ErrTooLarge) ||
		errors.Is(err, imaging.ErrDimensionsExceeded)
}
