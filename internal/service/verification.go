package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"idverify/internal/config"
	"idverify/internal/imaging"
	"idverify/internal/model"
	"idverify/internal/repository"
	"idverify/internal/storage"
	"idverify/internal/workflow"
)

// Submission is an authenticated request to verify an identity.
type Submission struct {
	Document  string // base64, optionally a data URL
	Selfie    string // base64, optionally a data URL
	Requester model.Identity
}

// SubmitResult is returned to the caller without waiting for the run.
type SubmitResult struct {
	VerificationID string       `json:"verificationId"`
	Status         model.Status `json:"status"`
	Timestamp      time.Time    `json:"timestamp"`
}

// VerificationView is the public projection of a record. Image locations
// and requester details are never exposed.
type VerificationView struct {
	VerificationID string                  `json:"verificationId"`
	Status         model.Status            `json:"status"`
	FailureReason  string                  `json:"failureReason,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	LastUpdated    time.Time               `json:"lastUpdated"`
	ExpiresAt      time.Time               `json:"expiresAt"`
	DocumentFields model.DocumentFields    `json:"documentFields,omitempty"`
	Moderation     *model.ModerationResult `json:"moderation,omitempty"`
	FaceMatch      *model.FaceMatch        `json:"faceMatch,omitempty"`
	ImagesResized  bool                    `json:"imagesResized"`
}

// Trigger hands a run off for asynchronous execution.
type Trigger interface {
	Dispatch(exec workflow.Execution) error
}

// VerificationService defines the verification use cases.
type VerificationService interface {
	// Submit validates and stores both images, creates the record and, in
	// direct trigger mode, starts the run.
	Submit(ctx context.Context, sub Submission) (*SubmitResult, error)

	// HandleObjectCreated records the arrival of an uploaded image and starts
	// the run once both images are confirmed present. It reports whether
	// this call started the run.
	HandleObjectCreated(ctx context.Context, key string) (bool, error)

	// Status returns the public projection of the latest record. A record
	// owned by someone other than caller is reported as ErrNotFound; an
	// empty caller skips the ownership check.
	Status(ctx context.Context, id, caller string) (*VerificationView, error)

	// Delete removes both original images and then the record, under the
	// same ownership rule as Status.
	Delete(ctx context.Context, id, caller string) error
}

type Options struct {
	TTL         time.Duration
	TriggerMode string
	Image       imaging.Options
}

// OptionsFromConfig derives service options from the workflow settings.
func OptionsFromConfig(c config.WorkflowConfig) Options {
	return Options{
		TTL:         time.Duration(c.TTLDays) * 24 * time.Hour,
		TriggerMode: c.TriggerMode,
		Image: imaging.Options{
			MaxBytes: c.MaxImageBytes,
			MaxDim:   c.MaxImageDim,
			Factor:   c.ResizeFactor,
			Quality:  c.ResizeQuality,
		},
	}
}

type verificationService struct {
	store   storage.Storage
	repo    repository.VerificationRepository
	trigger Trigger
	opt     Options
	log     zerolog.Logger
	now     func() time.Time
}

func NewVerificationService(store storage.Storage, repo repository.VerificationRepository, trigger Trigger, opt Options, log zerolog.Logger) VerificationService {
	if opt.TTL <= 0 {
		opt.TTL = 365 * 24 * time.Hour
	}
	if opt.TriggerMode == "" {
		opt.TriggerMode = config.TriggerDirect
	}
	return &verificationService{
		store:   store,
		repo:    repo,
		trigger: trigger,
		opt:     opt,
		log:     log.With().Str("component", "verification_service").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type decodedImage struct {
	category storage.Category
	data     []byte
	info     imaging.Info
	key      string
}

func (s *verificationService) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if strings.TrimSpace(sub.Requester.Email) == "" {
		return nil, validationf("authenticated email is required")
	}
	doc, err := s.decode(storage.CategoryDocument, sub.Document)
	if err != nil {
		return nil, err
	}
	selfie, err := s.decode(storage.CategorySelfie, sub.Selfie)
	if err != nil {
		return nil, err
	}

	// Postgres keeps microseconds; the compound key must round-trip.
	now := s.now().Truncate(time.Microsecond)
	id := uuid.NewString()
	doc.key = storage.ObjectKey(doc.category, id, doc.info.Format.Ext())
	selfie.key = storage.ObjectKey(selfie.category, id, selfie.info.Format.Ext())

	v := &model.Verification{
		ID:            id,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.opt.TTL),
		Requester:     sub.Requester,
		DocumentImage: model.ImageRef{Key: doc.key, Size: int64(len(doc.data))},
		SelfieImage:   model.ImageRef{Key: selfie.key, Size: int64(len(selfie.data))},
		Status:        model.StatusProcessing,
		LastUpdated:   now,
	}
	// The record goes first so object-created events always find it.
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("create verification: %w", err)
	}

	var uploaded []string
	for _, img := range []*decodedImage{doc, selfie} {
		if _, err := s.store.Put(ctx, img.key, bytes.NewReader(img.data), storage.PutObjectOptions{
			Size:        int64(len(img.data)),
			ContentType: img.info.Format.ContentType(),
			Metadata:    map[string]string{"verification-id": id},
		}); err != nil {
			return nil, s.rollback(ctx, v, uploaded, fmt.Errorf("upload %s: %w", img.key, err))
		}
		uploaded = append(uploaded, img.key)
	}

	s.log.Info().
		Str("verification_id", id).
		Str("document_format", string(doc.info.Format)).
		Str("selfie_format", string(selfie.info.Format)).
		Msg("verification submitted")

	if s.opt.TriggerMode == config.TriggerDirect {
		for _, img := range []*decodedImage{doc, selfie} {
			if _, err := s.markArrived(ctx, v, img.category); err != nil {
				return nil, fmt.Errorf("start verification: %w", err)
			}
		}
	}

	return &SubmitResult{VerificationID: id, Status: model.StatusProcessing, Timestamp: now}, nil
}

func (s *verificationService) decode(c storage.Category, encoded string) (*decodedImage, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, validationf("%s image is required", c)
	}
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, validationf("%s image is not valid base64", c)
	}
	info, err := imaging.Validate(data, s.opt.Image)
	if err != nil {
		return nil, validationf("%s image: %v", c, err)
	}
	return &decodedImage{category: c, data: data, info: info}, nil
}

// rollback undoes a failed submission and returns cause annotated with any
// cleanup failure.
func (s *verificationService) rollback(ctx context.Context, v *model.Verification, keys []string, cause error) error {
	var errs []error
	for _, k := range keys {
		if err := s.store.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	if err := s.repo.Delete(ctx, v.Key()); err != nil {
		errs = append(errs, fmt.Errorf("delete record: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w; rollback failed: %v", cause, errors.Join(errs...))
	}
	return cause
}

func (s *verificationService) HandleObjectCreated(ctx context.Context, key string) (bool, error) {
	pk, err := storage.ParseKey(key)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("ignoring unrelated object")
		return false, nil
	}
	if pk.Derived {
		return false, nil
	}
	id, err := uuid.Parse(pk.VerificationID)
	if err != nil {
		s.log.Debug().Str("key", key).Msg("ignoring object without a verification id")
		return false, nil
	}

	v, err := s.repo.FindLatest(ctx, id.String())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}

	present, err := s.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	if !present {
		s.log.Warn().Str("key", key).Msg("object-created event for a missing object")
		return false, nil
	}
	return s.markArrived(ctx, v, pk.Category)
}

// markArrived flags one image as present and dispatches the run when this
// caller wins the claim.
func (s *verificationService) markArrived(ctx context.Context, v *model.Verification, c storage.Category) (bool, error) {
	runID := uuid.NewString()
	now := s.now()
	claimed, err := s.repo.MarkUploaded(ctx, v.Key(), string(c), runID, now)
	if err != nil {
		return false, fmt.Errorf("mark %s uploaded: %w", c, err)
	}
	if !claimed {
		return false, nil
	}

	exec := workflow.Execution{
		VerificationID: v.ID,
		DocumentKey:    v.DocumentImage.Key,
		SelfieKey:      v.SelfieImage.Key,
		Requester:      v.Requester,
		Status:         model.StatusStarted,
		Timestamp:      now,
	}
	if err := s.trigger.Dispatch(exec); err != nil {
		s.log.Error().Err(err).Str("verification_id", v.ID).Msg("cannot start verification run")
		if _, aerr := s.repo.AdvanceStatus(ctx, v.Key(), model.StatusFailed, "verification could not be started", now); aerr != nil {
			s.log.Error().Err(aerr).Str("verification_id", v.ID).Msg("cannot mark verification failed")
		}
		return false, fmt.Errorf("dispatch: %w", err)
	}
	s.log.Info().Str("verification_id", v.ID).Str("run_id", runID).Msg("verification run started")
	return true, nil
}

func (s *verificationService) Status(ctx context.Context, id, caller string) (*VerificationView, error) {
	v, err := s.find(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	return &VerificationView{
		VerificationID: v.ID,
		Status:         v.Status,
		FailureReason:  v.FailureReason,
		CreatedAt:      v.CreatedAt,
		LastUpdated:    v.LastUpdated,
		ExpiresAt:      v.ExpiresAt,
		DocumentFields: v.DocumentFields,
		Moderation:     v.Moderation,
		FaceMatch:      v.FaceMatch,
		ImagesResized:  v.ResizedDocumentImage != nil && v.ResizedSelfieImage != nil,
	}, nil
}

// Delete removes the originals before the record. When an image cannot be
// removed the record is kept so the request can be repeated.
func (s *verificationService) Delete(ctx context.Context, id, caller string) error {
	v, err := s.find(ctx, id, caller)
	if err != nil {
		return err
	}

	var (
		deleted, remaining []string
		errs               []error
	)
	for _, key := range []string{v.DocumentImage.Key, v.SelfieImage.Key} {
		if key == "" {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			remaining = append(remaining, key)
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		deleted = append(deleted, key)
	}

	if len(errs) == 0 {
		if err := s.repo.Delete(ctx, v.Key()); err != nil {
			errs = append(errs, fmt.Errorf("delete record: %w", err))
		} else {
			deleted = append(deleted, "record")
		}
	}
	if len(errs) > 0 {
		// The record is only removed once every image is gone.
		remaining = append(remaining, "record")
		return &PartialDeletionError{
			VerificationID: v.ID,
			Deleted:        deleted,
			Remaining:      remaining,
			Err:            errors.Join(errs...),
		}
	}

	s.log.Info().Str("verification_id", v.ID).Msg("verification deleted")
	return nil
}

// find loads the record for id. Ids that are not UUIDs cannot exist, and
// records of other requesters are hidden, so both are ErrNotFound.
func (s *verificationService) find(ctx context.Context, id, caller string) (*model.Verification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, validationf("verificationId is required")
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	v, err := s.repo.FindLatest(ctx, uid.String())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if caller != "" && !strings.EqualFold(strings.TrimSpace(v.Requester.Email), strings.TrimSpace(caller)) {
		s.log.Warn().Str("verification_id", v.ID).Msg("verification requested by a different user")
		return nil, ErrNotFound
	}
	return v, nil
}
