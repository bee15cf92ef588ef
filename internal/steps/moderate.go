package steps

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"idverify/internal/model"
	"idverify/internal/provider"
)

// ModerationPayload is returned by the moderate step.
type ModerationPayload struct {
	model.ModerationResult
	Flagged []model.ModerationLabel `json:"flagged,omitempty"`
}

// Moderator screens both images for inappropriate content.
type Moderator struct {
	base
	moderator provider.ContentModerator
}

func NewModerator(d Deps, m provider.ContentModerator) *Moderator {
	return &Moderator{base: newBase("moderate", d), moderator: m}
}

func (m *Moderator) Run(ctx context.Context, in Input) Result {
	return m.guard(in.VerificationID, func() Result { return m.run(ctx, in) })
}

func (m *Moderator) run(ctx context.Context, in Input) Result {
	v, err := m.resolve(ctx, in.VerificationID)
	if err != nil {
		return m.fail(in.VerificationID, err)
	}
	docKey, selfieKey := keys(in, v)

	var res model.ModerationResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		labels, err := m.screen(gctx, docKey)
		res.Document = labels
		return err
	})
	g.Go(func() error {
		labels, err := m.screen(gctx, selfieKey)
		res.Selfie = labels
		return err
	})
	if err := g.Wait(); err != nil {
		return m.fail(in.VerificationID, err)
	}

	if err := m.Repo.SaveModeration(ctx, v.Key(), res, m.Now()); err != nil {
		return m.fail(in.VerificationID, err)
	}

	payload := ModerationPayload{ModerationResult: res}
	for _, l := range append(append([]model.ModerationLabel(nil), res.Document...), res.Selfie...) {
		if l.Confidence.GreaterThan(m.Policy.ModerationMax) {
			payload.Flagged = append(payload.Flagged, l)
		}
	}

	m.Log.Info().
		Str("verification_id", v.ID).
		Int("document_labels", len(res.Document)).
		Int("selfie_labels", len(res.Selfie)).
		Int("flagged", len(payload.Flagged)).
		Msg("moderation completed")

	if len(payload.Flagged) > 0 {
		return rejected(payload, flaggedReason(payload.Flagged))
	}
	return ok(payload)
}

func (m *Moderator) screen(ctx context.Context, key string) ([]model.ModerationLabel, error) {
	img, err := m.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	labels, err := m.moderator.DetectModerationLabels(ctx, img)
	if err != nil {
		return nil, err
	}
	if labels == nil {
		labels = []model.ModerationLabel{}
	}
	return labels, nil
}

func flaggedReason(labels []model.ModerationLabel) string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, fmt.Sprintf("%s (%s%%)", l.Name, l.Confidence.StringFixed(2)))
	}
	return "Inappropriate content detected: " + strings.Join(names, ", ")
}
