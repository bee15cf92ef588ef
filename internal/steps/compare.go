package steps

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"idverify/internal/provider"
)

// Comparer matches the selfie against the document photo.
type Comparer struct {
	base
	comparer provider.FaceComparer
}

func NewComparer(d Deps, c provider.FaceComparer) *Comparer {
	return &Comparer{base: newBase("compare", d), comparer: c}
}

func (c *Comparer) Run(ctx context.Context, in Input) Result {
	return c.guard(in.VerificationID, func() Result { return c.run(ctx, in) })
}

func (c *Comparer) run(ctx context.Context, in Input) Result {
	v, err := c.resolve(ctx, in.VerificationID)
	if err != nil {
		return c.fail(in.VerificationID, err)
	}
	docKey, selfieKey := keys(in, v)

	var doc, selfie []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		doc, err = c.fetch(gctx, docKey)
		return err
	})
	g.Go(func() (err error) {
		selfie, err = c.fetch(gctx, selfieKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return c.fail(in.VerificationID, err)
	}

	// Every candidate is requested so the stored similarity is the real score;
	// the policy threshold is applied below.
	fm, err := c.comparer.CompareFaces(ctx, selfie, doc, 0)
	if err != nil {
		return c.fail(in.VerificationID, err)
	}

	if err := c.Repo.SaveFaceMatch(ctx, v.Key(), fm, c.Now()); err != nil {
		return c.fail(in.VerificationID, err)
	}

	c.Log.Info().
		Str("verification_id", v.ID).
		Bool("matched", fm.Matched).
		Str("similarity", fm.Similarity.String()).
		Msg("faces compared")

	switch {
	case !fm.Matched:
		return rejected(fm, "No face matches found")
	case fm.Similarity.LessThan(c.Policy.SimilarityThreshold):
		return rejected(fm, fmt.Sprintf("Face similarity %s%% is below the required %s%%",
			fm.Similarity.StringFixed(2), c.Policy.SimilarityThreshold.StringFixed(2)))
	}
	return ok(fm)
}
