package awsprovider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/shopspring/decimal"

	"idverify/internal/model"
	"idverify/internal/provider"
)

type rekognitionAPI interface {
	DetectModerationLabels(ctx context.Context, in *rekognition.DetectModerationLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectModerationLabelsOutput, error)
	CompareFaces(ctx context.Context, in *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error)
}

// Rekognition implements provider.ContentModerator and provider.FaceComparer.
type Rekognition struct {
	client rekognitionAPI
}

func NewRekognition(cfg aws.Config) *Rekognition {
	return &Rekognition{client: rekognition.NewFromConfig(cfg)}
}

var (
	_ provider.ContentModerator = (*Rekognition)(nil)
	_ provider.FaceComparer     = (*Rekognition)(nil)
)

func (r *Rekognition) DetectModerationLabels(ctx context.Context, image []byte) ([]model.ModerationLabel, error) {
	out, err := r.client.DetectModerationLabels(ctx, &rekognition.DetectModerationLabelsInput{
		Image: &types.Image{Bytes: image},
	})
	if err != nil {
		return nil, classify("rekognition detect moderation labels", err)
	}
	labels := make([]model.ModerationLabel, 0, len(out.ModerationLabels))
	for _, l := range out.ModerationLabels {
		labels = append(labels, model.ModerationLabel{
			Name:       aws.ToString(l.Name),
			ParentName: aws.ToString(l.ParentName),
			Confidence: round32(l.Confidence),
		})
	}
	return labels, nil
}

// CompareFaces reports the best match at or above threshold, with its actual
// similarity. A threshold of 0 returns every candidate. No match yields
// Matched=false with zero similarity.
func (r *Rekognition) CompareFaces(ctx context.Context, source, target []byte, threshold float64) (model.FaceMatch, error) {
	out, err := r.client.CompareFaces(ctx, &rekognition.CompareFacesInput{
		SourceImage:         &types.Image{Bytes: source},
		TargetImage:         &types.Image{Bytes: target},
		SimilarityThreshold: aws.Float32(float32(threshold)),
	})
	if err != nil {
		return model.FaceMatch{}, classify("rekognition compare faces", err)
	}
	if len(out.FaceMatches) == 0 {
		return model.FaceMatch{Similarity: decimal.Zero, Confidence: decimal.Zero}, nil
	}

	best := out.FaceMatches[0]
	for _, m := range out.FaceMatches[1:] {
		if aws.ToFloat32(m.Similarity) > aws.ToFloat32(best.Similarity) {
			best = m
		}
	}
	fm := model.FaceMatch{Matched: true, Similarity: round32(best.Similarity), Confidence: decimal.Zero}
	if best.Face != nil {
		fm.Confidence = round32(best.Face.Confidence)
	}
	return fm, nil
}
