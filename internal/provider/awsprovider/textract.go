package awsprovider

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/shopspring/decimal"

	"idverify/internal/model"
	"idverify/internal/provider"
)

// ExtractedFields lists the identity fields read from a document, in the
// naming Textract uses for AnalyzeID detections.
var ExtractedFields = []string{
	"FIRST_NAME", "LAST_NAME", "MIDDLE_NAME",
	"DATE_OF_BIRTH", "EXPIRATION_DATE", "DOCUMENT_NUMBER",
	"ADDRESS", "CITY_IN_ADDRESS", "STATE_IN_ADDRESS",
	"ZIP_CODE_IN_ADDRESS", "ID_TYPE", "STATE_NAME",
}

type textractAPI interface {
	AnalyzeID(ctx context.Context, in *textract.AnalyzeIDInput, optFns ...func(*textract.Options)) (*textract.AnalyzeIDOutput, error)
}

// Textract implements provider.DocumentAnalyzer.
type Textract struct {
	client textractAPI
}

func NewTextract(cfg aws.Config) *Textract {
	return &Textract{client: textract.NewFromConfig(cfg)}
}

var _ provider.DocumentAnalyzer = (*Textract)(nil)

// AnalyzeID reads the first identity document in the image. Every field in
// ExtractedFields is present in the result; undetected ones are empty with
// zero confidence.
func (t *Textract) AnalyzeID(ctx context.Context, image []byte) (provider.AnalyzedDocument, error) {
	out, err := t.client.AnalyzeID(ctx, &textract.AnalyzeIDInput{
		DocumentPages: []types.Document{{Bytes: image}},
	})
	if err != nil {
		return provider.AnalyzedDocument{}, classify("textract analyze id", err)
	}
	if len(out.IdentityDocuments) == 0 {
		return provider.AnalyzedDocument{Found: false}, nil
	}

	detected := make(map[string]model.FieldValue)
	for _, f := range out.IdentityDocuments[0].IdentityDocumentFields {
		if f.Type == nil || f.Type.Text == nil {
			continue
		}
		name := aws.ToString(f.Type.Text)
		if _, seen := detected[name]; seen {
			continue
		}
		var fv model.FieldValue
		if f.ValueDetection != nil {
			fv.Text = aws.ToString(f.ValueDetection.Text)
			fv.Confidence = round32(f.ValueDetection.Confidence)
		}
		detected[name] = fv
	}

	fields := make(model.DocumentFields, len(ExtractedFields))
	for _, name := range ExtractedFields {
		fv, ok := detected[name]
		if !ok {
			fv = model.FieldValue{Confidence: decimal.Zero}
		}
		fields[strings.ToLower(name)] = fv
	}
	return provider.AnalyzedDocument{Found: true, Fields: fields}, nil
}

func round32(f *float32) decimal.Decimal {
	if f == nil {
		return decimal.Zero
	}
	return model.Round2(float64(*f))
}
