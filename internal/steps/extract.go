package steps

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"idverify/internal/model"
	"idverify/internal/provider"
)

// RequiredFields must be present with sufficient confidence for a document to pass.
var RequiredFields = []string{"first_name", "last_name", "date_of_birth", "expiration_date"}

const (
	reasonNoDocument    = "No valid ID document found in image"
	reasonInvalidFields = "One or more required fields failed validation"
)

// FieldCheck is the per-field validation outcome.
type FieldCheck struct {
	Present    bool            `json:"present"`
	Confidence decimal.Decimal `json:"confidence"`
}

// ExtractionPayload is returned by the extract step.
type ExtractionPayload struct {
	Fields         model.DocumentFields  `json:"fields"`
	Validation     map[string]FieldCheck `json:"validation"`
	DocumentType   string                `json:"document_type"`
	DocumentNumber string                `json:"document_number"`
}

// Extractor reads identity fields from the document image.
type Extractor struct {
	base
	analyzer provider.DocumentAnalyzer
}

func NewExtractor(d Deps, analyzer provider.DocumentAnalyzer) *Extractor {
	return &Extractor{base: newBase("extract", d), analyzer: analyzer}
}

func (e *Extractor) Run(ctx context.Context, in Input) Result {
	return e.guard(in.VerificationID, func() Result { return e.run(ctx, in) })
}

func (e *Extractor) run(ctx context.Context, in Input) Result {
	v, err := e.resolve(ctx, in.VerificationID)
	if err != nil {
		return e.fail(in.VerificationID, err)
	}
	docKey, _ := keys(in, v)

	img, err := e.fetch(ctx, docKey)
	if err != nil {
		return e.fail(in.VerificationID, err)
	}

	doc, err := e.analyzer.AnalyzeID(ctx, img)
	if err != nil {
		return e.fail(in.VerificationID, err)
	}
	if !doc.Found {
		e.Log.Warn().Str("verification_id", v.ID).Msg("no identity document detected")
		return Result{StatusCode: http.StatusBadRequest, Error: reasonNoDocument}
	}

	// Fields are persisted whatever the validation outcome.
	if err := e.Repo.SaveDocumentFields(ctx, v.Key(), doc.Fields, e.Now()); err != nil {
		return e.fail(in.VerificationID, err)
	}

	payload := ExtractionPayload{
		Fields:         doc.Fields,
		Validation:     make(map[string]FieldCheck, len(RequiredFields)),
		DocumentType:   textOr(doc.Fields, "id_type", "UNKNOWN"),
		DocumentNumber: textOr(doc.Fields, "document_number", "UNKNOWN"),
	}
	valid := true
	for _, name := range RequiredFields {
		f := doc.Fields[name]
		check := FieldCheck{Present: f.Text != "", Confidence: f.Confidence}
		payload.Validation[name] = check
		if !check.Present || check.Confidence.LessThan(e.Policy.FieldConfidenceMin) {
			valid = false
		}
	}

	e.Log.Info().
		Str("verification_id", v.ID).
		Bool("valid", valid).
		Str("document_type", payload.DocumentType).
		Msg("document fields extracted")

	if !valid {
		return rejected(payload, reasonInvalidFields)
	}
	return ok(payload)
}

func textOr(fields model.DocumentFields, name, def string) string {
	if f, ok := fields[name]; ok && f.Text != "" {
		return f.Text
	}
	return def
}
