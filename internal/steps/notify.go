package steps

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"idverify/internal/model"
	"idverify/internal/provider"
)

// Notification is the input of the notify step.
type Notification struct {
	VerificationID string              `json:"verification_id"`
	Success        bool                `json:"success"`
	UserEmail      string              `json:"user_email"`
	Details        NotificationDetails `json:"details"`
}

// NotificationDetails carries the terminal status and the results of the
// last gated step that ran.
type NotificationDetails struct {
	Timestamp time.Time    `json:"timestamp"`
	Status    model.Status `json:"status"`
	Error     string       `json:"error,omitempty"`
	Results   any          `json:"results,omitempty"`
}

const (
	subjectSuccess = "ID Verification Successful"
	subjectFailure = "ID Verification Failed"
)

var (
	successBody = template.Must(template.New("success").Parse(`Your ID verification has been completed successfully.

Verification Details:
- Verification ID: {{.ID}}
- Status: {{.Status}}
- Timestamp: {{.Timestamp}}
- Similarity Score: {{.Similarity}}

Image Processing Results:
- Face Match Confidence: {{.Confidence}}
- Moderation Check: Passed
- Images Resized: Completed

Thank you for using our service.
`))

	failureBody = template.Must(template.New("failure").Parse(`Your ID verification could not be completed.

Verification Details:
- Verification ID: {{.ID}}
- Status: {{.Status}}
- Timestamp: {{.Timestamp}}
- Reason: {{.Reason}}

Please try again or contact support if you need assistance.
`))
)

type emailView struct {
	ID         string
	Status     string
	Timestamp  string
	Similarity string
	Confidence string
	Reason     string
}

var errNoRecipient = fmt.Errorf("%w: no email address provided", errBadInput)

// Notifier emails the requester the outcome of a verification.
type Notifier struct {
	base
	sender provider.EmailSender
}

func NewNotifier(d Deps, s provider.EmailSender) *Notifier {
	return &Notifier{base: newBase("notify", d), sender: s}
}

// Run sends the outcome email. A failed send is reported in the Result and
// logged; it never touches the record.
func (n *Notifier) Run(ctx context.Context, msg Notification) Result {
	return n.guard(msg.VerificationID, func() Result {
		if msg.UserEmail == "" {
			return n.fail(msg.VerificationID, errNoRecipient)
		}
		email, err := Compose(msg)
		if err != nil {
			return n.fail(msg.VerificationID, err)
		}
		if err := n.sender.SendEmail(ctx, email); err != nil {
			return n.fail(msg.VerificationID, err)
		}
		n.Log.Info().
			Str("verification_id", msg.VerificationID).
			Bool("success", msg.Success).
			Msg("notification sent")
		return Result{StatusCode: http.StatusOK, Success: true}
	})
}

// Compose renders the outcome email for msg.
func Compose(msg Notification) (provider.Email, error) {
	view := emailView{
		ID:         msg.VerificationID,
		Status:     string(msg.Details.Status),
		Timestamp:  msg.Details.Timestamp.UTC().Format(time.DateTime),
		Similarity: "N/A",
		Confidence: "N/A",
		Reason:     msg.Details.Error,
	}
	if msg.Details.Timestamp.IsZero() {
		view.Timestamp = time.Now().UTC().Format(time.DateTime)
	}
	if fm, ok := faceMatchOf(msg.Details.Results); ok {
		view.Similarity = fm.Similarity.StringFixed(2)
		view.Confidence = fm.Confidence.StringFixed(2)
	}

	subject, tmpl := subjectSuccess, successBody
	if view.Status == "" {
		view.Status = "Completed"
	}
	if !msg.Success {
		subject, tmpl = subjectFailure, failureBody
		if msg.Details.Status == "" {
			view.Status = "Failed"
		}
		if view.Reason == "" {
			view.Reason = "Verification requirements not met"
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return provider.Email{}, err
	}
	return provider.Email{To: msg.UserEmail, Subject: subject, Body: buf.String()}, nil
}

func faceMatchOf(results any) (model.FaceMatch, bool) {
	switch r := results.(type) {
	case model.FaceMatch:
		return r, true
	case *model.FaceMatch:
		if r != nil {
			return *r, true
		}
	}
	return model.FaceMatch{}, false
}
