package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"idverify/internal/model"
	"idverify/internal/repository"
)

// VerificationPostgres is a PostgreSQL implementation of repository.VerificationRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type VerificationPostgres struct {
	db *sql.DB
}

// NewVerificationPostgres creates a new VerificationPostgres repository.
func NewVerificationPostgres(db *sql.DB) *VerificationPostgres {
	return &VerificationPostgres{db: db}
}

var _ repository.VerificationRepository = (*VerificationPostgres)(nil)

const selectColumns = `
	verification_id, created_at, expires_at,
	requester_email, requester_given, requester_family,
	document_key, document_size, selfie_key, selfie_size,
	resized_document_key, resized_document_size, resized_selfie_key, resized_selfie_size,
	document_fields, moderation_result, face_match_result,
	status, failure_reason, last_updated,
	document_uploaded, selfie_uploaded, workflow_run_id, workflow_started_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerification(row rowScanner) (*model.Verification, error) {
	var (
		v              model.Verification
		status         string
		resizedDocKey  sql.NullString
		resizedDocSize sql.NullInt64
		resizedSelfKey sql.NullString
		resizedSelfSz  sql.NullInt64
		fieldsRaw      []byte
		moderationRaw  []byte
		fmRaw          []byte
		runID          sql.NullString
		startedAt      sql.NullTime
	)
	if err := row.Scan(
		&v.ID, &v.CreatedAt, &v.ExpiresAt,
		&v.Requester.Email, &v.Requester.GivenName, &v.Requester.FamilyName,
		&v.DocumentImage.Key, &v.DocumentImage.Size, &v.SelfieImage.Key, &v.SelfieImage.Size,
		&resizedDocKey, &resizedDocSize, &resizedSelfKey, &resizedSelfSz,
		&fieldsRaw, &moderationRaw, &fmRaw,
		&status, &v.FailureReason, &v.LastUpdated,
		&v.DocumentUploaded, &v.SelfieUploaded, &runID, &startedAt,
	); err != nil {
		return nil, err
	}

	st, ok := model.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("verification %s: unknown status %q", v.ID, status)
	}
	v.Status = st

	if resizedDocKey.Valid {
		v.ResizedDocumentImage = &model.ImageRef{Key: resizedDocKey.String, Size: resizedDocSize.Int64}
	}
	if resizedSelfKey.Valid {
		v.ResizedSelfieImage = &model.ImageRef{Key: resizedSelfKey.String, Size: resizedSelfSz.Int64}
	}
	if len(fieldsRaw) > 0 {
		if err := json.Unmarshal(fieldsRaw, &v.DocumentFields); err != nil {
			return nil, fmt.Errorf("decode document_fields: %w", err)
		}
	}
	if len(moderationRaw) > 0 {
		v.Moderation = &model.ModerationResult{}
		if err := json.Unmarshal(moderationRaw, v.Moderation); err != nil {
			return nil, fmt.Errorf("decode moderation_result: %w", err)
		}
	}
	if len(fmRaw) > 0 {
		v.FaceMatch = &model.FaceMatch{}
		if err := json.Unmarshal(fmRaw, v.FaceMatch); err != nil {
			return nil, fmt.Errorf("decode face_match_result: %w", err)
		}
	}
	if runID.Valid {
		v.WorkflowRunID = runID.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		v.WorkflowStartedAt = &t
	}
	return &v, nil
}

// Create inserts a new verification row.
func (r *VerificationPostgres) Create(ctx context.Context, v *model.Verification) error {
	const q = `
		INSERT INTO verifications (
			verification_id, created_at, expires_at,
			requester_email, requester_given, requester_family,
			document_key, document_size, selfie_key, selfie_size,
			status, status_rank, last_updated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, q,
		v.ID, v.CreatedAt, v.ExpiresAt,
		v.Requester.Email, v.Requester.GivenName, v.Requester.FamilyName,
		v.DocumentImage.Key, v.DocumentImage.Size, v.SelfieImage.Key, v.SelfieImage.Size,
		string(v.Status), v.Status.Rank(), v.LastUpdated,
	)
	return err
}

// FindLatest fetches the most recent record for a verification id.
func (r *VerificationPostgres) FindLatest(ctx context.Context, id string) (*model.Verification, error) {
	q := `SELECT ` + selectColumns + `
		FROM verifications
		WHERE verification_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	v, err := scanVerification(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *VerificationPostgres) SaveDocumentFields(ctx context.Context, key model.RecordKey, fields model.DocumentFields, at time.Time) error {
	return r.saveJSON(ctx, key, "document_fields", fields, at)
}

func (r *VerificationPostgres) SaveModeration(ctx context.Context, key model.RecordKey, res model.ModerationResult, at time.Time) error {
	return r.saveJSON(ctx, key, "moderation_result", res, at)
}

func (r *VerificationPostgres) SaveFaceMatch(ctx context.Context, key model.RecordKey, fm model.FaceMatch, at time.Time) error {
	return r.saveJSON(ctx, key, "face_match_result", fm, at)
}

// saveJSON overwrites one JSONB column. column is always a compile-time constant.
func (r *VerificationPostgres) saveJSON(ctx context.Context, key model.RecordKey, column string, value any, at time.Time) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", column, err)
	}
	q := `UPDATE verifications SET ` + column + ` = $3, last_updated = $4
		WHERE verification_id = $1 AND created_at = $2 AND status_rank < $5`
	res, err := r.db.ExecContext(ctx, q, key.VerificationID, key.CreatedAt, string(b), at, model.TerminalRank())
	if err != nil {
		return err
	}
	return r.checkStepWrite(ctx, key, res)
}

func (r *VerificationPostgres) SaveResizedImages(ctx context.Context, key model.RecordKey, document, selfie model.ImageRef, at time.Time) error {
	const q = `
		UPDATE verifications
		SET resized_document_key = $3, resized_document_size = $4,
		    resized_selfie_key = $5, resized_selfie_size = $6,
		    last_updated = $7
		WHERE verification_id = $1 AND created_at = $2 AND status_rank < $8
	`
	res, err := r.db.ExecContext(ctx, q,
		key.VerificationID, key.CreatedAt,
		document.Key, document.Size, selfie.Key, selfie.Size,
		at, model.TerminalRank(),
	)
	if err != nil {
		return err
	}
	return r.checkStepWrite(ctx, key, res)
}

// checkStepWrite turns a zero-row update into ErrNotFound or ErrFinalized.
func (r *VerificationPostgres) checkStepWrite(ctx context.Context, key model.RecordKey, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	exists, err := r.exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrFinalized
}

func (r *VerificationPostgres) exists(ctx context.Context, key model.RecordKey) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM verifications WHERE verification_id = $1 AND created_at = $2)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, key.VerificationID, key.CreatedAt).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// AdvanceStatus applies a forward-only status change.
func (r *VerificationPostgres) AdvanceStatus(ctx context.Context, key model.RecordKey, status model.Status, reason string, at time.Time) (bool, error) {
	rank := status.Rank()
	if rank < 0 {
		return false, fmt.Errorf("unknown status %q", status)
	}
	const q = `
		UPDATE verifications
		SET status = $3, status_rank = $4,
		    failure_reason = CASE WHEN $5 = '' THEN failure_reason ELSE $5 END,
		    last_updated = $6
		WHERE verification_id = $1 AND created_at = $2
		  AND status_rank <= $4 AND status_rank < $7
	`
	res, err := r.db.ExecContext(ctx, q,
		key.VerificationID, key.CreatedAt, string(status), rank, reason, at, model.TerminalRank(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	exists, err := r.exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// MarkUploaded sets one arrival flag and claims the run in a single statement.
// The row lock taken by UPDATE serialises concurrent arrivals; the CASE sees
// the pre-update flags, so the current arrival is OR-ed in explicitly.
func (r *VerificationPostgres) MarkUploaded(ctx context.Context, key model.RecordKey, category string, runID string, at time.Time) (bool, error) {
	isDoc, isSelfie, err := categoryFlags(category)
	if err != nil {
		return false, err
	}
	const q = `
		UPDATE verifications
		SET document_uploaded = document_uploaded OR $3,
		    selfie_uploaded = selfie_uploaded OR $4,
		    workflow_run_id = CASE
		        WHEN workflow_run_id IS NULL AND (document_uploaded OR $3) AND (selfie_uploaded OR $4)
		        THEN $5::uuid ELSE workflow_run_id END,
		    workflow_started_at = CASE
		        WHEN workflow_run_id IS NULL AND (document_uploaded OR $3) AND (selfie_uploaded OR $4)
		        THEN $6 ELSE workflow_started_at END,
		    last_updated = $6
		WHERE verification_id = $1 AND created_at = $2
		RETURNING COALESCE(workflow_run_id = $5::uuid, FALSE)
	`
	var claimed bool
	err = r.db.QueryRowContext(ctx, q, key.VerificationID, key.CreatedAt, isDoc, isSelfie, runID, at).Scan(&claimed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, repository.ErrNotFound
		}
		return false, err
	}
	return claimed, nil
}

func categoryFlags(category string) (bool, bool, error) {
	switch category {
	case "document":
		return true, false, nil
	case "selfie":
		return false, true, nil
	}
	return false, false, fmt.Errorf("unknown image category %q", category)
}

// Delete removes a record. It does not return an error if the row does not exist.
func (r *VerificationPostgres) Delete(ctx context.Context, key model.RecordKey) error {
	const q = `DELETE FROM verifications WHERE verification_id = $1 AND created_at = $2`
	_, err := r.db.ExecContext(ctx, q, key.VerificationID, key.CreatedAt)
	return err
}

// ListExpired returns records past their expiry, oldest first.
func (r *VerificationPostgres) ListExpired(ctx context.Context, before time.Time, limit int) ([]model.Verification, error) {
	q := `SELECT ` + selectColumns + `
		FROM verifications
		WHERE expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Verification, 0)
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ListStale returns unfinished records whose run started, or which were
// created, before the cutoff.
func (r *VerificationPostgres) ListStale(ctx context.Context, before time.Time, limit int) ([]model.Verification, error) {
	q := `SELECT ` + selectColumns + `
		FROM verifications
		WHERE status_rank < $1
		  AND COALESCE(workflow_started_at, created_at) < $2
		ORDER BY COALESCE(workflow_started_at, created_at)
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, model.TerminalRank(), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Verification, 0)
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
