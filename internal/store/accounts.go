package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const accountColumns = "id, email, display_name, credential_ref, stage, status, profile_path, session_token, credential_blob, remote_project, profile_requested_at, login_requested_at, session_requested_at, project_requested_at, generate_requested_at, login_completed_at, session_extracted_at, last_error, last_error_at, created_at, updated_at"

// CreateAccount inserts a new account at StageNew with an ok status.
func (s *Store) CreateAccount(ctx context.Context, email, displayName, credentialRef string) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("create account: email is required")
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO accounts (email, display_name, credential_ref, stage, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		email,
		nullableString(displayName),
		nullableString(credentialRef),
		StageNew,
		AccountOK,
		timestamp(now),
		timestamp(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.AccountByID(ctx, id)
}

// AccountByID fetches an account by identifier.
func (s *Store) AccountByID(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// AccountByEmail fetches an account by its unique email.
func (s *Store) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return account, nil
}

// ListAccounts returns all accounts ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// AccountsByStatus returns accounts with the given status, oldest first.
func (s *Store) AccountsByStatus(ctx context.Context, status AccountStatus) ([]*Account, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE status = ? ORDER BY created_at, id`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("accounts by status: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// SaveStageArtifacts persists the fields a stage handler owns: the browser
// profile path, extracted session material, the remote project, and the
// completion timestamps. Stage, status, and request markers are excluded;
// those columns change only through their dedicated conditional updates.
func (s *Store) SaveStageArtifacts(ctx context.Context, account *Account) error {
	if account == nil || account.ID == 0 {
		return fmt.Errorf("save stage artifacts: missing identifier")
	}
	account.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE accounts SET
            profile_path = ?, session_token = ?, credential_blob = ?, remote_project = ?,
            login_completed_at = ?, session_extracted_at = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(account.ProfilePath),
		nullableString(account.SessionToken),
		nullableString(account.CredentialBlob),
		nullableString(account.RemoteProject),
		nullableTime(account.LoginCompletedAt),
		nullableTime(account.SessionExtractedAt),
		timestamp(account.UpdatedAt),
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("save stage artifacts: %w", err)
	}
	return nil
}

// AdvanceStage moves an account from one stage to the next atomically. The
// update is conditional on the account still being at the expected stage;
// a lost race surfaces as ErrStageConflict and leaves the row unchanged.
func (s *Store) AdvanceStage(ctx context.Context, id int64, from, to Stage) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE accounts SET stage = ?, updated_at = ? WHERE id = ? AND stage = ?`,
		to, timestamp(now), id, from,
	)
	if err != nil {
		return fmt.Errorf("advance stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, lookupErr := s.AccountByID(ctx, id); lookupErr != nil {
			return lookupErr
		}
		return fmt.Errorf("%w: account %d left stage %s", ErrStageConflict, id, from)
	}
	return nil
}

// SetAccountStatus updates the health status, recording the error text when
// the status is not ok and clearing it otherwise.
func (s *Store) SetAccountStatus(ctx context.Context, id int64, status AccountStatus, lastError string) error {
	now := time.Now().UTC()

	var errText any
	var errAt any
	if status != AccountOK && lastError != "" {
		errText = lastError
		errAt = timestamp(now)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE accounts SET status = ?, last_error = ?, last_error_at = ?, updated_at = ? WHERE id = ?`,
		status, errText, errAt, timestamp(now), id,
	)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	return nil
}

// MarkRequested records a stage request marker for an account. The marker
// stays set until the matching job completes, so a crashed dispatch can be
// recovered by the scanner.
func (s *Store) MarkRequested(ctx context.Context, id int64, jobType JobType, at time.Time) error {
	column, ok := requestColumn(jobType)
	if !ok {
		return fmt.Errorf("mark requested: unknown job type %q", jobType)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE accounts SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		timestamp(at.UTC()), timestamp(now), id,
	)
	if err != nil {
		return fmt.Errorf("mark requested: %w", err)
	}
	return nil
}

// ClearRequested removes a stage request marker after the job finished.
func (s *Store) ClearRequested(ctx context.Context, id int64, jobType JobType) error {
	column, ok := requestColumn(jobType)
	if !ok {
		return fmt.Errorf("clear requested: unknown job type %q", jobType)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE accounts SET `+column+` = NULL, updated_at = ? WHERE id = ?`,
		timestamp(now), id,
	)
	if err != nil {
		return fmt.Errorf("clear requested: %w", err)
	}
	return nil
}

// AccountsWithRequests returns dispatchable accounts that carry at least one
// request marker, ordered oldest marker first. The scanner uses this to pick
// up requests whose triggered enqueue was lost.
func (s *Store) AccountsWithRequests(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+accountColumns+` FROM accounts
         WHERE status = ? AND (
            profile_requested_at IS NOT NULL OR
            login_requested_at IS NOT NULL OR
            session_requested_at IS NOT NULL OR
            project_requested_at IS NOT NULL OR
            generate_requested_at IS NOT NULL
         )`,
		AccountOK,
	)
	if err != nil {
		return nil, fmt.Errorf("accounts with requests: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account and, via the foreign key cascade, its
// jobs.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func requestColumn(jobType JobType) (string, bool) {
	switch jobType {
	case JobProvisionProfile:
		return "profile_requested_at", true
	case JobInteractiveLogin:
		return "login_requested_at", true
	case JobExtractSession:
		return "session_requested_at", true
	case JobCreateRemoteProject:
		return "project_requested_at", true
	case JobGenerateContent:
		return "generate_requested_at", true
	default:
		return "", false
	}
}

func scanAccount(scanner interface{ Scan(dest ...any) error }) (*Account, error) {
	var (
		id             int64
		email          string
		displayName    sql.NullString
		credentialRef  sql.NullString
		stage          string
		status         string
		profilePath    sql.NullString
		sessionToken   sql.NullString
		credentialBlob sql.NullString
		remoteProject  sql.NullString
		profileReqRaw  sql.NullString
		loginReqRaw    sql.NullString
		sessionReqRaw  sql.NullString
		projectReqRaw  sql.NullString
		generateReqRaw sql.NullString
		loginDoneRaw   sql.NullString
		sessionDoneRaw sql.NullString
		lastError      sql.NullString
		lastErrorRaw   sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&email,
		&displayName,
		&credentialRef,
		&stage,
		&status,
		&profilePath,
		&sessionToken,
		&credentialBlob,
		&remoteProject,
		&profileReqRaw,
		&loginReqRaw,
		&sessionReqRaw,
		&projectReqRaw,
		&generateReqRaw,
		&loginDoneRaw,
		&sessionDoneRaw,
		&lastError,
		&lastErrorRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	account := &Account{
		ID:                  id,
		Email:               email,
		DisplayName:         displayName.String,
		CredentialRef:       credentialRef.String,
		Stage:               Stage(stage),
		Status:              AccountStatus(status),
		ProfilePath:         profilePath.String,
		SessionToken:        sessionToken.String,
		CredentialBlob:      credentialBlob.String,
		RemoteProject:       remoteProject.String,
		ProfileRequestedAt:  scanNullableTime(profileReqRaw),
		LoginRequestedAt:    scanNullableTime(loginReqRaw),
		SessionRequestedAt:  scanNullableTime(sessionReqRaw),
		ProjectRequestedAt:  scanNullableTime(projectReqRaw),
		GenerateRequestedAt: scanNullableTime(generateReqRaw),
		LoginCompletedAt:    scanNullableTime(loginDoneRaw),
		SessionExtractedAt:  scanNullableTime(sessionDoneRaw),
		LastError:           lastError.String,
		LastErrorAt:         scanNullableTime(lastErrorRaw),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		account.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		account.UpdatedAt = updated
	}
	return account, nil
}
