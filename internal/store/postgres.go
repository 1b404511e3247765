package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict is returned when a move carries stale card versions.
	ErrVersionConflict = errors.New("card version conflict")
	// ErrTaskNotInCard is returned when the moved task no longer belongs to
	// the claimed source card.
	ErrTaskNotInCard = errors.New("task not in source card")
	// ErrEmailTaken is returned when an email is already registered to
	// another user.
	ErrEmailTaken = errors.New("email already in use")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on any error. The
// connection is released back to the pool in every case.
func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash, phone string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, password_hash, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, email, password_hash, phone, profile_pic, created_at
	`, name, email, passwordHash, phone).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Phone, &user.ProfilePic, &user.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, phone, profile_pic, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Phone, &user.ProfilePic, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, phone, profile_pic, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Phone, &user.ProfilePic, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateUserProfile updates name/email/phone and, when params.ProfilePic is
// set, the stored picture path. It returns the updated user and the previous
// picture path so the caller can garbage-collect the replaced file.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, params UpdateProfileParams) (User, *string, error) {
	var user User
	var previousPic *string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var takenBy int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email=$1 AND id <> $2`, params.Email, params.ID).Scan(&takenBy)
		if err == nil {
			return ErrEmailTaken
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check email: %w", err)
		}

		if err := tx.QueryRowContext(ctx, `SELECT profile_pic FROM users WHERE id=$1`, params.ID).Scan(&previousPic); err != nil {
			return err
		}

		return tx.QueryRowContext(ctx, `
			UPDATE users
			SET name=$2, email=$3, phone=$4, profile_pic=COALESCE($5, profile_pic)
			WHERE id=$1
			RETURNING id, name, email, password_hash, phone, profile_pic, created_at
		`, params.ID, params.Name, params.Email, params.Phone, params.ProfilePic).Scan(
			&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Phone, &user.ProfilePic, &user.CreatedAt,
		)
	})
	if err != nil {
		return User{}, nil, err
	}
	return user, previousPic, nil
}

func (s *PostgresStore) ListOrgUsers(ctx context.Context, orgID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.phone, u.profile_pic
		FROM users u
		JOIN organization_members om ON om.user_id = u.id
		WHERE om.org_id=$1
		ORDER BY u.name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list org users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.Phone, &item.ProfilePic); err != nil {
			return nil, fmt.Errorf("scan org user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate org users: %w", err)
	}
	return items, nil
}

// ── Organizations ──

// CreateOrganization inserts the org, an admin membership for the creator and
// member memberships for each selected user, all in one transaction.
func (s *PostgresStore) CreateOrganization(ctx context.Context, name string, createdBy int64, memberIDs []int64) (int64, error) {
	var orgID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var creatorID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id=$1`, createdBy).Scan(&creatorID); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO organizations (name, created_by)
			VALUES ($1, $2)
			RETURNING id
		`, name, createdBy).Scan(&orgID); err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organization_members (user_id, org_id, role)
			VALUES ($1, $2, 'admin')
		`, createdBy, orgID); err != nil {
			return fmt.Errorf("insert admin membership: %w", err)
		}

		for _, memberID := range memberIDs {
			if memberID == createdBy {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO organization_members (user_id, org_id, role)
				VALUES ($1, $2, 'member')
				ON CONFLICT (user_id, org_id) DO NOTHING
			`, memberID, orgID); err != nil {
				return fmt.Errorf("insert membership: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orgID, nil
}

func (s *PostgresStore) ListOrganizationsForUser(ctx context.Context, userID int64) ([]OrgMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.name, om.user_id, om.role
		FROM organizations o
		JOIN organization_members om ON om.org_id = o.id
		WHERE om.user_id=$1
		ORDER BY o.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := make([]OrgMembership, 0)
	for rows.Next() {
		var item OrgMembership
		if err := rows.Scan(&item.OrgID, &item.OrgName, &item.UserID, &item.Role); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

// GetMembershipRole returns sql.ErrNoRows when the user is not a member.
func (s *PostgresStore) GetMembershipRole(ctx context.Context, userID, orgID int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM organization_members WHERE user_id=$1 AND org_id=$2
	`, userID, orgID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *PostgresStore) OrgIDForBoard(ctx context.Context, boardID int64) (int64, error) {
	var orgID int64
	err := s.db.QueryRowContext(ctx, `SELECT org_id FROM boards WHERE id=$1`, boardID).Scan(&orgID)
	if err != nil {
		return 0, err
	}
	return orgID, nil
}

func (s *PostgresStore) OrgIDForCard(ctx context.Context, cardID int64) (int64, error) {
	var orgID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT b.org_id
		FROM cards c
		JOIN boards b ON b.id = c.board_id
		WHERE c.id=$1
	`, cardID).Scan(&orgID)
	if err != nil {
		return 0, err
	}
	return orgID, nil
}

func (s *PostgresStore) OrgIDForTask(ctx context.Context, taskID int64) (int64, error) {
	var orgID int64
	err := s.db.QueryRowContext(ctx, `SELECT org_id FROM tasks WHERE id=$1`, taskID).Scan(&orgID)
	if err != nil {
		return 0, err
	}
	return orgID, nil
}

// ── Boards & cards ──

func (s *PostgresStore) ListBoards(ctx context.Context, orgID int64) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, org_id, img, created_by, created_at
		FROM boards
		WHERE org_id=$1
		ORDER BY created_at ASC, id ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		var item Board
		if err := rows.Scan(&item.ID, &item.Name, &item.OrgID, &item.Img, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) (Board, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO boards (name, org_id, img, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, board.Name, board.OrgID, board.Img, board.CreatedBy).Scan(&board.ID, &board.CreatedAt); err != nil {
			return fmt.Errorf("insert board: %w", err)
		}
		return insertActivity(ctx, tx, ActivityEntry{
			UserID:  board.CreatedBy,
			OrgID:   board.OrgID,
			BoardID: &board.ID,
			Action:  "board.create",
			Details: board.Name,
		})
	})
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

func (s *PostgresStore) ListCards(ctx context.Context, boardID int64) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, board_id, created_by, version
		FROM cards
		WHERE board_id=$1
		ORDER BY id ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]Card, 0)
	for rows.Next() {
		var item Card
		if err := rows.Scan(&item.ID, &item.Name, &item.BoardID, &item.CreatedBy, &item.Version); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateCard(ctx context.Context, card Card) (Card, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var orgID int64
		if err := tx.QueryRowContext(ctx, `SELECT org_id FROM boards WHERE id=$1`, card.BoardID).Scan(&orgID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO cards (name, board_id, created_by)
			VALUES ($1, $2, $3)
			RETURNING id, version
		`, card.Name, card.BoardID, card.CreatedBy).Scan(&card.ID, &card.Version); err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		return insertActivity(ctx, tx, ActivityEntry{
			UserID:  card.CreatedBy,
			OrgID:   orgID,
			BoardID: &card.BoardID,
			CardID:  &card.ID,
			Action:  "card.create",
			Details: card.Name,
		})
	})
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

// ── Activity ──

func insertActivity(ctx context.Context, tx *sql.Tx, entry ActivityEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activity (user_id, org_id, board_id, card_id, task_id, action, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.UserID, entry.OrgID, entry.BoardID, entry.CardID, entry.TaskID, entry.Action, entry.Details)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}
