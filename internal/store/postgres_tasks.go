package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// BoardColumns returns every card on the board with its tasks ordered by
// position, including assignee summaries and tags.
func (s *PostgresStore) BoardColumns(ctx context.Context, boardID int64) ([]CardColumn, error) {
	cards, err := s.ListCards(ctx, boardID)
	if err != nil {
		return nil, err
	}

	columns := make([]CardColumn, 0, len(cards))
	byCard := make(map[int64]*CardColumn, len(cards))
	for _, card := range cards {
		columns = append(columns, CardColumn{Card: card, Items: make([]TaskWithMeta, 0)})
		byCard[card.ID] = &columns[len(columns)-1]
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.description, t.card_id, t.org_id, t.assigned_to, t.img,
			t.priority, t.due_date, t.created_by, t.position,
			u.id, u.name, u.email, u.profile_pic
		FROM tasks t
		JOIN cards c ON c.id = t.card_id
		LEFT JOIN users u ON u.id = t.assigned_to
		WHERE c.board_id=$1
		ORDER BY t.card_id ASC, t.position ASC, t.id ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list board tasks: %w", err)
	}
	defer rows.Close()

	taskIndex := make(map[int64]*TaskWithMeta)
	for rows.Next() {
		var item TaskWithMeta
		var assigneeID sql.NullInt64
		var assigneeName, assigneeEmail sql.NullString
		var assigneePic *string
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Description, &item.CardID, &item.OrgID, &item.AssignedTo, &item.Img,
			&item.Priority, &item.DueDate, &item.CreatedBy, &item.Position,
			&assigneeID, &assigneeName, &assigneeEmail, &assigneePic,
		); err != nil {
			return nil, fmt.Errorf("scan board task: %w", err)
		}
		if assigneeID.Valid {
			item.Assignee = &TaskAssignee{
				ID:         assigneeID.Int64,
				Name:       assigneeName.String,
				Email:      assigneeEmail.String,
				ProfilePic: assigneePic,
			}
		}
		item.Tags = make([]Tag, 0)
		column, ok := byCard[item.CardID]
		if !ok {
			continue
		}
		column.Items = append(column.Items, item)
		taskIndex[item.ID] = &column.Items[len(column.Items)-1]
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board tasks: %w", err)
	}

	tagRows, err := s.db.QueryContext(ctx, `
		SELECT tt.task_id, g.id, g.title, g.bg_color, g.text_color
		FROM task_tags tt
		JOIN tags g ON g.id = tt.tag_id
		JOIN tasks t ON t.id = tt.task_id
		JOIN cards c ON c.id = t.card_id
		WHERE c.board_id=$1
		ORDER BY tt.task_id ASC, g.title ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list board task tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var taskID int64
		var tag Tag
		if err := tagRows.Scan(&taskID, &tag.ID, &tag.Title, &tag.BgColor, &tag.TextColor); err != nil {
			return nil, fmt.Errorf("scan task tag: %w", err)
		}
		if item, ok := taskIndex[taskID]; ok {
			item.Tags = append(item.Tags, tag)
		}
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task tags: %w", err)
	}

	return columns, nil
}

// CreateTask inserts the task, reconciles its tags and appends an activity
// row inside one transaction. A negative position appends to the column, any
// other value inserts at that index clamped into the column. The column's
// positions are rewritten densely either way, so a gap left by an earlier
// failure cannot produce duplicate positions.
func (s *PostgresStore) CreateTask(ctx context.Context, params CreateTaskParams) (int64, error) {
	task := params.Task
	var taskID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := lockedTaskIDs(ctx, tx, task.CardID)
		if err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO tasks (title, description, card_id, org_id, assigned_to, img, priority, due_date, created_by, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id
		`, task.Title, task.Description, task.CardID, task.OrgID, task.AssignedTo, task.Img,
			task.Priority, task.DueDate, task.CreatedBy, len(ids)).Scan(&taskID); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		index := task.Position
		if index < 0 {
			index = len(ids)
		}
		if err := writePositions(ctx, tx, insertAt(ids, taskID, index)); err != nil {
			return err
		}

		if err := reconcileTaskTags(ctx, tx, taskID, params.Tags); err != nil {
			return err
		}

		return insertActivity(ctx, tx, ActivityEntry{
			UserID:  params.Actor,
			OrgID:   task.OrgID,
			CardID:  &task.CardID,
			TaskID:  &taskID,
			Action:  "task.create",
			Details: task.Title,
		})
	})
	if err != nil {
		return 0, err
	}
	return taskID, nil
}

// UpdateTask updates the row and replaces its tag set inside one transaction.
// An empty priority keeps the stored one. It returns the previous image path
// so the caller can garbage-collect the replaced file after commit.
func (s *PostgresStore) UpdateTask(ctx context.Context, params UpdateTaskParams) (*string, error) {
	var previousImg *string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var orgID int64
		var cardID int64
		if err := tx.QueryRowContext(ctx, `
			SELECT img, org_id, card_id FROM tasks WHERE id=$1
		`, params.ID).Scan(&previousImg, &orgID, &cardID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET title=$2, description=$3, assigned_to=$4,
				priority=COALESCE(NULLIF($5, ''), priority), due_date=$6,
				img=COALESCE($7, img)
			WHERE id=$1
		`, params.ID, params.Title, params.Description, params.AssignedTo, params.Priority,
			params.DueDate, params.Img); err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		if params.ReplaceTags {
			if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id=$1`, params.ID); err != nil {
				return fmt.Errorf("clear task tags: %w", err)
			}
			if err := reconcileTaskTags(ctx, tx, params.ID, params.Tags); err != nil {
				return err
			}
		}

		taskID := params.ID
		return insertActivity(ctx, tx, ActivityEntry{
			UserID:  params.Actor,
			OrgID:   orgID,
			CardID:  &cardID,
			TaskID:  &taskID,
			Action:  "task.update",
			Details: params.Title,
		})
	})
	if err != nil {
		return nil, err
	}
	return previousImg, nil
}

// DeleteTask removes the task and its tag associations, compacting the
// remaining column positions and returning the stored image path (if any)
// for best-effort cleanup after commit.
func (s *PostgresStore) DeleteTask(ctx context.Context, taskID, actor int64) (*string, error) {
	var img *string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var orgID, cardID int64
		var title string
		if err := tx.QueryRowContext(ctx, `
			SELECT img, org_id, card_id, title FROM tasks WHERE id=$1
		`, taskID).Scan(&img, &orgID, &cardID, &title); err != nil {
			return err
		}

		ids, err := lockedTaskIDs(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id=$1`, taskID); err != nil {
			return fmt.Errorf("delete task tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}

		remaining, _ := removeID(ids, taskID)
		if err := writePositions(ctx, tx, remaining); err != nil {
			return err
		}

		id := taskID
		return insertActivity(ctx, tx, ActivityEntry{
			UserID:  actor,
			OrgID:   orgID,
			CardID:  &cardID,
			TaskID:  &id,
			Action:  "task.delete",
			Details: title,
		})
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// MoveTask relocates one task to toIndex within the destination card,
// recomputing dense zero-based positions for every affected column. Both
// cards are locked for the duration of the transaction and their version
// counters must match the caller's expectations; stale versions fail with
// ErrVersionConflict so concurrent moves are retried by the client instead
// of silently interleaving.
func (s *PostgresStore) MoveTask(ctx context.Context, params MoveTaskParams) (MoveResult, error) {
	var result MoveResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sameCard := params.SourceCardID == params.DestCardID

		// Lock in ascending card id order to avoid deadlocks between
		// concurrent cross-card moves.
		lockOrder := []int64{params.SourceCardID}
		if !sameCard {
			if params.DestCardID < params.SourceCardID {
				lockOrder = []int64{params.DestCardID, params.SourceCardID}
			} else {
				lockOrder = append(lockOrder, params.DestCardID)
			}
		}
		versions := make(map[int64]int64, len(lockOrder))
		for _, cardID := range lockOrder {
			var version int64
			if err := tx.QueryRowContext(ctx, `
				SELECT version FROM cards WHERE id=$1 FOR UPDATE
			`, cardID).Scan(&version); err != nil {
				return err
			}
			versions[cardID] = version
		}

		if versions[params.SourceCardID] != params.SourceVersion {
			return ErrVersionConflict
		}
		if !sameCard && versions[params.DestCardID] != params.DestVersion {
			return ErrVersionConflict
		}

		sourceIDs, err := lockedTaskIDs(ctx, tx, params.SourceCardID)
		if err != nil {
			return err
		}
		sourceIDs, found := removeID(sourceIDs, params.TaskID)
		if !found {
			return ErrTaskNotInCard
		}

		var orgID int64
		if err := tx.QueryRowContext(ctx, `SELECT org_id FROM tasks WHERE id=$1`, params.TaskID).Scan(&orgID); err != nil {
			return err
		}

		if sameCard {
			sourceIDs = insertAt(sourceIDs, params.TaskID, params.ToIndex)
			if err := writePositions(ctx, tx, sourceIDs); err != nil {
				return err
			}
			version, err := bumpCardVersion(ctx, tx, params.SourceCardID)
			if err != nil {
				return err
			}
			result = MoveResult{SourceVersion: version, DestVersion: version}
		} else {
			destIDs, err := lockedTaskIDs(ctx, tx, params.DestCardID)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET card_id=$2 WHERE id=$1
			`, params.TaskID, params.DestCardID); err != nil {
				return fmt.Errorf("reassign task card: %w", err)
			}
			destIDs = insertAt(destIDs, params.TaskID, params.ToIndex)
			if err := writePositions(ctx, tx, sourceIDs); err != nil {
				return err
			}
			if err := writePositions(ctx, tx, destIDs); err != nil {
				return err
			}
			sourceVersion, err := bumpCardVersion(ctx, tx, params.SourceCardID)
			if err != nil {
				return err
			}
			destVersion, err := bumpCardVersion(ctx, tx, params.DestCardID)
			if err != nil {
				return err
			}
			result = MoveResult{SourceVersion: sourceVersion, DestVersion: destVersion}
		}

		taskID := params.TaskID
		destCardID := params.DestCardID
		return insertActivity(ctx, tx, ActivityEntry{
			UserID:  params.Actor,
			OrgID:   orgID,
			CardID:  &destCardID,
			TaskID:  &taskID,
			Action:  "task.move",
			Details: fmt.Sprintf("card %d -> card %d index %d", params.SourceCardID, params.DestCardID, params.ToIndex),
		})
	})
	if err != nil {
		return MoveResult{}, err
	}
	return result, nil
}

func lockedTaskIDs(ctx context.Context, tx *sql.Tx, cardID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM tasks WHERE card_id=$1 ORDER BY position ASC, id ASC FOR UPDATE
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("lock card tasks: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task ids: %w", err)
	}
	return ids, nil
}

// writePositions rewrites positions 0..N-1 following the order of ids.
func writePositions(ctx context.Context, tx *sql.Tx, ids []int64) error {
	for position, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET position=$2 WHERE id=$1
		`, id, position); err != nil {
			return fmt.Errorf("write position: %w", err)
		}
	}
	return nil
}

func bumpCardVersion(ctx context.Context, tx *sql.Tx, cardID int64) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `
		UPDATE cards SET version = version + 1 WHERE id=$1 RETURNING version
	`, cardID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("bump card version: %w", err)
	}
	return version, nil
}

// reconcileTaskTags resolves each supplied tag to a durable row by title and
// links it to the task. An existing title is reused as-is; the request colors
// only apply when the tag is first created (tag colors are per-tag-global).
func reconcileTaskTags(ctx context.Context, tx *sql.Tx, taskID int64, tags []TagInput) error {
	for _, tag := range tags {
		title := strings.TrimSpace(tag.Title)
		if title == "" {
			continue
		}
		var tagID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE title=$1`, title).Scan(&tagID)
		if errors.Is(err, sql.ErrNoRows) {
			// DO UPDATE makes RETURNING yield the id even when a concurrent
			// insert won the race; the stored colors are left untouched.
			err = tx.QueryRowContext(ctx, `
				INSERT INTO tags (title, bg_color, text_color)
				VALUES ($1, $2, $3)
				ON CONFLICT (title) DO UPDATE SET title=EXCLUDED.title
				RETURNING id
			`, title, tag.BgColor, tag.TextColor).Scan(&tagID)
		}
		if err != nil {
			return fmt.Errorf("resolve tag %q: %w", title, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_tags (task_id, tag_id)
			VALUES ($1, $2)
			ON CONFLICT (task_id, tag_id) DO NOTHING
		`, taskID, tagID); err != nil {
			return fmt.Errorf("link tag %q: %w", title, err)
		}
	}
	return nil
}
