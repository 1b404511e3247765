package store

import (
	"context"
	"fmt"
)

// OrgTaskStats counts an organization's tasks grouped by the status-bearing
// card names the board UI uses ("todo", "doing", "completed").
func (s *PostgresStore) OrgTaskStats(ctx context.Context, orgID int64) (TaskStats, error) {
	var stats TaskStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE LOWER(c.name) = 'completed'),
			COUNT(*) FILTER (WHERE LOWER(c.name) = 'todo'),
			COUNT(*) FILTER (WHERE LOWER(c.name) = 'doing')
		FROM tasks t
		JOIN cards c ON c.id = t.card_id
		JOIN boards b ON b.id = c.board_id
		WHERE b.org_id=$1
	`, orgID).Scan(&stats.Total, &stats.Completed, &stats.Pending, &stats.InProgress)
	if err != nil {
		return TaskStats{}, fmt.Errorf("org task stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) CardTaskCounts(ctx context.Context, orgID int64) ([]CardTaskCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, COUNT(t.id)::int
		FROM cards c
		JOIN boards b ON b.id = c.board_id
		LEFT JOIN tasks t ON t.card_id = c.id
		WHERE b.org_id=$1
		GROUP BY c.id, c.name
		ORDER BY c.id ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("card task counts: %w", err)
	}
	defer rows.Close()

	items := make([]CardTaskCount, 0)
	for rows.Next() {
		var item CardTaskCount
		if err := rows.Scan(&item.CardID, &item.CardName, &item.Total); err != nil {
			return nil, fmt.Errorf("scan card task count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card task counts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UserTaskStats(ctx context.Context, orgID int64) ([]UserTaskStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.profile_pic,
			COUNT(t.id)::int,
			COUNT(t.id) FILTER (WHERE LOWER(c.name) = 'completed')::int
		FROM users u
		JOIN organization_members om ON om.user_id = u.id
		LEFT JOIN tasks t ON t.assigned_to = u.id AND t.org_id = om.org_id
		LEFT JOIN cards c ON c.id = t.card_id
		WHERE om.org_id=$1
		GROUP BY u.id, u.name, u.email, u.profile_pic
		ORDER BY u.name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("user task stats: %w", err)
	}
	defer rows.Close()

	items := make([]UserTaskStats, 0)
	for rows.Next() {
		var item UserTaskStats
		if err := rows.Scan(&item.UserID, &item.Name, &item.Email, &item.ProfilePic, &item.Assigned, &item.Completed); err != nil {
			return nil, fmt.Errorf("scan user task stats: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user task stats: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ActivityCounts(ctx context.Context, orgID int64) ([]ActivityCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, COUNT(*)::int
		FROM activity
		WHERE org_id=$1
		GROUP BY action
		ORDER BY action ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("activity counts: %w", err)
	}
	defer rows.Close()

	items := make([]ActivityCount, 0)
	for rows.Next() {
		var item ActivityCount
		if err := rows.Scan(&item.Action, &item.Count); err != nil {
			return nil, fmt.Errorf("scan activity count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity counts: %w", err)
	}
	return items, nil
}
