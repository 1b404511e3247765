package app

import (
	"context"

	"taskboard/api/internal/rbac"
)

// Analytics run as plain read-only aggregate queries behind the membership
// gate.

func (s *Service) OrgTaskAnalytics(ctx context.Context, session Session, orgID int64) (map[string]any, error) {
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionView); err != nil {
		return nil, err
	}
	stats, err := s.store.OrgTaskStats(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total":       stats.Total,
		"completed":   stats.Completed,
		"pending":     stats.Pending,
		"in_progress": stats.InProgress,
	}, nil
}

func (s *Service) CardAnalytics(ctx context.Context, session Session, orgID int64) ([]map[string]any, error) {
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionView); err != nil {
		return nil, err
	}
	counts, err := s.store.CardTaskCounts(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(counts))
	for _, c := range counts {
		items = append(items, map[string]any{
			"card_id": c.CardID,
			"name":    c.CardName,
			"total":   c.Total,
		})
	}
	return items, nil
}

func (s *Service) UserAnalytics(ctx context.Context, session Session, orgID int64) ([]map[string]any, error) {
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionView); err != nil {
		return nil, err
	}
	stats, err := s.store.UserTaskStats(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(stats))
	for _, u := range stats {
		items = append(items, map[string]any{
			"user_id":     u.UserID,
			"name":        u.Name,
			"email":       u.Email,
			"profile_pic": u.ProfilePic,
			"assigned":    u.Assigned,
			"completed":   u.Completed,
		})
	}
	return items, nil
}

func (s *Service) ActivityAnalytics(ctx context.Context, session Session, orgID int64) ([]map[string]any, error) {
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionView); err != nil {
		return nil, err
	}
	counts, err := s.store.ActivityCounts(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(counts))
	for _, c := range counts {
		items = append(items, map[string]any{
			"action": c.Action,
			"count":  c.Count,
		})
	}
	return items, nil
}
