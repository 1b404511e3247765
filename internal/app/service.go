package app

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"taskboard/api/internal/accounts"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type Session struct {
	Token     string
	UserID    int64
	UserName  string
	Email     string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	GetUserByID(context.Context, int64) (store.User, error)
	ListOrgUsers(context.Context, int64) ([]store.User, error)
	CreateOrganization(context.Context, string, int64, []int64) (int64, error)
	ListOrganizationsForUser(context.Context, int64) ([]store.OrgMembership, error)
	GetMembershipRole(context.Context, int64, int64) (string, error)
	OrgIDForBoard(context.Context, int64) (int64, error)
	OrgIDForCard(context.Context, int64) (int64, error)
	OrgIDForTask(context.Context, int64) (int64, error)
	ListBoards(context.Context, int64) ([]store.Board, error)
	CreateBoard(context.Context, store.Board) (store.Board, error)
	ListCards(context.Context, int64) ([]store.Card, error)
	CreateCard(context.Context, store.Card) (store.Card, error)
	BoardColumns(context.Context, int64) ([]store.CardColumn, error)
	CreateTask(context.Context, store.CreateTaskParams) (int64, error)
	UpdateTask(context.Context, store.UpdateTaskParams) (*string, error)
	DeleteTask(context.Context, int64, int64) (*string, error)
	MoveTask(context.Context, store.MoveTaskParams) (store.MoveResult, error)
	OrgTaskStats(context.Context, int64) (store.TaskStats, error)
	CardTaskCounts(context.Context, int64) ([]store.CardTaskCount, error)
	UserTaskStats(context.Context, int64) ([]store.UserTaskStats, error)
	ActivityCounts(context.Context, int64) ([]store.ActivityCount, error)
	Ping(ctx context.Context) error
}

// revocationStore invalidates issued tokens by JTI until they expire.
type revocationStore interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// fileCleaner schedules best-effort removal of stored files.
type fileCleaner interface {
	Enqueue(storedPath string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	accounts *accounts.Service
	revoker  revocationStore
	cleaner  fileCleaner
}

func New(cfg config.Config, dataStore *store.PostgresStore, accountsSvc *accounts.Service, revoker revocationStore, cleaner fileCleaner) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		accounts: accountsSvc,
		revoker:  revoker,
		cleaner:  cleaner,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DiscardUpload schedules removal of a stored file whose owning mutation
// failed, so rejected requests do not leak uploads.
func (s *Service) DiscardUpload(storedPath string) {
	if storedPath != "" {
		s.cleaner.Enqueue(storedPath)
	}
}

// ── Sessions ──

func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Name, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revoker.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	userID, err := claims.UserID()
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI != "" {
		_ = s.revoker.RevokeToken(ctx, session.JTI, session.ExpiresAt)
	}
	return nil
}

// ── Accounts ──

func (s *Service) SignUp(ctx context.Context, req accounts.SignUpRequest) (Session, map[string]any, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, nil, err
	}
	session, err := s.CreateSession(ctx, user)
	if err != nil {
		return Session{}, nil, err
	}
	return session, userPayload(user), nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, map[string]any, error) {
	user, err := s.accounts.Login(ctx, email, password)
	if err != nil {
		return Session{}, nil, err
	}
	session, err := s.CreateSession(ctx, user)
	if err != nil {
		return Session{}, nil, err
	}
	return session, userPayload(user), nil
}

func (s *Service) Profile(ctx context.Context, userID int64) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// UpdateProfile only operates on the caller's own account.
func (s *Service) UpdateProfile(ctx context.Context, session Session, req accounts.UpdateProfileRequest) (map[string]any, error) {
	if req.UserID != session.UserID {
		return nil, domainError(401, "UNAUTHORIZED", "Cannot modify another user's profile", nil)
	}
	user, previousPic, err := s.accounts.UpdateProfile(ctx, req)
	if err != nil {
		return nil, err
	}
	if previousPic != nil {
		s.cleaner.Enqueue(*previousPic)
	}
	return userPayload(user), nil
}

func (s *Service) OrgUsers(ctx context.Context, session Session, orgID int64) ([]map[string]any, error) {
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionView); err != nil {
		return nil, err
	}
	users, err := s.store.ListOrgUsers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items, nil
}

// ── Organizations ──

func (s *Service) CreateOrganization(ctx context.Context, session Session, name string, memberIDs []int64) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "organization name is required", nil)
	}
	orgID, err := s.store.CreateOrganization(ctx, name, session.UserID, memberIDs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": orgID, "name": name}, nil
}

func (s *Service) Organizations(ctx context.Context, session Session) ([]map[string]any, error) {
	memberships, err := s.store.ListOrganizationsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(memberships))
	for _, m := range memberships {
		items = append(items, map[string]any{
			"id":   m.OrgID,
			"name": m.OrgName,
			"role": m.Role,
		})
	}
	return items, nil
}

// requireMember resolves the caller's role in the organization and checks it
// against the requested action. A missing membership row reads the same as a
// bad token: the caller learns nothing about whether the org exists.
func (s *Service) requireMember(ctx context.Context, session Session, orgID int64, action rbac.Action) (string, error) {
	role, err := s.store.GetMembershipRole(ctx, session.UserID, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domainError(401, "UNAUTHORIZED", "Unauthorized", nil)
		}
		return "", err
	}
	if !rbac.Can(rbac.Normalize(role), action) {
		return "", domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return role, nil
}

// ── Boards / cards ──

func (s *Service) Boards(ctx context.Context, session Session, orgID int64) ([]map[string]any, error) {
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionView); err != nil {
		return nil, err
	}
	boards, err := s.store.ListBoards(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(boards))
	for _, b := range boards {
		items = append(items, boardPayload(b))
	}
	return items, nil
}

func (s *Service) CreateBoard(ctx context.Context, session Session, orgID int64, name string, img *string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "board name is required", nil)
	}
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionEdit); err != nil {
		return nil, err
	}
	board, err := s.store.CreateBoard(ctx, store.Board{
		Name:      name,
		OrgID:     orgID,
		Img:       img,
		CreatedBy: session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return boardPayload(board), nil
}

func (s *Service) Cards(ctx context.Context, session Session, boardID int64) ([]map[string]any, error) {
	orgID, err := s.store.OrgIDForBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionView); err != nil {
		return nil, err
	}
	cards, err := s.store.ListCards(ctx, boardID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(cards))
	for _, c := range cards {
		items = append(items, map[string]any{
			"id":       c.ID,
			"name":     c.Name,
			"board_id": c.BoardID,
			"version":  c.Version,
		})
	}
	return items, nil
}

func (s *Service) CreateCard(ctx context.Context, session Session, boardID int64, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "card name is required", nil)
	}
	orgID, err := s.store.OrgIDForBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionEdit); err != nil {
		return nil, err
	}
	card, err := s.store.CreateCard(ctx, store.Card{
		Name:      name,
		BoardID:   boardID,
		CreatedBy: session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       card.ID,
		"name":     card.Name,
		"board_id": card.BoardID,
		"version":  card.Version,
	}, nil
}

// ── Tasks ──

// BoardTasks returns the board's columns keyed by card id, each carrying its
// current version so clients can seed optimistic move counters.
func (s *Service) BoardTasks(ctx context.Context, session Session, boardID int64) (map[string]any, error) {
	orgID, err := s.store.OrgIDForBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionView); err != nil {
		return nil, err
	}
	columns, err := s.store.BoardColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(columns))
	for _, col := range columns {
		items := make([]map[string]any, 0, len(col.Items))
		for _, task := range col.Items {
			items = append(items, taskPayload(task))
		}
		payload[formatID(col.ID)] = map[string]any{
			"id":      col.ID,
			"name":    col.Name,
			"version": col.Version,
			"items":   items,
		}
	}
	return map[string]any{"cards": payload}, nil
}

type TaskInput struct {
	Title       string
	Description string
	AssignedTo  *int64
	Priority    string
	DueDate     *time.Time
	Img         *string
	Tags        []store.TagInput
	// Position is the requested index in the column; nil appends.
	Position *int
}

func validPriority(priority string) bool {
	switch priority {
	case "low", "medium", "high":
		return true
	}
	return false
}

func (s *Service) CreateTask(ctx context.Context, session Session, cardID int64, input TaskInput) (map[string]any, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "task title is required", nil)
	}
	if input.Priority == "" {
		input.Priority = "low"
	}
	if !validPriority(input.Priority) {
		return nil, domainError(400, "VALIDATION_ERROR", "priority must be low, medium, or high", nil)
	}
	position := -1
	if input.Position != nil {
		if *input.Position < 0 {
			return nil, domainError(400, "VALIDATION_ERROR", "position must not be negative", nil)
		}
		position = *input.Position
	}
	orgID, err := s.store.OrgIDForCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionEdit); err != nil {
		return nil, err
	}
	taskID, err := s.store.CreateTask(ctx, store.CreateTaskParams{
		Task: store.Task{
			Title:       input.Title,
			Description: input.Description,
			CardID:      cardID,
			OrgID:       orgID,
			AssignedTo:  input.AssignedTo,
			Img:         input.Img,
			Priority:    input.Priority,
			DueDate:     input.DueDate,
			CreatedBy:   session.UserID,
			Position:    position,
		},
		Tags:  input.Tags,
		Actor: session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": taskID}, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID int64, input TaskInput) error {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return domainError(400, "VALIDATION_ERROR", "task title is required", nil)
	}
	if input.Priority != "" && !validPriority(input.Priority) {
		return domainError(400, "VALIDATION_ERROR", "priority must be low, medium, or high", nil)
	}
	orgID, err := s.store.OrgIDForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionEdit); err != nil {
		return err
	}
	previousImg, err := s.store.UpdateTask(ctx, store.UpdateTaskParams{
		ID:          taskID,
		Title:       input.Title,
		Description: input.Description,
		AssignedTo:  input.AssignedTo,
		Priority:    input.Priority,
		DueDate:     input.DueDate,
		Img:         input.Img,
		Tags:        input.Tags,
		ReplaceTags: true,
		Actor:       session.UserID,
	})
	if err != nil {
		return err
	}
	if input.Img != nil && previousImg != nil && *previousImg != *input.Img {
		s.cleaner.Enqueue(*previousImg)
	}
	return nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID int64) error {
	orgID, err := s.store.OrgIDForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionEdit); err != nil {
		return err
	}
	img, err := s.store.DeleteTask(ctx, taskID, session.UserID)
	if err != nil {
		return err
	}
	if img != nil {
		s.cleaner.Enqueue(*img)
	}
	return nil
}

type MoveTaskInput struct {
	TaskID        int64 `json:"taskId"`
	SourceCardID  int64 `json:"sourceCardId"`
	DestCardID    int64 `json:"destinationCardId"`
	ToIndex       int   `json:"toIndex"`
	SourceVersion int64 `json:"sourceVersion"`
	DestVersion   int64 `json:"destinationVersion"`
}

func (s *Service) MoveTask(ctx context.Context, session Session, input MoveTaskInput) (map[string]any, error) {
	if input.TaskID == 0 || input.SourceCardID == 0 || input.DestCardID == 0 {
		return nil, domainError(400, "VALIDATION_ERROR", "taskId, sourceCardId, and destinationCardId are required", nil)
	}
	if input.ToIndex < 0 {
		return nil, domainError(400, "VALIDATION_ERROR", "toIndex must not be negative", nil)
	}
	orgID, err := s.store.OrgIDForCard(ctx, input.SourceCardID)
	if err != nil {
		return nil, err
	}
	if input.DestCardID != input.SourceCardID {
		destOrg, err := s.store.OrgIDForCard(ctx, input.DestCardID)
		if err != nil {
			return nil, err
		}
		if destOrg != orgID {
			return nil, domainError(400, "VALIDATION_ERROR", "cards belong to different organizations", nil)
		}
	}
	if _, err := s.requireMember(ctx, session, orgID, rbac.ActionEdit); err != nil {
		return nil, err
	}
	result, err := s.store.MoveTask(ctx, store.MoveTaskParams{
		TaskID:        input.TaskID,
		SourceCardID:  input.SourceCardID,
		DestCardID:    input.DestCardID,
		ToIndex:       input.ToIndex,
		SourceVersion: input.SourceVersion,
		DestVersion:   input.DestVersion,
		Actor:         session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sourceVersion":      result.SourceVersion,
		"destinationVersion": result.DestVersion,
	}, nil
}

// ── Payload helpers ──

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"name":        user.Name,
		"email":       user.Email,
		"phone":       user.Phone,
		"profile_pic": user.ProfilePic,
	}
}

func boardPayload(board store.Board) map[string]any {
	return map[string]any{
		"id":     board.ID,
		"name":   board.Name,
		"org_id": board.OrgID,
		"img":    board.Img,
	}
}

func taskPayload(task store.TaskWithMeta) map[string]any {
	tags := make([]map[string]any, 0, len(task.Tags))
	for _, tag := range task.Tags {
		tags = append(tags, map[string]any{
			"id":         tag.ID,
			"title":      tag.Title,
			"bg_color":   tag.BgColor,
			"text_color": tag.TextColor,
		})
	}
	payload := map[string]any{
		"id":          task.ID,
		"title":       task.Title,
		"description": task.Description,
		"card_id":     task.CardID,
		"assigned_to": task.AssignedTo,
		"img":         task.Img,
		"priority":    task.Priority,
		"due_date":    task.DueDate,
		"position":    task.Position,
		"tags":        tags,
	}
	if task.Assignee != nil {
		payload["assignee"] = map[string]any{
			"id":          task.Assignee.ID,
			"name":        task.Assignee.Name,
			"email":       task.Assignee.Email,
			"profile_pic": task.Assignee.ProfilePic,
		}
	}
	return payload
}
