package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"taskboard/api/internal/accounts"
	"taskboard/api/internal/config"
	"taskboard/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn        func(context.Context, int64) (store.User, error)
	getUserByEmailFn     func(context.Context, string) (store.User, error)
	createUserFn         func(context.Context, string, string, string, string) (store.User, error)
	updateUserProfileFn  func(context.Context, store.UpdateProfileParams) (store.User, *string, error)
	listOrgUsersFn       func(context.Context, int64) ([]store.User, error)
	createOrganizationFn func(context.Context, string, int64, []int64) (int64, error)
	listOrganizationsFn  func(context.Context, int64) ([]store.OrgMembership, error)
	getMembershipRoleFn  func(context.Context, int64, int64) (string, error)
	orgIDForBoardFn      func(context.Context, int64) (int64, error)
	orgIDForCardFn       func(context.Context, int64) (int64, error)
	orgIDForTaskFn       func(context.Context, int64) (int64, error)
	listBoardsFn         func(context.Context, int64) ([]store.Board, error)
	createBoardFn        func(context.Context, store.Board) (store.Board, error)
	listCardsFn          func(context.Context, int64) ([]store.Card, error)
	createCardFn         func(context.Context, store.Card) (store.Card, error)
	boardColumnsFn       func(context.Context, int64) ([]store.CardColumn, error)
	createTaskFn         func(context.Context, store.CreateTaskParams) (int64, error)
	updateTaskFn         func(context.Context, store.UpdateTaskParams) (*string, error)
	deleteTaskFn         func(context.Context, int64, int64) (*string, error)
	moveTaskFn           func(context.Context, store.MoveTaskParams) (store.MoveResult, error)
	orgTaskStatsFn       func(context.Context, int64) (store.TaskStats, error)
	cardTaskCountsFn     func(context.Context, int64) ([]store.CardTaskCount, error)
	userTaskStatsFn      func(context.Context, int64) ([]store.UserTaskStats, error)
	activityCountsFn     func(context.Context, int64) ([]store.ActivityCount, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(ctx context.Context, name, email, passwordHash, phone string) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, name, email, passwordHash, phone)
	}
	return store.User{ID: 1, Name: name, Email: email, PasswordHash: passwordHash, Phone: phone}, nil
}

func (f *fakeStore) UpdateUserProfile(ctx context.Context, params store.UpdateProfileParams) (store.User, *string, error) {
	if f.updateUserProfileFn != nil {
		return f.updateUserProfileFn(ctx, params)
	}
	return store.User{ID: params.ID, Name: params.Name, Email: params.Email, Phone: params.Phone}, nil, nil
}

func (f *fakeStore) ListOrgUsers(ctx context.Context, orgID int64) ([]store.User, error) {
	if f.listOrgUsersFn != nil {
		return f.listOrgUsersFn(ctx, orgID)
	}
	return nil, nil
}

func (f *fakeStore) CreateOrganization(ctx context.Context, name string, createdBy int64, memberIDs []int64) (int64, error) {
	if f.createOrganizationFn != nil {
		return f.createOrganizationFn(ctx, name, createdBy, memberIDs)
	}
	return 1, nil
}

func (f *fakeStore) ListOrganizationsForUser(ctx context.Context, userID int64) ([]store.OrgMembership, error) {
	if f.listOrganizationsFn != nil {
		return f.listOrganizationsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) GetMembershipRole(ctx context.Context, userID, orgID int64) (string, error) {
	if f.getMembershipRoleFn != nil {
		return f.getMembershipRoleFn(ctx, userID, orgID)
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) OrgIDForBoard(ctx context.Context, boardID int64) (int64, error) {
	if f.orgIDForBoardFn != nil {
		return f.orgIDForBoardFn(ctx, boardID)
	}
	return 0, sql.ErrNoRows
}

func (f *fakeStore) OrgIDForCard(ctx context.Context, cardID int64) (int64, error) {
	if f.orgIDForCardFn != nil {
		return f.orgIDForCardFn(ctx, cardID)
	}
	return 0, sql.ErrNoRows
}

func (f *fakeStore) OrgIDForTask(ctx context.Context, taskID int64) (int64, error) {
	if f.orgIDForTaskFn != nil {
		return f.orgIDForTaskFn(ctx, taskID)
	}
	return 0, sql.ErrNoRows
}

func (f *fakeStore) ListBoards(ctx context.Context, orgID int64) ([]store.Board, error) {
	if f.listBoardsFn != nil {
		return f.listBoardsFn(ctx, orgID)
	}
	return nil, nil
}

func (f *fakeStore) CreateBoard(ctx context.Context, board store.Board) (store.Board, error) {
	if f.createBoardFn != nil {
		return f.createBoardFn(ctx, board)
	}
	board.ID = 1
	return board, nil
}

func (f *fakeStore) ListCards(ctx context.Context, boardID int64) ([]store.Card, error) {
	if f.listCardsFn != nil {
		return f.listCardsFn(ctx, boardID)
	}
	return nil, nil
}

func (f *fakeStore) CreateCard(ctx context.Context, card store.Card) (store.Card, error) {
	if f.createCardFn != nil {
		return f.createCardFn(ctx, card)
	}
	card.ID = 1
	return card, nil
}

func (f *fakeStore) BoardColumns(ctx context.Context, boardID int64) ([]store.CardColumn, error) {
	if f.boardColumnsFn != nil {
		return f.boardColumnsFn(ctx, boardID)
	}
	return nil, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, params store.CreateTaskParams) (int64, error) {
	if f.createTaskFn != nil {
		return f.createTaskFn(ctx, params)
	}
	return 1, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, params store.UpdateTaskParams) (*string, error) {
	if f.updateTaskFn != nil {
		return f.updateTaskFn(ctx, params)
	}
	return nil, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, taskID, actor int64) (*string, error) {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, taskID, actor)
	}
	return nil, nil
}

func (f *fakeStore) MoveTask(ctx context.Context, params store.MoveTaskParams) (store.MoveResult, error) {
	if f.moveTaskFn != nil {
		return f.moveTaskFn(ctx, params)
	}
	return store.MoveResult{}, nil
}

func (f *fakeStore) OrgTaskStats(ctx context.Context, orgID int64) (store.TaskStats, error) {
	if f.orgTaskStatsFn != nil {
		return f.orgTaskStatsFn(ctx, orgID)
	}
	return store.TaskStats{}, nil
}

func (f *fakeStore) CardTaskCounts(ctx context.Context, orgID int64) ([]store.CardTaskCount, error) {
	if f.cardTaskCountsFn != nil {
		return f.cardTaskCountsFn(ctx, orgID)
	}
	return nil, nil
}

func (f *fakeStore) UserTaskStats(ctx context.Context, orgID int64) ([]store.UserTaskStats, error) {
	if f.userTaskStatsFn != nil {
		return f.userTaskStatsFn(ctx, orgID)
	}
	return nil, nil
}

func (f *fakeStore) ActivityCounts(ctx context.Context, orgID int64) ([]store.ActivityCount, error) {
	if f.activityCountsFn != nil {
		return f.activityCountsFn(ctx, orgID)
	}
	return nil, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeRevoker struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (f *fakeRevoker) RevokeToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = make(map[string]bool)
	}
	f.revoked[jti] = true
	return nil
}

func (f *fakeRevoker) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeCleaner struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeCleaner) Enqueue(storedPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, storedPath)
}

func (f *fakeCleaner) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newTestService(fs *fakeStore) (*Service, *fakeCleaner) {
	cleaner := &fakeCleaner{}
	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			SessionTTL: time.Hour,
		},
		store:    fs,
		accounts: accounts.NewService(fs),
		revoker:  &fakeRevoker{},
		cleaner:  cleaner,
	}
	return svc, cleaner
}

func memberOfOrg(orgID int64, role string) func(context.Context, int64, int64) (string, error) {
	return func(_ context.Context, _ int64, got int64) (string, error) {
		if got != orgID {
			return "", sql.ErrNoRows
		}
		return role, nil
	}
}

func TestSessionRoundTrip(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id int64) (store.User, error) {
			return store.User{ID: id, Name: "Avery", Email: "avery@example.com"}, nil
		},
	}
	svc, _ := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), store.User{ID: 7, Name: "Avery", Email: "avery@example.com"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Token == "" || session.JTI == "" {
		t.Fatalf("expected token and jti, got %+v", session)
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != 7 || parsed.UserName != "Avery" {
		t.Fatalf("unexpected session: %+v", parsed)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id int64) (store.User, error) {
			return store.User{ID: id, Name: "Avery"}, nil
		},
	}
	svc, _ := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), store.User{ID: 7, Name: "Avery"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := svc.Logout(context.Background(), session); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatalf("expected revoked token to be rejected")
	}
}

func TestBoardsRejectsNonMember(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(fs)

	_, err := svc.Boards(context.Background(), Session{UserID: 1}, 5)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 401 {
		t.Fatalf("expected 401 for non-member, got %d", domainErr.Status)
	}
}

func TestUpdateProfileRejectsOtherUser(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	_, err := svc.UpdateProfile(context.Background(), Session{UserID: 1}, accounts.UpdateProfileRequest{
		UserID: 2,
		Name:   "Avery",
		Email:  "avery@example.com",
		Phone:  "555-0100",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != 401 {
		t.Fatalf("expected 401, got %d", domainErr.Status)
	}
}

func TestUpdateTaskEnqueuesReplacedImage(t *testing.T) {
	oldImg := "/uploads/old.png"
	newImg := "/uploads/new.png"
	fs := &fakeStore{
		orgIDForTaskFn:      func(context.Context, int64) (int64, error) { return 5, nil },
		getMembershipRoleFn: memberOfOrg(5, "member"),
		updateTaskFn: func(_ context.Context, params store.UpdateTaskParams) (*string, error) {
			if !params.ReplaceTags {
				t.Fatalf("expected replace-all tag semantics on update")
			}
			return &oldImg, nil
		},
	}
	svc, cleaner := newTestService(fs)

	err := svc.UpdateTask(context.Background(), Session{UserID: 1}, 10, TaskInput{
		Title: "Ship it",
		Img:   &newImg,
	})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	enqueued := cleaner.enqueued()
	if len(enqueued) != 1 || enqueued[0] != oldImg {
		t.Fatalf("expected old image enqueued for cleanup, got %v", enqueued)
	}
}

func TestUpdateTaskWithoutNewImageKeepsOld(t *testing.T) {
	oldImg := "/uploads/old.png"
	fs := &fakeStore{
		orgIDForTaskFn:      func(context.Context, int64) (int64, error) { return 5, nil },
		getMembershipRoleFn: memberOfOrg(5, "member"),
		updateTaskFn: func(_ context.Context, params store.UpdateTaskParams) (*string, error) {
			if params.Img != nil {
				t.Fatalf("expected nil Img when no upload supplied")
			}
			return &oldImg, nil
		},
	}
	svc, cleaner := newTestService(fs)

	if err := svc.UpdateTask(context.Background(), Session{UserID: 1}, 10, TaskInput{Title: "Ship it"}); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if enqueued := cleaner.enqueued(); len(enqueued) != 0 {
		t.Fatalf("expected no cleanup, got %v", enqueued)
	}
}

func TestDeleteTaskEnqueuesStoredImage(t *testing.T) {
	img := "/uploads/task.png"
	fs := &fakeStore{
		orgIDForTaskFn:      func(context.Context, int64) (int64, error) { return 5, nil },
		getMembershipRoleFn: memberOfOrg(5, "member"),
		deleteTaskFn: func(context.Context, int64, int64) (*string, error) {
			return &img, nil
		},
	}
	svc, cleaner := newTestService(fs)

	if err := svc.DeleteTask(context.Background(), Session{UserID: 1}, 10); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	enqueued := cleaner.enqueued()
	if len(enqueued) != 1 || enqueued[0] != img {
		t.Fatalf("expected stored image enqueued, got %v", enqueued)
	}
}

func TestCreateTaskDefaultsPriorityAndAppends(t *testing.T) {
	var gotParams store.CreateTaskParams
	fs := &fakeStore{
		orgIDForCardFn:      func(context.Context, int64) (int64, error) { return 5, nil },
		getMembershipRoleFn: memberOfOrg(5, "member"),
		createTaskFn: func(_ context.Context, params store.CreateTaskParams) (int64, error) {
			gotParams = params
			return 33, nil
		},
	}
	svc, _ := newTestService(fs)

	payload, err := svc.CreateTask(context.Background(), Session{UserID: 1}, 2, TaskInput{Title: "  Ship it  "})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if payload["id"] != int64(33) {
		t.Fatalf("expected id 33, got %v", payload["id"])
	}
	if gotParams.Task.Priority != "low" {
		t.Fatalf("expected default priority low, got %q", gotParams.Task.Priority)
	}
	if gotParams.Task.Position != -1 {
		t.Fatalf("expected append position sentinel, got %d", gotParams.Task.Position)
	}
	if gotParams.Task.Title != "Ship it" {
		t.Fatalf("expected trimmed title, got %q", gotParams.Task.Title)
	}
	if gotParams.Task.OrgID != 5 {
		t.Fatalf("expected org resolved from card, got %d", gotParams.Task.OrgID)
	}
}

func TestCreateTaskRejectsBadPriority(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	_, err := svc.CreateTask(context.Background(), Session{UserID: 1}, 2, TaskInput{Title: "x", Priority: "urgent"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestMoveTaskRejectsCrossOrgCards(t *testing.T) {
	fs := &fakeStore{
		orgIDForCardFn: func(_ context.Context, cardID int64) (int64, error) {
			if cardID == 1 {
				return 5, nil
			}
			return 6, nil
		},
		getMembershipRoleFn: memberOfOrg(5, "member"),
	}
	svc, _ := newTestService(fs)

	_, err := svc.MoveTask(context.Background(), Session{UserID: 1}, MoveTaskInput{
		TaskID: 10, SourceCardID: 1, DestCardID: 2, ToIndex: 0,
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for cross-org move, got %v", err)
	}
}

func TestMoveTaskReturnsNewVersions(t *testing.T) {
	fs := &fakeStore{
		orgIDForCardFn:      func(context.Context, int64) (int64, error) { return 5, nil },
		getMembershipRoleFn: memberOfOrg(5, "member"),
		moveTaskFn: func(_ context.Context, params store.MoveTaskParams) (store.MoveResult, error) {
			return store.MoveResult{SourceVersion: params.SourceVersion + 1, DestVersion: params.DestVersion + 1}, nil
		},
	}
	svc, _ := newTestService(fs)

	payload, err := svc.MoveTask(context.Background(), Session{UserID: 1}, MoveTaskInput{
		TaskID: 10, SourceCardID: 1, DestCardID: 2, ToIndex: 3,
		SourceVersion: 4, DestVersion: 9,
	})
	if err != nil {
		t.Fatalf("MoveTask() error = %v", err)
	}
	if payload["sourceVersion"] != int64(5) || payload["destinationVersion"] != int64(10) {
		t.Fatalf("unexpected versions payload: %v", payload)
	}
}
