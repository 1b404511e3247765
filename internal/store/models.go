package store

import "time"

type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Phone        string
	ProfilePic   *string
	CreatedAt    time.Time
}

type Organization struct {
	ID        int64
	Name      string
	CreatedBy int64
	CreatedAt time.Time
}

// OrgMembership is the join row granting a user a role within an organization.
// Membership rows are the sole authorization boundary for board-scoped access.
type OrgMembership struct {
	OrgID   int64
	OrgName string
	UserID  int64
	Role    string
}

type Board struct {
	ID        int64
	Name      string
	OrgID     int64
	Img       *string
	CreatedBy int64
	CreatedAt time.Time
}

// Card is a column within a board and the ordering scope for tasks.
// Version is a per-card sequence counter bumped by every move; callers
// supply their last-seen version so interleaved moves are rejected
// instead of silently overwriting each other.
type Card struct {
	ID        int64
	Name      string
	BoardID   int64
	CreatedBy int64
	Version   int64
}

type Task struct {
	ID          int64
	Title       string
	Description string
	CardID      int64
	OrgID       int64
	AssignedTo  *int64
	Img         *string
	Priority    string
	DueDate     *time.Time
	CreatedBy   int64
	Position    int
}

type Tag struct {
	ID        int64
	Title     string
	BgColor   string
	TextColor string
}

// TagInput is a tag as supplied on a task create/update request. Colors are
// only used when the title does not resolve to an existing tag.
type TagInput struct {
	Title     string `json:"title"`
	BgColor   string `json:"bg_color"`
	TextColor string `json:"text_color"`
}

type TaskAssignee struct {
	ID         int64
	Name       string
	Email      string
	ProfilePic *string
}

type TaskWithMeta struct {
	Task
	Assignee *TaskAssignee
	Tags     []Tag
}

// CardColumn is a card together with its tasks ordered by position.
type CardColumn struct {
	Card
	Items []TaskWithMeta
}

// ActivityEntry is an append-only audit row; the system never updates or
// deletes these.
type ActivityEntry struct {
	UserID  int64
	OrgID   int64
	BoardID *int64
	CardID  *int64
	TaskID  *int64
	Action  string
	Details string
}

type CreateTaskParams struct {
	Task  Task
	Tags  []TagInput
	Actor int64
}

type UpdateTaskParams struct {
	ID          int64
	Title       string
	Description string
	AssignedTo  *int64
	Priority    string
	DueDate     *time.Time
	// Img is the newly stored path; nil keeps the task's current image.
	Img         *string
	Tags        []TagInput
	ReplaceTags bool
	Actor       int64
}

type UpdateProfileParams struct {
	ID    int64
	Name  string
	Email string
	Phone string
	// ProfilePic is the newly stored path; nil keeps the current picture.
	ProfilePic *string
}

type MoveTaskParams struct {
	TaskID       int64
	SourceCardID int64
	DestCardID   int64
	ToIndex      int
	// Expected card versions; a mismatch aborts with ErrVersionConflict.
	SourceVersion int64
	DestVersion   int64
	Actor         int64
}

type MoveResult struct {
	SourceVersion int64
	DestVersion   int64
}

type TaskStats struct {
	Total      int
	Completed  int
	Pending    int
	InProgress int
}

type CardTaskCount struct {
	CardID   int64
	CardName string
	Total    int
}

type UserTaskStats struct {
	UserID     int64
	Name       string
	Email      string
	ProfilePic *string
	Assigned   int
	Completed  int
}

type ActivityCount struct {
	Action string
	Count  int
}
