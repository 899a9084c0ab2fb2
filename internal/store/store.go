// Package store 定义内容存储后端的能力契约。
// 文档库、关系库和内存假实现各自实现一遍，其余组件只依赖这个接口。
package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"coursetalk/internal/models"
)

type BackendKind string

const (
	BackendDocument   BackendKind = "document"
	BackendRelational BackendKind = "relational"
)

type Kind string

const (
	KindThread  Kind = "thread"
	KindComment Kind = "comment"
)

// Ref 指向一条内容（主题或评论）
type Ref struct {
	Kind Kind
	ID   string
}

type Direction string

const (
	VoteUp   Direction = "up"
	VoteDown Direction = "down"
	VoteNone Direction = "none"
)

// Counts 迁移校验用的按课程聚合计数
type Counts struct {
	Threads       int64 `json:"threads"`
	Comments      int64 `json:"comments"`
	VotePoints    int64 `json:"vote_points"`
	Users         int64 `json:"users"`
	Subscriptions int64 `json:"subscriptions"`
}

// DeleteStats 删除源数据的统计结果
type DeleteStats struct {
	Contents      int64 `json:"contents"`
	Subscriptions int64 `json:"subscriptions"`
	Users         int64 `json:"users"`
	DryRun        bool  `json:"dry_run"`
}

// StatsDelta 课程统计的增量
type StatsDelta struct {
	Threads       int
	Responses     int
	Replies       int
	ActiveFlags   int
	InactiveFlags int
	LastActivity  *time.Time
}

// Backend 是两种存储后端共同实现的契约。所有操作都以 course_id 为租户边界，
// 引用了租户外内容的调用必须返回 ErrCrossTenantReference。
type Backend interface {
	Kind() BackendKind

	// 内容
	CreateThread(ctx context.Context, t *models.Thread) error
	GetThread(ctx context.Context, courseID, threadID string) (*models.Thread, error)
	CreateComment(ctx context.Context, c *models.Comment) error
	GetComment(ctx context.Context, courseID, commentID string) (*models.Comment, error)
	EditBody(ctx context.Context, courseID string, ref Ref, body string, entry models.EditHistoryEntry) error
	ApplyVote(ctx context.Context, courseID string, ref Ref, userID string, dir Direction) (models.Votes, error)
	SetEndorsement(ctx context.Context, courseID, commentID string, e *models.Endorsement) error
	UpdateAbuseFlags(ctx context.Context, courseID string, ref Ref, userID string, flagged, moveAll bool) error
	CloseThread(ctx context.Context, courseID, threadID, closedBy string, closed bool) error
	PinThread(ctx context.Context, courseID, threadID string, pinned bool) error
	SoftDelete(ctx context.Context, courseID string, ref Ref) error
	ListThreadComments(ctx context.Context, courseID, threadID string) ([]*models.Comment, error)

	// 用户
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error
	AdjustCourseStats(ctx context.Context, userID, courseID string, delta StatsDelta) error
	MarkRead(ctx context.Context, userID, courseID, threadID string, at time.Time) error
	Subscribe(ctx context.Context, sub *models.Subscription) error
	Unsubscribe(ctx context.Context, subscriberID, sourceID string) error
	GetSubscription(ctx context.Context, subscriberID, sourceID string) (*models.Subscription, error)

	// 迁移扫描与写入。列表按 (created_at, id) 稳定排序、游标分页。
	ListCourseIDs(ctx context.Context) ([]string, error)
	ListThreads(ctx context.Context, courseID, cursor string, limit int) ([]*models.Thread, string, error)
	ListComments(ctx context.Context, courseID, cursor string, limit int) ([]*models.Comment, string, error)
	ListUsers(ctx context.Context, courseID, cursor string, limit int) ([]*models.User, string, error)
	ListSubscriptions(ctx context.Context, courseID, cursor string, limit int) ([]*models.Subscription, string, error)
	UpsertThread(ctx context.Context, t *models.Thread) error
	UpsertComment(ctx context.Context, c *models.Comment) error
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	CourseCounts(ctx context.Context, courseID string) (Counts, error)
	DeleteCourseData(ctx context.Context, courseID string, dryRun bool) (DeleteStats, error)
}

// Cursor 分页游标，(created_at, id) 键
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode 序列化为不透明 token
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor 解析游标，空串表示从头开始
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad cursor: %v", ErrValidation, err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("%w: bad cursor", ErrValidation)
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad cursor time: %v", ErrValidation, err)
	}
	return Cursor{CreatedAt: at, ID: parts[1]}, nil
}

// After 判断 (createdAt, id) 是否排在游标之后
func (c Cursor) After(createdAt time.Time, id string) bool {
	if c.ID == "" && c.CreatedAt.IsZero() {
		return true
	}
	if createdAt.After(c.CreatedAt) {
		return true
	}
	if createdAt.Equal(c.CreatedAt) && id > c.ID {
		return true
	}
	return false
}
