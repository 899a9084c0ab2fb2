package services

import (
	"context"
	"fmt"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

// NewThreadInput 创建主题的入参
type NewThreadInput struct {
	CourseID         string
	CommentableID    string
	Context          string
	ThreadType       string
	Title            string
	Body             string
	AuthorID         string
	AuthorUsername   string
	Anonymous        bool
	AnonymousToPeers bool
	GroupID          *int
}

func (f *Forum) CreateThread(ctx context.Context, in NewThreadInput) (*models.Thread, error) {
	if err := requireFields(
		"course_id", in.CourseID,
		"title", in.Title,
		"body", in.Body,
		"author_id", in.AuthorID,
	); err != nil {
		return nil, err
	}
	if in.Context == "" {
		in.Context = models.ContextCourse
	}
	if in.ThreadType == "" {
		in.ThreadType = models.ThreadTypeDiscussion
	}
	if in.ThreadType != models.ThreadTypeDiscussion && in.ThreadType != models.ThreadTypeQuestion {
		return nil, fmt.Errorf("%w: bad thread_type %q", store.ErrValidation, in.ThreadType)
	}

	backend, err := f.backend(ctx, in.CourseID)
	if err != nil {
		return nil, err
	}
	now := f.now()
	t := &models.Thread{
		ID:                      models.NewID(),
		CourseID:                in.CourseID,
		CommentableID:           in.CommentableID,
		Context:                 in.Context,
		ThreadType:              in.ThreadType,
		Title:                   in.Title,
		Body:                    in.Body,
		AuthorID:                in.AuthorID,
		AuthorUsername:          in.AuthorUsername,
		Anonymous:               in.Anonymous,
		AnonymousToPeers:        in.AnonymousToPeers,
		Visible:                 true,
		GroupID:                 in.GroupID,
		Votes:                   models.NewVotes(),
		AbuseFlaggers:           []string{},
		HistoricalAbuseFlaggers: []string{},
		CreatedAt:               now,
		UpdatedAt:               now,
		LastActivityAt:          now,
	}
	if err := backend.CreateThread(ctx, t); err != nil {
		return nil, err
	}
	f.adjustStats(ctx, backend, in.AuthorID, in.CourseID, store.StatsDelta{Threads: 1, LastActivity: &now})
	f.log.Info().Str("course_id", t.CourseID).Str("thread_id", t.ID).Msg("thread created")
	return t, nil
}

func (f *Forum) GetThread(ctx context.Context, courseID, threadID string) (*models.Thread, error) {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return backend.GetThread(ctx, courseID, threadID)
}

// NewCommentInput 创建评论的入参。ParentID 为空表示主题下的顶级回复。
type NewCommentInput struct {
	CourseID         string
	ThreadID         string
	ParentID         string
	Body             string
	AuthorID         string
	AuthorUsername   string
	Anonymous        bool
	AnonymousToPeers bool
}

func (f *Forum) CreateComment(ctx context.Context, in NewCommentInput) (*models.Comment, error) {
	if err := requireFields(
		"course_id", in.CourseID,
		"thread_id", in.ThreadID,
		"body", in.Body,
		"author_id", in.AuthorID,
	); err != nil {
		return nil, err
	}
	backend, err := f.backend(ctx, in.CourseID)
	if err != nil {
		return nil, err
	}
	thread, err := backend.GetThread(ctx, in.CourseID, in.ThreadID)
	if err != nil {
		return nil, err
	}
	if thread.Closed {
		return nil, store.ErrThreadClosed
	}

	var parent *models.Comment
	if in.ParentID != "" {
		parent, err = backend.GetComment(ctx, in.CourseID, in.ParentID)
		if err != nil || parent.ThreadID != in.ThreadID {
			return nil, store.ErrParentNotFound
		}
	}

	now := f.now()
	c := &models.Comment{
		ID:                      models.NewID(),
		CourseID:                in.CourseID,
		ThreadID:                in.ThreadID,
		Body:                    in.Body,
		AuthorID:                in.AuthorID,
		AuthorUsername:          in.AuthorUsername,
		Anonymous:               in.Anonymous,
		AnonymousToPeers:        in.AnonymousToPeers,
		Visible:                 true,
		Votes:                   models.NewVotes(),
		AbuseFlaggers:           []string{},
		HistoricalAbuseFlaggers: []string{},
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	c.SetAncestry(parent)
	if err := backend.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	delta := store.StatsDelta{LastActivity: &now}
	if c.Depth == 0 {
		delta.Responses = 1
	} else {
		delta.Replies = 1
	}
	f.adjustStats(ctx, backend, in.AuthorID, in.CourseID, delta)
	return c, nil
}

func (f *Forum) GetComment(ctx context.Context, courseID, commentID string) (*models.Comment, error) {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return backend.GetComment(ctx, courseID, commentID)
}

// ListThreadComments 按 sort_key 字典序返回整个主题的可见评论（先序遍历）
func (f *Forum) ListThreadComments(ctx context.Context, courseID, threadID string) ([]*models.Comment, error) {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return backend.ListThreadComments(ctx, courseID, threadID)
}

// EditBody 替换正文并把旧正文追加进编辑历史
func (f *Forum) EditBody(ctx context.Context, courseID string, ref store.Ref, body, editorUsername, reasonCode string) error {
	if err := requireFields("body", body); err != nil {
		return err
	}
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	authorID := ""
	switch ref.Kind {
	case store.KindThread:
		t, err := backend.GetThread(ctx, courseID, ref.ID)
		if err != nil {
			return err
		}
		authorID = t.AuthorID
	default:
		c, err := backend.GetComment(ctx, courseID, ref.ID)
		if err != nil {
			return err
		}
		authorID = c.AuthorID
	}
	entry := models.EditHistoryEntry{
		EditorUsername: editorUsername,
		ReasonCode:     reasonCode,
		AuthorID:       authorID,
		CreatedAt:      f.now(),
	}
	return backend.EditBody(ctx, courseID, ref, body, entry)
}

// Delete 软删除内容并回退作者的课程计数
func (f *Forum) Delete(ctx context.Context, courseID string, ref store.Ref) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	delta := store.StatsDelta{}
	authorID := ""
	switch ref.Kind {
	case store.KindThread:
		t, err := backend.GetThread(ctx, courseID, ref.ID)
		if err != nil {
			return err
		}
		if !t.Visible {
			return nil
		}
		authorID = t.AuthorID
		delta.Threads = -1
	default:
		c, err := backend.GetComment(ctx, courseID, ref.ID)
		if err != nil {
			return err
		}
		if !c.Visible {
			return nil
		}
		authorID = c.AuthorID
		if c.Depth == 0 {
			delta.Responses = -1
		} else {
			delta.Replies = -1
		}
	}
	if err := backend.SoftDelete(ctx, courseID, ref); err != nil {
		return err
	}
	f.adjustStats(ctx, backend, authorID, courseID, delta)
	return nil
}

func (f *Forum) CloseThread(ctx context.Context, courseID, threadID, closedBy string, closed bool) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	return backend.CloseThread(ctx, courseID, threadID, closedBy, closed)
}

func (f *Forum) PinThread(ctx context.Context, courseID, threadID string, pinned bool) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	return backend.PinThread(ctx, courseID, threadID, pinned)
}

// Flag 用户举报一条内容，作者的 active_flags 加一。重复举报不重复计数。
func (f *Forum) Flag(ctx context.Context, courseID string, ref store.Ref, userID string) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	authorID, flaggers, _, err := f.flagState(ctx, backend, courseID, ref)
	if err != nil {
		return err
	}
	if contains(flaggers, userID) {
		return nil
	}
	if err := backend.UpdateAbuseFlags(ctx, courseID, ref, userID, true, false); err != nil {
		return err
	}
	f.adjustStats(ctx, backend, authorID, courseID, store.StatsDelta{ActiveFlags: 1})
	return nil
}

// Unflag 撤销单个用户的举报。all 为 true 时清空全部在场举报并转入历史，
// 作者计数从 active 挪到 inactive。
func (f *Forum) Unflag(ctx context.Context, courseID string, ref store.Ref, userID string, all bool) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	authorID, flaggers, _, err := f.flagState(ctx, backend, courseID, ref)
	if err != nil {
		return err
	}
	if all {
		if len(flaggers) == 0 {
			return nil
		}
		if err := backend.UpdateAbuseFlags(ctx, courseID, ref, "", false, true); err != nil {
			return err
		}
		f.adjustStats(ctx, backend, authorID, courseID, store.StatsDelta{
			ActiveFlags:   -len(flaggers),
			InactiveFlags: len(flaggers),
		})
		return nil
	}
	if !contains(flaggers, userID) {
		return nil
	}
	if err := backend.UpdateAbuseFlags(ctx, courseID, ref, userID, false, false); err != nil {
		return err
	}
	f.adjustStats(ctx, backend, authorID, courseID, store.StatsDelta{ActiveFlags: -1})
	return nil
}

func (f *Forum) flagState(ctx context.Context, backend store.Backend, courseID string, ref store.Ref) (authorID string, flaggers []string, historical []string, err error) {
	if ref.Kind == store.KindThread {
		t, err := backend.GetThread(ctx, courseID, ref.ID)
		if err != nil {
			return "", nil, nil, err
		}
		return t.AuthorID, t.AbuseFlaggers, t.HistoricalAbuseFlaggers, nil
	}
	c, err := backend.GetComment(ctx, courseID, ref.ID)
	if err != nil {
		return "", nil, nil, err
	}
	return c.AuthorID, c.AbuseFlaggers, c.HistoricalAbuseFlaggers, nil
}

// Subscribe 订阅一个主题，重复订阅幂等
func (f *Forum) Subscribe(ctx context.Context, courseID, userID, threadID string) (*models.Subscription, error) {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if _, err := backend.GetThread(ctx, courseID, threadID); err != nil {
		return nil, err
	}
	now := f.now()
	sub := &models.Subscription{
		ID:           models.NewID(),
		SubscriberID: userID,
		SourceID:     threadID,
		SourceType:   models.ContentTypeThread,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := backend.Subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return backend.GetSubscription(ctx, userID, threadID)
}

func (f *Forum) Unsubscribe(ctx context.Context, courseID, userID, threadID string) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	return backend.Unsubscribe(ctx, userID, threadID)
}

// MarkRead 记录用户读过某主题的时间
func (f *Forum) MarkRead(ctx context.Context, courseID, userID, threadID string) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	return backend.MarkRead(ctx, userID, courseID, threadID, f.now())
}

func (f *Forum) GetUser(ctx context.Context, courseID, userID string) (*models.User, error) {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return backend.GetUser(ctx, userID)
}

func (f *Forum) UpsertUser(ctx context.Context, courseID string, u *models.User) error {
	backend, err := f.backend(ctx, courseID)
	if err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = models.NewID()
	}
	if u.DefaultSortKey == "" {
		u.DefaultSortKey = models.DefaultSortKey
	}
	now := f.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return backend.UpsertUser(ctx, u)
}

// adjustStats 课程计数是冗余数据，更新失败只记日志不回滚主操作
func (f *Forum) adjustStats(ctx context.Context, backend store.Backend, userID, courseID string, delta store.StatsDelta) {
	if userID == "" {
		return
	}
	if err := backend.AdjustCourseStats(ctx, userID, courseID, delta); err != nil {
		f.log.Warn().Err(err).Str("user_id", userID).Str("course_id", courseID).Msg("course stats update failed")
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
