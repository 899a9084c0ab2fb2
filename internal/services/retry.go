package services

import (
	"context"
	"errors"
	"time"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

// retryBackend 给在线请求包一层：后端瞬时不可用时原地重试一次，
// 第二次仍失败就原样上抛，由 handler 映射成 503。
// 迁移引擎不走这里，它有自己的按页退避重试。
type retryBackend struct {
	store.Backend
}

func retryOnce(fn func() error) error {
	err := fn()
	if errors.Is(err, store.ErrUnavailable) {
		err = fn()
	}
	return err
}

func (r retryBackend) CreateThread(ctx context.Context, t *models.Thread) error {
	return retryOnce(func() error { return r.Backend.CreateThread(ctx, t) })
}

func (r retryBackend) GetThread(ctx context.Context, courseID, threadID string) (*models.Thread, error) {
	var t *models.Thread
	err := retryOnce(func() (err error) {
		t, err = r.Backend.GetThread(ctx, courseID, threadID)
		return err
	})
	return t, err
}

func (r retryBackend) CreateComment(ctx context.Context, c *models.Comment) error {
	return retryOnce(func() error { return r.Backend.CreateComment(ctx, c) })
}

func (r retryBackend) GetComment(ctx context.Context, courseID, commentID string) (*models.Comment, error) {
	var c *models.Comment
	err := retryOnce(func() (err error) {
		c, err = r.Backend.GetComment(ctx, courseID, commentID)
		return err
	})
	return c, err
}

func (r retryBackend) EditBody(ctx context.Context, courseID string, ref store.Ref, body string, entry models.EditHistoryEntry) error {
	return retryOnce(func() error { return r.Backend.EditBody(ctx, courseID, ref, body, entry) })
}

func (r retryBackend) ApplyVote(ctx context.Context, courseID string, ref store.Ref, userID string, dir store.Direction) (models.Votes, error) {
	var votes models.Votes
	err := retryOnce(func() (err error) {
		votes, err = r.Backend.ApplyVote(ctx, courseID, ref, userID, dir)
		return err
	})
	return votes, err
}

func (r retryBackend) SetEndorsement(ctx context.Context, courseID, commentID string, e *models.Endorsement) error {
	return retryOnce(func() error { return r.Backend.SetEndorsement(ctx, courseID, commentID, e) })
}

func (r retryBackend) UpdateAbuseFlags(ctx context.Context, courseID string, ref store.Ref, userID string, flagged, moveAll bool) error {
	return retryOnce(func() error { return r.Backend.UpdateAbuseFlags(ctx, courseID, ref, userID, flagged, moveAll) })
}

func (r retryBackend) CloseThread(ctx context.Context, courseID, threadID, closedBy string, closed bool) error {
	return retryOnce(func() error { return r.Backend.CloseThread(ctx, courseID, threadID, closedBy, closed) })
}

func (r retryBackend) PinThread(ctx context.Context, courseID, threadID string, pinned bool) error {
	return retryOnce(func() error { return r.Backend.PinThread(ctx, courseID, threadID, pinned) })
}

func (r retryBackend) SoftDelete(ctx context.Context, courseID string, ref store.Ref) error {
	return retryOnce(func() error { return r.Backend.SoftDelete(ctx, courseID, ref) })
}

func (r retryBackend) ListThreadComments(ctx context.Context, courseID, threadID string) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := retryOnce(func() (err error) {
		comments, err = r.Backend.ListThreadComments(ctx, courseID, threadID)
		return err
	})
	return comments, err
}

func (r retryBackend) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u *models.User
	err := retryOnce(func() (err error) {
		u, err = r.Backend.GetUser(ctx, userID)
		return err
	})
	return u, err
}

func (r retryBackend) UpsertUser(ctx context.Context, u *models.User) error {
	return retryOnce(func() error { return r.Backend.UpsertUser(ctx, u) })
}

func (r retryBackend) AdjustCourseStats(ctx context.Context, userID, courseID string, delta store.StatsDelta) error {
	return retryOnce(func() error { return r.Backend.AdjustCourseStats(ctx, userID, courseID, delta) })
}

func (r retryBackend) MarkRead(ctx context.Context, userID, courseID, threadID string, at time.Time) error {
	return retryOnce(func() error { return r.Backend.MarkRead(ctx, userID, courseID, threadID, at) })
}

func (r retryBackend) Subscribe(ctx context.Context, sub *models.Subscription) error {
	return retryOnce(func() error { return r.Backend.Subscribe(ctx, sub) })
}

func (r retryBackend) Unsubscribe(ctx context.Context, subscriberID, sourceID string) error {
	return retryOnce(func() error { return r.Backend.Unsubscribe(ctx, subscriberID, sourceID) })
}

func (r retryBackend) GetSubscription(ctx context.Context, subscriberID, sourceID string) (*models.Subscription, error) {
	var sub *models.Subscription
	err := retryOnce(func() (err error) {
		sub, err = r.Backend.GetSubscription(ctx, subscriberID, sourceID)
		return err
	})
	return sub, err
}
