package relational

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

func (r *Relational) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return r.loadUser(r.db.WithContext(ctx), userID)
}

func (r *Relational) loadUser(tx *gorm.DB, userID string) (*models.User, error) {
	var row userRow
	if err := tx.First(&row, "id = ?", userID).Error; err != nil {
		return nil, wrap(err)
	}
	u := &models.User{
		ID:                  row.ID,
		ExternalID:          row.ExternalID,
		Username:            row.Username,
		DefaultSortKey:      row.DefaultSortKey,
		CourseStats:         []models.CourseStats{},
		ReadStates:          []models.ReadState{},
		SubscribedThreadIDs: []string{},
		UpvotedIDs:          []string{},
		DownvotedIDs:        []string{},
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}

	var statRows []courseStatRow
	if err := tx.Where("user_id = ?", userID).Order("course_id").Find(&statRows).Error; err != nil {
		return nil, wrap(err)
	}
	for _, s := range statRows {
		u.CourseStats = append(u.CourseStats, models.CourseStats{
			CourseID:       s.CourseID,
			ActiveFlags:    s.ActiveFlags,
			InactiveFlags:  s.InactiveFlags,
			Threads:        s.Threads,
			Responses:      s.Responses,
			Replies:        s.Replies,
			LastActivityAt: s.LastActivityAt,
		})
	}

	// last_read_times 行重新聚合成每课程一条 ReadState
	var readRows []lastReadTimeRow
	if err := tx.Where("user_id = ?", userID).Order("course_id").Find(&readRows).Error; err != nil {
		return nil, wrap(err)
	}
	byCourse := map[string]*models.ReadState{}
	for _, rr := range readRows {
		rs, ok := byCourse[rr.CourseID]
		if !ok {
			u.ReadStates = append(u.ReadStates, models.ReadState{
				UserID: userID, CourseID: rr.CourseID, LastReadTimes: map[string]time.Time{},
			})
			rs = &u.ReadStates[len(u.ReadStates)-1]
			byCourse[rr.CourseID] = rs
		}
		rs.LastReadTimes[rr.ThreadID] = rr.Timestamp
	}

	var subRows []subscriptionRow
	if err := tx.Where("subscriber_id = ?", userID).Order("created_at").Find(&subRows).Error; err != nil {
		return nil, wrap(err)
	}
	for _, s := range subRows {
		if s.SourceType == models.ContentTypeThread {
			u.SubscribedThreadIDs = append(u.SubscribedThreadIDs, s.SourceID)
		}
	}

	var voteRows []userVoteRow
	if err := tx.Where("user_id = ?", userID).Order("content_id").Find(&voteRows).Error; err != nil {
		return nil, wrap(err)
	}
	for _, v := range voteRows {
		if v.Vote > 0 {
			u.UpvotedIDs = append(u.UpvotedIDs, v.ContentID)
		} else {
			u.DownvotedIDs = append(u.DownvotedIDs, v.ContentID)
		}
	}
	return u, nil
}

func (r *Relational) UpsertUser(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := userRow{
			ID:             u.ID,
			ExternalID:     u.ExternalID,
			Username:       u.Username,
			DefaultSortKey: u.DefaultSortKey,
			CreatedAt:      u.CreatedAt,
			UpdatedAt:      u.UpdatedAt,
		}
		if row.DefaultSortKey == "" {
			row.DefaultSortKey = models.DefaultSortKey
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&row).Error; err != nil {
			return wrap(err)
		}
		for _, cs := range u.CourseStats {
			statRow := courseStatRow{
				UserID:         u.ID,
				CourseID:       cs.CourseID,
				ActiveFlags:    cs.ActiveFlags,
				InactiveFlags:  cs.InactiveFlags,
				Threads:        cs.Threads,
				Responses:      cs.Responses,
				Replies:        cs.Replies,
				LastActivityAt: cs.LastActivityAt,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"active_flags", "inactive_flags", "threads", "responses", "replies", "last_activity_at"}),
			}).Create(&statRow).Error; err != nil {
				return wrap(err)
			}
		}
		for _, rs := range u.ReadStates {
			for threadID, ts := range rs.LastReadTimes {
				if err := upsertLastRead(tx, u.ID, rs.CourseID, threadID, ts); err != nil {
					return wrap(err)
				}
			}
		}
		return nil
	})
}

func upsertLastRead(tx *gorm.DB, userID, courseID, threadID string, ts time.Time) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}, {Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timestamp"}),
	}).Create(&lastReadTimeRow{UserID: userID, CourseID: courseID, ThreadID: threadID, Timestamp: ts}).Error
}

func (r *Relational) AdjustCourseStats(ctx context.Context, userID, courseID string, delta store.StatsDelta) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row courseStatRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND course_id = ?", userID, courseID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = courseStatRow{UserID: userID, CourseID: courseID}
			if err := tx.Create(&row).Error; err != nil {
				return wrap(err)
			}
		} else if err != nil {
			return wrap(err)
		}
		row.Threads += delta.Threads
		row.Responses += delta.Responses
		row.Replies += delta.Replies
		row.ActiveFlags += delta.ActiveFlags
		row.InactiveFlags += delta.InactiveFlags
		if delta.LastActivity != nil {
			row.LastActivityAt = delta.LastActivity
		}
		return wrap(tx.Save(&row).Error)
	})
}

func (r *Relational) MarkRead(ctx context.Context, userID, courseID, threadID string, at time.Time) error {
	if _, err := r.threadRowInCourse(r.db.WithContext(ctx), courseID, threadID); err != nil {
		return err
	}
	return wrap(upsertLastRead(r.db.WithContext(ctx), userID, courseID, threadID, at))
}

func (r *Relational) Subscribe(ctx context.Context, sub *models.Subscription) error {
	courseID, err := r.courseOfContent(ctx, sub.SourceID)
	if err != nil {
		return err
	}
	row := subToRow(sub, courseID)
	return wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscriber_id"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(row).Error)
}

func (r *Relational) Unsubscribe(ctx context.Context, subscriberID, sourceID string) error {
	return wrap(r.db.WithContext(ctx).
		Where("subscriber_id = ? AND source_id = ?", subscriberID, sourceID).
		Delete(&subscriptionRow{}).Error)
}

func (r *Relational) GetSubscription(ctx context.Context, subscriberID, sourceID string) (*models.Subscription, error) {
	var row subscriptionRow
	if err := r.db.WithContext(ctx).
		Where("subscriber_id = ? AND source_id = ?", subscriberID, sourceID).
		First(&row).Error; err != nil {
		return nil, wrap(err)
	}
	return rowToSub(&row), nil
}

func (r *Relational) courseOfContent(ctx context.Context, contentID string) (string, error) {
	var thread threadRow
	err := r.db.WithContext(ctx).Select("course_id").First(&thread, "id = ?", contentID).Error
	if err == nil {
		return thread.CourseID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", wrap(err)
	}
	var comment commentRow
	if err := r.db.WithContext(ctx).Select("course_id").First(&comment, "id = ?", contentID).Error; err != nil {
		return "", wrap(err)
	}
	return comment.CourseID, nil
}
