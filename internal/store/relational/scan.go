package relational

import (
	"context"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

// 迁移扫描面：所有列表都按 (created_at, id) 升序、游标分页。

func (r *Relational) ListCourseIDs(ctx context.Context) ([]string, error) {
	var fromThreads, fromComments []string
	if err := r.db.WithContext(ctx).Model(&threadRow{}).Distinct("course_id").Pluck("course_id", &fromThreads).Error; err != nil {
		return nil, wrap(err)
	}
	if err := r.db.WithContext(ctx).Model(&commentRow{}).Distinct("course_id").Pluck("course_id", &fromComments).Error; err != nil {
		return nil, wrap(err)
	}
	seen := map[string]bool{}
	var out []string
	for _, id := range append(fromThreads, fromComments...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func scanPage(tx *gorm.DB, courseID, cursor string, limit int) (*gorm.DB, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	q := tx.Where("course_id = ?", courseID)
	if cur.ID != "" {
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", cur.CreatedAt, cur.CreatedAt, cur.ID)
	}
	return q.Order("created_at, id").Limit(limit), nil
}

func (r *Relational) ListThreads(ctx context.Context, courseID, cursor string, limit int) ([]*models.Thread, string, error) {
	q, err := scanPage(r.db.WithContext(ctx), courseID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	var rows []threadRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, "", wrap(err)
	}
	out := make([]*models.Thread, 0, len(rows))
	for i := range rows {
		t := rowToThread(&rows[i])
		if err := r.loadContentChildren(r.db.WithContext(ctx), models.ContentTypeThread, t.ID, &t.Votes, &t.EditHistory, &t.AbuseFlaggers, &t.HistoricalAbuseFlaggers); err != nil {
			return nil, "", err
		}
		out = append(out, t)
	}
	next := ""
	if len(rows) == limit && limit > 0 {
		last := rows[len(rows)-1]
		next = store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return out, next, nil
}

func (r *Relational) ListComments(ctx context.Context, courseID, cursor string, limit int) ([]*models.Comment, string, error) {
	q, err := scanPage(r.db.WithContext(ctx), courseID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	var rows []commentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, "", wrap(err)
	}
	out := make([]*models.Comment, 0, len(rows))
	for i := range rows {
		c := rowToComment(&rows[i])
		if err := r.loadContentChildren(r.db.WithContext(ctx), models.ContentTypeComment, c.ID, &c.Votes, &c.EditHistory, &c.AbuseFlaggers, &c.HistoricalAbuseFlaggers); err != nil {
			return nil, "", err
		}
		out = append(out, c)
	}
	next := ""
	if len(rows) == limit && limit > 0 {
		last := rows[len(rows)-1]
		next = store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return out, next, nil
}

func (r *Relational) ListUsers(ctx context.Context, courseID, cursor string, limit int) ([]*models.User, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	q := r.db.WithContext(ctx).Model(&userRow{}).
		Where("id IN (?)", r.db.Model(&courseStatRow{}).Select("user_id").Where("course_id = ?", courseID))
	if cur.ID != "" {
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", cur.CreatedAt, cur.CreatedAt, cur.ID)
	}
	var rows []userRow
	if err := q.Order("created_at, id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, "", wrap(err)
	}
	out := make([]*models.User, 0, len(rows))
	for _, row := range rows {
		u, err := r.loadUser(r.db.WithContext(ctx), row.ID)
		if err != nil {
			return nil, "", err
		}
		out = append(out, u)
	}
	next := ""
	if len(rows) == limit && limit > 0 {
		last := rows[len(rows)-1]
		next = store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return out, next, nil
}

func (r *Relational) ListSubscriptions(ctx context.Context, courseID, cursor string, limit int) ([]*models.Subscription, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	q := r.db.WithContext(ctx).Where("course_id = ?", courseID)
	if cur.ID != "" {
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", cur.CreatedAt, cur.CreatedAt, cur.ID)
	}
	var rows []subscriptionRow
	if err := q.Order("created_at, id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, "", wrap(err)
	}
	out := make([]*models.Subscription, 0, len(rows))
	for i := range rows {
		out = append(out, rowToSub(&rows[i]))
	}
	next := ""
	if len(rows) == limit && limit > 0 {
		last := rows[len(rows)-1]
		next = store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return out, next, nil
}

func (r *Relational) UpsertThread(ctx context.Context, t *models.Thread) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(threadToRow(t)).Error; err != nil {
			return wrap(err)
		}
		return wrap(r.writeContentChildren(tx, models.ContentTypeThread, t.ID, t.Votes, t.EditHistory, t.AbuseFlaggers, t.HistoricalAbuseFlaggers))
	})
}

func (r *Relational) UpsertComment(ctx context.Context, c *models.Comment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(commentToRow(c)).Error; err != nil {
			return wrap(err)
		}
		return wrap(r.writeContentChildren(tx, models.ContentTypeComment, c.ID, c.Votes, c.EditHistory, c.AbuseFlaggers, c.HistoricalAbuseFlaggers))
	})
}

func (r *Relational) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	courseID, err := r.courseOfContent(ctx, sub.SourceID)
	if err != nil {
		return err
	}
	return wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscriber_id"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"source_type", "course_id", "created_at", "updated_at"}),
	}).Create(subToRow(sub, courseID)).Error)
}

func (r *Relational) CourseCounts(ctx context.Context, courseID string) (store.Counts, error) {
	var counts store.Counts
	db := r.db.WithContext(ctx)
	if err := db.Model(&threadRow{}).Where("course_id = ?", courseID).Count(&counts.Threads).Error; err != nil {
		return counts, wrap(err)
	}
	if err := db.Model(&commentRow{}).Where("course_id = ?", courseID).Count(&counts.Comments).Error; err != nil {
		return counts, wrap(err)
	}
	var threadPoints, commentPoints int64
	if err := db.Model(&threadRow{}).Where("course_id = ?", courseID).
		Select("COALESCE(SUM(vote_point), 0)").Scan(&threadPoints).Error; err != nil {
		return counts, wrap(err)
	}
	if err := db.Model(&commentRow{}).Where("course_id = ?", courseID).
		Select("COALESCE(SUM(vote_point), 0)").Scan(&commentPoints).Error; err != nil {
		return counts, wrap(err)
	}
	counts.VotePoints = threadPoints + commentPoints
	if err := db.Model(&courseStatRow{}).Where("course_id = ?", courseID).
		Distinct("user_id").Count(&counts.Users).Error; err != nil {
		return counts, wrap(err)
	}
	if err := db.Model(&subscriptionRow{}).Where("course_id = ?", courseID).Count(&counts.Subscriptions).Error; err != nil {
		return counts, wrap(err)
	}
	return counts, nil
}

func (r *Relational) DeleteCourseData(ctx context.Context, courseID string, dryRun bool) (store.DeleteStats, error) {
	stats := store.DeleteStats{DryRun: dryRun}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var threadIDs, commentIDs []string
		if err := tx.Model(&threadRow{}).Where("course_id = ?", courseID).Pluck("id", &threadIDs).Error; err != nil {
			return wrap(err)
		}
		if err := tx.Model(&commentRow{}).Where("course_id = ?", courseID).Pluck("id", &commentIDs).Error; err != nil {
			return wrap(err)
		}
		stats.Contents = int64(len(threadIDs) + len(commentIDs))
		if err := tx.Model(&subscriptionRow{}).Where("course_id = ?", courseID).Count(&stats.Subscriptions).Error; err != nil {
			return wrap(err)
		}
		if err := tx.Model(&courseStatRow{}).Where("course_id = ?", courseID).
			Distinct("user_id").Count(&stats.Users).Error; err != nil {
			return wrap(err)
		}
		if dryRun {
			return nil
		}
		contentIDs := append(append([]string{}, threadIDs...), commentIDs...)
		if len(contentIDs) > 0 {
			if err := tx.Where("content_id IN ?", contentIDs).Delete(&userVoteRow{}).Error; err != nil {
				return wrap(err)
			}
			if err := tx.Where("content_id IN ?", contentIDs).Delete(&editHistoryRow{}).Error; err != nil {
				return wrap(err)
			}
			if err := tx.Where("content_id IN ?", contentIDs).Delete(&abuseFlaggerRow{}).Error; err != nil {
				return wrap(err)
			}
		}
		if err := tx.Where("course_id = ?", courseID).Delete(&subscriptionRow{}).Error; err != nil {
			return wrap(err)
		}
		if err := tx.Where("course_id = ?", courseID).Delete(&commentRow{}).Error; err != nil {
			return wrap(err)
		}
		if err := tx.Where("course_id = ?", courseID).Delete(&threadRow{}).Error; err != nil {
			return wrap(err)
		}
		if err := tx.Where("course_id = ?", courseID).Delete(&courseStatRow{}).Error; err != nil {
			return wrap(err)
		}
		return wrap(tx.Where("course_id = ?", courseID).Delete(&lastReadTimeRow{}).Error)
	})
	return stats, err
}
