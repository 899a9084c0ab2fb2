// Package relational 是 store.Backend 的关系库实现，基于 gorm + postgres。
package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

type Relational struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Relational {
	return &Relational{db: db}
}

func (r *Relational) Kind() store.BackendKind { return store.BackendRelational }

// wrap 把 gorm 错误折算到契约的错误分类上
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicate
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func contentType(kind store.Kind) string {
	if kind == store.KindThread {
		return models.ContentTypeThread
	}
	return models.ContentTypeComment
}

func (r *Relational) CreateThread(ctx context.Context, t *models.Thread) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(threadToRow(t)).Error; err != nil {
			return wrap(err)
		}
		return wrap(r.writeContentChildren(tx, models.ContentTypeThread, t.ID, t.Votes, t.EditHistory, t.AbuseFlaggers, t.HistoricalAbuseFlaggers))
	})
}

func (r *Relational) GetThread(ctx context.Context, courseID, threadID string) (*models.Thread, error) {
	row, err := r.threadRowInCourse(r.db.WithContext(ctx), courseID, threadID)
	if err != nil {
		return nil, err
	}
	t := rowToThread(row)
	if err := r.loadContentChildren(r.db.WithContext(ctx), models.ContentTypeThread, t.ID, &t.Votes, &t.EditHistory, &t.AbuseFlaggers, &t.HistoricalAbuseFlaggers); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Relational) CreateComment(ctx context.Context, c *models.Comment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		thread, err := r.threadRowInCourse(tx.Clauses(clause.Locking{Strength: "UPDATE"}), c.CourseID, c.ThreadID)
		if err != nil {
			return err
		}
		if c.ParentID != "" {
			var parent commentRow
			if err := tx.First(&parent, "id = ?", c.ParentID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return store.ErrParentNotFound
				}
				return wrap(err)
			}
			if parent.ThreadID != c.ThreadID {
				return store.ErrParentNotFound
			}
			// 单行原子自增，不走应用内存里的读改写
			if err := tx.Model(&commentRow{}).Where("id = ?", c.ParentID).
				UpdateColumn("child_count", gorm.Expr("child_count + ?", 1)).Error; err != nil {
				return wrap(err)
			}
		}
		if err := tx.Create(commentToRow(c)).Error; err != nil {
			return wrap(err)
		}
		return wrap(tx.Model(&threadRow{}).Where("id = ?", thread.ID).Updates(map[string]any{
			"comment_count":    gorm.Expr("comment_count + ?", 1),
			"last_activity_at": c.CreatedAt,
		}).Error)
	})
}

func (r *Relational) GetComment(ctx context.Context, courseID, commentID string) (*models.Comment, error) {
	row, err := r.commentRowInCourse(r.db.WithContext(ctx), courseID, commentID)
	if err != nil {
		return nil, err
	}
	c := rowToComment(row)
	if err := r.loadContentChildren(r.db.WithContext(ctx), models.ContentTypeComment, c.ID, &c.Votes, &c.EditHistory, &c.AbuseFlaggers, &c.HistoricalAbuseFlaggers); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Relational) EditBody(ctx context.Context, courseID string, ref store.Ref, body string, entry models.EditHistoryEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var originalBody string
		switch ref.Kind {
		case store.KindThread:
			row, err := r.threadRowInCourse(tx.Clauses(clause.Locking{Strength: "UPDATE"}), courseID, ref.ID)
			if err != nil {
				return err
			}
			originalBody = row.Body
		case store.KindComment:
			row, err := r.commentRowInCourse(tx.Clauses(clause.Locking{Strength: "UPDATE"}), courseID, ref.ID)
			if err != nil {
				return err
			}
			originalBody = row.Body
		default:
			return store.ErrValidation
		}
		ctype := contentType(ref.Kind)
		var position int64
		if err := tx.Model(&editHistoryRow{}).
			Where("content_type = ? AND content_id = ?", ctype, ref.ID).Count(&position).Error; err != nil {
			return wrap(err)
		}
		if err := tx.Create(&editHistoryRow{
			ContentType:    ctype,
			ContentID:      ref.ID,
			Position:       int(position),
			OriginalBody:   originalBody,
			ReasonCode:     entry.ReasonCode,
			EditorUsername: entry.EditorUsername,
			AuthorID:       entry.AuthorID,
			CreatedAt:      entry.CreatedAt,
		}).Error; err != nil {
			return wrap(err)
		}
		table := &threadRow{}
		if ref.Kind == store.KindComment {
			return wrap(tx.Model(&commentRow{}).Where("id = ?", ref.ID).
				Updates(map[string]any{"body": body, "updated_at": entry.CreatedAt}).Error)
		}
		return wrap(tx.Model(table).Where("id = ?", ref.ID).
			Updates(map[string]any{"body": body, "updated_at": entry.CreatedAt}).Error)
	})
}

func (r *Relational) ApplyVote(ctx context.Context, courseID string, ref store.Ref, userID string, dir store.Direction) (models.Votes, error) {
	votes := models.NewVotes()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住目标行串行化同一目标上的并发投票
		switch ref.Kind {
		case store.KindThread:
			if _, err := r.threadRowInCourse(tx.Clauses(clause.Locking{Strength: "UPDATE"}), courseID, ref.ID); err != nil {
				return err
			}
		case store.KindComment:
			if _, err := r.commentRowInCourse(tx.Clauses(clause.Locking{Strength: "UPDATE"}), courseID, ref.ID); err != nil {
				return err
			}
		default:
			return store.ErrValidation
		}
		ctype := contentType(ref.Kind)
		if err := tx.Where("content_type = ? AND content_id = ? AND user_id = ?", ctype, ref.ID, userID).
			Delete(&userVoteRow{}).Error; err != nil {
			return wrap(err)
		}
		if dir == store.VoteUp || dir == store.VoteDown {
			value := 1
			if dir == store.VoteDown {
				value = -1
			}
			if err := tx.Create(&userVoteRow{ContentType: ctype, ContentID: ref.ID, UserID: userID, Vote: value}).Error; err != nil {
				return wrap(err)
			}
		}
		loaded, err := r.loadVotes(tx, ctype, ref.ID)
		if err != nil {
			return err
		}
		votes = loaded
		// 计数列永远从投票行重算后写回
		updates := map[string]any{
			"vote_up_count":   votes.UpCount,
			"vote_down_count": votes.DownCount,
			"vote_count":      votes.Count,
			"vote_point":      votes.Point,
		}
		if ref.Kind == store.KindThread {
			return wrap(tx.Model(&threadRow{}).Where("id = ?", ref.ID).Updates(updates).Error)
		}
		return wrap(tx.Model(&commentRow{}).Where("id = ?", ref.ID).Updates(updates).Error)
	})
	return votes, err
}

func (r *Relational) SetEndorsement(ctx context.Context, courseID, commentID string, e *models.Endorsement) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := r.commentRowInCourse(tx.Clauses(clause.Locking{Strength: "UPDATE"}), courseID, commentID)
		if err != nil {
			return err
		}
		if row.Depth != 0 {
			return store.ErrInvalidEndorsementTarget
		}
		updates := map[string]any{"endorsed": false, "endorsement_user": nil, "endorsement_time": nil}
		if e != nil {
			updates = map[string]any{"endorsed": true, "endorsement_user": e.UserID, "endorsement_time": e.Time}
		}
		return wrap(tx.Model(&commentRow{}).Where("id = ?", commentID).Updates(updates).Error)
	})
}

func (r *Relational) UpdateAbuseFlags(ctx context.Context, courseID string, ref store.Ref, userID string, flagged, moveAll bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.checkContentInCourse(tx, courseID, ref); err != nil {
			return err
		}
		ctype := contentType(ref.Kind)
		if flagged {
			var n int64
			if err := tx.Model(&abuseFlaggerRow{}).
				Where("content_type = ? AND content_id = ? AND user_id = ? AND historical = false", ctype, ref.ID, userID).
				Count(&n).Error; err != nil {
				return wrap(err)
			}
			if n > 0 {
				return nil
			}
			return wrap(tx.Create(&abuseFlaggerRow{
				ContentType: ctype, ContentID: ref.ID, UserID: userID, FlaggedAt: time.Now().UTC(),
			}).Error)
		}
		if moveAll {
			return wrap(tx.Model(&abuseFlaggerRow{}).
				Where("content_type = ? AND content_id = ? AND historical = false", ctype, ref.ID).
				Update("historical", true).Error)
		}
		return wrap(tx.Where("content_type = ? AND content_id = ? AND user_id = ? AND historical = false", ctype, ref.ID, userID).
			Delete(&abuseFlaggerRow{}).Error)
	})
}

func (r *Relational) CloseThread(ctx context.Context, courseID, threadID, closedBy string, closed bool) error {
	if _, err := r.threadRowInCourse(r.db.WithContext(ctx), courseID, threadID); err != nil {
		return err
	}
	updates := map[string]any{"closed": closed, "closed_by": ""}
	if closed {
		updates["closed_by"] = closedBy
	}
	return wrap(r.db.WithContext(ctx).Model(&threadRow{}).Where("id = ?", threadID).Updates(updates).Error)
}

func (r *Relational) PinThread(ctx context.Context, courseID, threadID string, pinned bool) error {
	if _, err := r.threadRowInCourse(r.db.WithContext(ctx), courseID, threadID); err != nil {
		return err
	}
	return wrap(r.db.WithContext(ctx).Model(&threadRow{}).Where("id = ?", threadID).Update("pinned", pinned).Error)
}

func (r *Relational) SoftDelete(ctx context.Context, courseID string, ref store.Ref) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch ref.Kind {
		case store.KindThread:
			if _, err := r.threadRowInCourse(tx, courseID, ref.ID); err != nil {
				return err
			}
			return wrap(tx.Model(&threadRow{}).Where("id = ?", ref.ID).Update("visible", false).Error)
		case store.KindComment:
			row, err := r.commentRowInCourse(tx.Clauses(clause.Locking{Strength: "UPDATE"}), courseID, ref.ID)
			if err != nil {
				return err
			}
			if !row.Visible {
				return nil
			}
			if err := tx.Model(&commentRow{}).Where("id = ?", ref.ID).Update("visible", false).Error; err != nil {
				return wrap(err)
			}
			if row.ParentID != nil {
				if err := tx.Model(&commentRow{}).Where("id = ?", *row.ParentID).
					UpdateColumn("child_count", gorm.Expr("child_count - ?", 1)).Error; err != nil {
					return wrap(err)
				}
			}
			return wrap(tx.Model(&threadRow{}).Where("id = ?", row.ThreadID).
				UpdateColumn("comment_count", gorm.Expr("comment_count - ?", 1)).Error)
		}
		return store.ErrValidation
	})
}

func (r *Relational) ListThreadComments(ctx context.Context, courseID, threadID string) ([]*models.Comment, error) {
	if _, err := r.threadRowInCourse(r.db.WithContext(ctx), courseID, threadID); err != nil {
		return nil, err
	}
	var rows []commentRow
	if err := r.db.WithContext(ctx).
		Where("thread_id = ? AND visible = true", threadID).
		Order("sort_key").Find(&rows).Error; err != nil {
		return nil, wrap(err)
	}
	out := make([]*models.Comment, 0, len(rows))
	for i := range rows {
		c := rowToComment(&rows[i])
		if err := r.loadContentChildren(r.db.WithContext(ctx), models.ContentTypeComment, c.ID, &c.Votes, &c.EditHistory, &c.AbuseFlaggers, &c.HistoricalAbuseFlaggers); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// --- 行级辅助 ---

func (r *Relational) threadRowInCourse(tx *gorm.DB, courseID, threadID string) (*threadRow, error) {
	var row threadRow
	if err := tx.First(&row, "id = ?", threadID).Error; err != nil {
		return nil, wrap(err)
	}
	if row.CourseID != courseID {
		return nil, store.ErrCrossTenantReference
	}
	return &row, nil
}

func (r *Relational) commentRowInCourse(tx *gorm.DB, courseID, commentID string) (*commentRow, error) {
	var row commentRow
	if err := tx.First(&row, "id = ?", commentID).Error; err != nil {
		return nil, wrap(err)
	}
	if row.CourseID != courseID {
		return nil, store.ErrCrossTenantReference
	}
	return &row, nil
}

func (r *Relational) checkContentInCourse(tx *gorm.DB, courseID string, ref store.Ref) error {
	switch ref.Kind {
	case store.KindThread:
		_, err := r.threadRowInCourse(tx, courseID, ref.ID)
		return err
	case store.KindComment:
		_, err := r.commentRowInCourse(tx, courseID, ref.ID)
		return err
	}
	return store.ErrValidation
}

func (r *Relational) loadVotes(tx *gorm.DB, ctype, contentID string) (models.Votes, error) {
	var rows []userVoteRow
	if err := tx.Where("content_type = ? AND content_id = ?", ctype, contentID).
		Order("user_id").Find(&rows).Error; err != nil {
		return models.Votes{}, wrap(err)
	}
	votes := models.NewVotes()
	for _, row := range rows {
		if row.Vote > 0 {
			votes.Up = append(votes.Up, row.UserID)
		} else {
			votes.Down = append(votes.Down, row.UserID)
		}
	}
	votes.Recompute()
	return votes, nil
}

func (r *Relational) loadContentChildren(tx *gorm.DB, ctype, contentID string, votes *models.Votes, history *[]models.EditHistoryEntry, flaggers, historical *[]string) error {
	loaded, err := r.loadVotes(tx, ctype, contentID)
	if err != nil {
		return err
	}
	*votes = loaded

	var editRows []editHistoryRow
	if err := tx.Where("content_type = ? AND content_id = ?", ctype, contentID).
		Order("position").Find(&editRows).Error; err != nil {
		return wrap(err)
	}
	entries := make([]models.EditHistoryEntry, 0, len(editRows))
	for _, row := range editRows {
		entries = append(entries, models.EditHistoryEntry{
			OriginalBody:   row.OriginalBody,
			ReasonCode:     row.ReasonCode,
			EditorUsername: row.EditorUsername,
			AuthorID:       row.AuthorID,
			CreatedAt:      row.CreatedAt,
		})
	}
	*history = entries

	var flagRows []abuseFlaggerRow
	if err := tx.Where("content_type = ? AND content_id = ?", ctype, contentID).
		Order("id").Find(&flagRows).Error; err != nil {
		return wrap(err)
	}
	active, hist := []string{}, []string{}
	for _, row := range flagRows {
		if row.Historical {
			hist = append(hist, row.UserID)
		} else {
			active = append(active, row.UserID)
		}
	}
	*flaggers = active
	*historical = hist
	return nil
}

// writeContentChildren 整体重写子表行，迁移重复执行时得到相同结果
func (r *Relational) writeContentChildren(tx *gorm.DB, ctype, contentID string, votes models.Votes, history []models.EditHistoryEntry, flaggers, historical []string) error {
	if err := tx.Where("content_type = ? AND content_id = ?", ctype, contentID).Delete(&userVoteRow{}).Error; err != nil {
		return err
	}
	for _, userID := range votes.Up {
		if err := tx.Create(&userVoteRow{ContentType: ctype, ContentID: contentID, UserID: userID, Vote: 1}).Error; err != nil {
			return err
		}
	}
	for _, userID := range votes.Down {
		if err := tx.Create(&userVoteRow{ContentType: ctype, ContentID: contentID, UserID: userID, Vote: -1}).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("content_type = ? AND content_id = ?", ctype, contentID).Delete(&editHistoryRow{}).Error; err != nil {
		return err
	}
	for i, entry := range history {
		if err := tx.Create(&editHistoryRow{
			ContentType:    ctype,
			ContentID:      contentID,
			Position:       i,
			OriginalBody:   entry.OriginalBody,
			ReasonCode:     entry.ReasonCode,
			EditorUsername: entry.EditorUsername,
			AuthorID:       entry.AuthorID,
			CreatedAt:      entry.CreatedAt,
		}).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("content_type = ? AND content_id = ?", ctype, contentID).Delete(&abuseFlaggerRow{}).Error; err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, userID := range flaggers {
		if err := tx.Create(&abuseFlaggerRow{ContentType: ctype, ContentID: contentID, UserID: userID, FlaggedAt: now}).Error; err != nil {
			return err
		}
	}
	for _, userID := range historical {
		if err := tx.Create(&abuseFlaggerRow{ContentType: ctype, ContentID: contentID, UserID: userID, Historical: true, FlaggedAt: now}).Error; err != nil {
			return err
		}
	}
	return nil
}
