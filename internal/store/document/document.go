// Package document 是 store.Backend 的文档库实现，基于 SurrealDB。
// 写路径沿袭文档模型的习惯：内容文档整体读出、修改后条件写回，
// 计数器用单文档自增，不依赖跨文档事务。
package document

import (
	"context"
	"fmt"
	"strings"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

// casRetries 同一目标上的投票冲突重试次数，超过即上报 ConcurrencyConflict
const casRetries = 3

type Document struct {
	db *surrealdb.DB
}

func New(db *surrealdb.DB) *Document {
	return &Document{db: db}
}

// Connect 建立 SurrealDB 连接并选择命名空间
func Connect(ctx context.Context, url, namespace, database, user, pass string) (*surrealdb.DB, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if user != "" {
		if _, err := db.SignIn(ctx, surrealdb.Auth{Username: user, Password: pass}); err != nil {
			return nil, fmt.Errorf("%w: signin: %v", store.ErrUnavailable, err)
		}
	}
	if err := db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("%w: use: %v", store.ErrUnavailable, err)
	}
	return db, nil
}

func (d *Document) Kind() store.BackendKind { return store.BackendDocument }

func queryAll[T any](ctx context.Context, db *surrealdb.DB, sql string, vars map[string]any) ([]T, error) {
	res, err := surrealdb.Query[[]T](ctx, db, sql, vars)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	return (*res)[len(*res)-1].Result, nil
}

func (d *Document) getContent(ctx context.Context, id string) (*contentRecord, error) {
	recs, err := queryAll[contentRecord](ctx, d.db,
		`SELECT * FROM type::thing($tb, $id)`,
		map[string]any{"tb": tableContents, "id": id})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return &recs[0], nil
}

func (d *Document) contentInCourse(ctx context.Context, courseID, id string) (*contentRecord, error) {
	rec, err := d.getContent(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.CourseID != courseID {
		return nil, store.ErrCrossTenantReference
	}
	return rec, nil
}

func (d *Document) CreateThread(ctx context.Context, t *models.Thread) error {
	_, err := queryAll[contentRecord](ctx, d.db,
		`CREATE type::thing($tb, $id) CONTENT $content`,
		map[string]any{"tb": tableContents, "id": t.ID, "content": threadToRecord(t)})
	return err
}

func (d *Document) GetThread(ctx context.Context, courseID, threadID string) (*models.Thread, error) {
	rec, err := d.contentInCourse(ctx, courseID, threadID)
	if err != nil {
		return nil, err
	}
	if rec.Type != models.ContentTypeThread {
		return nil, store.ErrNotFound
	}
	return recordToThread(rec), nil
}

func (d *Document) CreateComment(ctx context.Context, c *models.Comment) error {
	thread, err := d.contentInCourse(ctx, c.CourseID, c.ThreadID)
	if err != nil {
		return err
	}
	if thread.Type != models.ContentTypeThread {
		return store.ErrNotFound
	}
	if c.ParentID != "" {
		parent, err := d.getContent(ctx, c.ParentID)
		if err != nil || parent.CommentThreadID != c.ThreadID {
			return store.ErrParentNotFound
		}
	}
	if _, err := queryAll[contentRecord](ctx, d.db,
		`CREATE type::thing($tb, $id) CONTENT $content`,
		map[string]any{"tb": tableContents, "id": c.ID, "content": commentToRecord(c)}); err != nil {
		return err
	}
	if c.ParentID != "" {
		if _, err := queryAll[contentRecord](ctx, d.db,
			`UPDATE type::thing($tb, $id) SET child_count += 1`,
			map[string]any{"tb": tableContents, "id": c.ParentID}); err != nil {
			return err
		}
	}
	_, err = queryAll[contentRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET comment_count += 1, last_activity_at = $at`,
		map[string]any{"tb": tableContents, "id": c.ThreadID, "at": dt(c.CreatedAt)})
	return err
}

func (d *Document) GetComment(ctx context.Context, courseID, commentID string) (*models.Comment, error) {
	rec, err := d.contentInCourse(ctx, courseID, commentID)
	if err != nil {
		return nil, err
	}
	if rec.Type != models.ContentTypeComment {
		return nil, store.ErrNotFound
	}
	return recordToComment(rec), nil
}

func (d *Document) EditBody(ctx context.Context, courseID string, ref store.Ref, body string, entry models.EditHistoryEntry) error {
	rec, err := d.contentInCourse(ctx, courseID, ref.ID)
	if err != nil {
		return err
	}
	entry.OriginalBody = rec.Body
	history := append(rec.EditHistory, historyToRecords([]models.EditHistoryEntry{entry})...)
	_, err = queryAll[contentRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET body = $body, edit_history = $history, updated_at = $at`,
		map[string]any{
			"tb": tableContents, "id": ref.ID,
			"body": body, "history": history, "at": dt(entry.CreatedAt),
		})
	return err
}

func (d *Document) ApplyVote(ctx context.Context, courseID string, ref store.Ref, userID string, dir store.Direction) (models.Votes, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := d.contentInCourse(ctx, courseID, ref.ID)
		if err != nil {
			return models.Votes{}, err
		}
		votes := rec.Votes
		votes.Up = removeString(votes.Up, userID)
		votes.Down = removeString(votes.Down, userID)
		switch dir {
		case store.VoteUp:
			votes.Up = append(votes.Up, userID)
		case store.VoteDown:
			votes.Down = append(votes.Down, userID)
		}
		votes.Recompute()
		// updated_at 充当版本号：有人抢先写入就重读重算
		updated, err := queryAll[contentRecord](ctx, d.db,
			`UPDATE type::thing($tb, $id) SET votes = $votes, updated_at = $now WHERE updated_at = $expected RETURN AFTER`,
			map[string]any{
				"tb": tableContents, "id": ref.ID,
				"votes": votes, "now": dt(time.Now().UTC()), "expected": rec.UpdatedAt,
			})
		if err != nil {
			return models.Votes{}, err
		}
		if len(updated) == 0 {
			continue
		}
		d.updateUserVoteLists(ctx, userID, ref.ID, dir)
		return votes, nil
	}
	return models.Votes{}, store.ErrConcurrencyConflict
}

func (d *Document) updateUserVoteLists(ctx context.Context, userID, contentID string, dir store.Direction) {
	sql := `UPDATE type::thing($tb, $id) SET
		upvoted_ids = array::distinct(upvoted_ids[WHERE $this != $cid]),
		downvoted_ids = array::distinct(downvoted_ids[WHERE $this != $cid])`
	switch dir {
	case store.VoteUp:
		sql = `UPDATE type::thing($tb, $id) SET
			upvoted_ids = array::distinct(array::append(upvoted_ids[WHERE $this != $cid], $cid)),
			downvoted_ids = downvoted_ids[WHERE $this != $cid]`
	case store.VoteDown:
		sql = `UPDATE type::thing($tb, $id) SET
			upvoted_ids = upvoted_ids[WHERE $this != $cid],
			downvoted_ids = array::distinct(array::append(downvoted_ids[WHERE $this != $cid], $cid))`
	}
	// 用户文档上的冗余列表允许落后于内容文档，失败不回滚投票本身
	_, _ = queryAll[userRecord](ctx, d.db, sql, map[string]any{"tb": tableUsers, "id": userID, "cid": contentID})
}

func (d *Document) SetEndorsement(ctx context.Context, courseID, commentID string, e *models.Endorsement) error {
	rec, err := d.contentInCourse(ctx, courseID, commentID)
	if err != nil {
		return err
	}
	if rec.Type != models.ContentTypeComment {
		return store.ErrNotFound
	}
	if rec.Depth != 0 {
		return store.ErrInvalidEndorsementTarget
	}
	vars := map[string]any{"tb": tableContents, "id": commentID}
	if e == nil {
		_, err = queryAll[contentRecord](ctx, d.db,
			`UPDATE type::thing($tb, $id) SET endorsed = false, endorsement = NONE`, vars)
		return err
	}
	vars["endorsement"] = endorsementRecord{UserID: e.UserID, Time: dt(e.Time)}
	_, err = queryAll[contentRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET endorsed = true, endorsement = $endorsement`, vars)
	return err
}

func (d *Document) UpdateAbuseFlags(ctx context.Context, courseID string, ref store.Ref, userID string, flagged, moveAll bool) error {
	rec, err := d.contentInCourse(ctx, courseID, ref.ID)
	if err != nil {
		return err
	}
	active := orEmpty(rec.AbuseFlaggers)
	historical := orEmpty(rec.HistoricalAbuseFlaggers)
	switch {
	case flagged:
		if !containsString(active, userID) {
			active = append(active, userID)
		}
	case moveAll:
		for _, id := range active {
			if !containsString(historical, id) {
				historical = append(historical, id)
			}
		}
		active = []string{}
	default:
		active = removeString(active, userID)
	}
	_, err = queryAll[contentRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET abuse_flaggers = $active, historical_abuse_flaggers = $historical`,
		map[string]any{"tb": tableContents, "id": ref.ID, "active": active, "historical": historical})
	return err
}

func (d *Document) CloseThread(ctx context.Context, courseID, threadID, closedBy string, closed bool) error {
	if _, err := d.contentInCourse(ctx, courseID, threadID); err != nil {
		return err
	}
	by := ""
	if closed {
		by = closedBy
	}
	_, err := queryAll[contentRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET closed = $closed, closed_by = $by`,
		map[string]any{"tb": tableContents, "id": threadID, "closed": closed, "by": by})
	return err
}

func (d *Document) PinThread(ctx context.Context, courseID, threadID string, pinned bool) error {
	if _, err := d.contentInCourse(ctx, courseID, threadID); err != nil {
		return err
	}
	_, err := queryAll[contentRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET pinned = $pinned`,
		map[string]any{"tb": tableContents, "id": threadID, "pinned": pinned})
	return err
}

func (d *Document) SoftDelete(ctx context.Context, courseID string, ref store.Ref) error {
	rec, err := d.contentInCourse(ctx, courseID, ref.ID)
	if err != nil {
		return err
	}
	if !rec.Visible {
		return nil
	}
	updated, err := queryAll[contentRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET visible = false WHERE visible = true RETURN AFTER`,
		map[string]any{"tb": tableContents, "id": ref.ID})
	if err != nil {
		return err
	}
	if len(updated) == 0 || rec.Type != models.ContentTypeComment {
		return nil
	}
	if rec.ParentID != "" {
		if _, err := queryAll[contentRecord](ctx, d.db,
			`UPDATE type::thing($tb, $id) SET child_count -= 1`,
			map[string]any{"tb": tableContents, "id": rec.ParentID}); err != nil {
			return err
		}
	}
	_, err = queryAll[contentRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET comment_count -= 1`,
		map[string]any{"tb": tableContents, "id": rec.CommentThreadID})
	return err
}

func (d *Document) ListThreadComments(ctx context.Context, courseID, threadID string) ([]*models.Comment, error) {
	if _, err := d.contentInCourse(ctx, courseID, threadID); err != nil {
		return nil, err
	}
	// sk 的字典序就是树的先序，分页取整个主题不需要递归查询
	recs, err := queryAll[contentRecord](ctx, d.db,
		`SELECT * FROM type::table($tb)
		 WHERE _type = $type AND comment_thread_id = $tid AND visible = true
		 ORDER BY sk ASC`,
		map[string]any{"tb": tableContents, "type": models.ContentTypeComment, "tid": threadID})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Comment, 0, len(recs))
	for i := range recs {
		out = append(out, recordToComment(&recs[i]))
	}
	return out, nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
