package document

import (
	"context"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

// 迁移扫描面：与关系库一致，按 (created_at, id) 升序、游标分页。

type groupRecord struct {
	CourseID string `json:"course_id"`
}

type countRecord struct {
	Count int64 `json:"count"`
}

type sumRecord struct {
	Total int64 `json:"total"`
}

func (d *Document) ListCourseIDs(ctx context.Context) ([]string, error) {
	recs, err := queryAll[groupRecord](ctx, d.db,
		`SELECT course_id FROM type::table($tb) GROUP BY course_id ORDER BY course_id ASC`,
		map[string]any{"tb": tableContents})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.CourseID)
	}
	return out, nil
}

func scanVars(tb, courseID string, cur store.Cursor, limit int) map[string]any {
	return map[string]any{
		"tb": tb, "course": courseID, "limit": limit,
		"after_at": dt(cur.CreatedAt), "after_id": cur.ID,
	}
}

const cursorClause = `(created_at > $after_at OR (created_at = $after_at AND record::id(id) > $after_id))`

func nextCursor[T any](recs []T, limit int, last store.Cursor) string {
	if limit > 0 && len(recs) == limit {
		return last.Encode()
	}
	return ""
}

func (d *Document) ListThreads(ctx context.Context, courseID, cursor string, limit int) ([]*models.Thread, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	sql := `SELECT * FROM type::table($tb) WHERE _type = $type AND course_id = $course`
	if cur.ID != "" {
		sql += ` AND ` + cursorClause
	}
	sql += ` ORDER BY created_at ASC, id ASC LIMIT $limit`
	vars := scanVars(tableContents, courseID, cur, limit)
	vars["type"] = models.ContentTypeThread
	recs, err := queryAll[contentRecord](ctx, d.db, sql, vars)
	if err != nil {
		return nil, "", err
	}
	out := make([]*models.Thread, 0, len(recs))
	for i := range recs {
		out = append(out, recordToThread(&recs[i]))
	}
	next := ""
	if len(out) > 0 {
		last := out[len(out)-1]
		next = nextCursor(recs, limit, store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return out, next, nil
}

func (d *Document) ListComments(ctx context.Context, courseID, cursor string, limit int) ([]*models.Comment, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	sql := `SELECT * FROM type::table($tb) WHERE _type = $type AND course_id = $course`
	if cur.ID != "" {
		sql += ` AND ` + cursorClause
	}
	sql += ` ORDER BY created_at ASC, id ASC LIMIT $limit`
	vars := scanVars(tableContents, courseID, cur, limit)
	vars["type"] = models.ContentTypeComment
	recs, err := queryAll[contentRecord](ctx, d.db, sql, vars)
	if err != nil {
		return nil, "", err
	}
	out := make([]*models.Comment, 0, len(recs))
	for i := range recs {
		out = append(out, recordToComment(&recs[i]))
	}
	next := ""
	if len(out) > 0 {
		last := out[len(out)-1]
		next = nextCursor(recs, limit, store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return out, next, nil
}

func (d *Document) ListUsers(ctx context.Context, courseID, cursor string, limit int) ([]*models.User, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	sql := `SELECT * FROM type::table($tb) WHERE course_stats.course_id CONTAINS $course`
	if cur.ID != "" {
		sql += ` AND ` + cursorClause
	}
	sql += ` ORDER BY created_at ASC, id ASC LIMIT $limit`
	recs, err := queryAll[userRecord](ctx, d.db, sql, scanVars(tableUsers, courseID, cur, limit))
	if err != nil {
		return nil, "", err
	}
	out := make([]*models.User, 0, len(recs))
	for i := range recs {
		out = append(out, recordToUser(&recs[i]))
	}
	next := ""
	if len(out) > 0 {
		last := out[len(out)-1]
		next = nextCursor(recs, limit, store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return out, next, nil
}

func (d *Document) ListSubscriptions(ctx context.Context, courseID, cursor string, limit int) ([]*models.Subscription, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	sql := `SELECT * FROM type::table($tb) WHERE course_id = $course`
	if cur.ID != "" {
		sql += ` AND ` + cursorClause
	}
	sql += ` ORDER BY created_at ASC, id ASC LIMIT $limit`
	recs, err := queryAll[subscriptionRecord](ctx, d.db, sql, scanVars(tableSubscriptions, courseID, cur, limit))
	if err != nil {
		return nil, "", err
	}
	out := make([]*models.Subscription, 0, len(recs))
	for i := range recs {
		out = append(out, recordToSub(&recs[i]))
	}
	next := ""
	if len(out) > 0 {
		last := out[len(out)-1]
		next = nextCursor(recs, limit, store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return out, next, nil
}

func (d *Document) UpsertThread(ctx context.Context, t *models.Thread) error {
	_, err := queryAll[contentRecord](ctx, d.db,
		`UPSERT type::thing($tb, $id) CONTENT $content`,
		map[string]any{"tb": tableContents, "id": t.ID, "content": threadToRecord(t)})
	return err
}

func (d *Document) UpsertComment(ctx context.Context, c *models.Comment) error {
	_, err := queryAll[contentRecord](ctx, d.db,
		`UPSERT type::thing($tb, $id) CONTENT $content`,
		map[string]any{"tb": tableContents, "id": c.ID, "content": commentToRecord(c)})
	return err
}

func (d *Document) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	source, err := d.getContent(ctx, sub.SourceID)
	if err != nil {
		return err
	}
	id := sub.ID
	if id == "" {
		id = models.NewID()
	}
	_, err = queryAll[subscriptionRecord](ctx, d.db,
		`UPSERT type::thing($tb, $id) CONTENT $content`,
		map[string]any{"tb": tableSubscriptions, "id": id, "content": subToRecord(sub, source.CourseID)})
	return err
}

func (d *Document) count(ctx context.Context, sql string, vars map[string]any) (int64, error) {
	recs, err := queryAll[countRecord](ctx, d.db, sql, vars)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[0].Count, nil
}

func (d *Document) CourseCounts(ctx context.Context, courseID string) (store.Counts, error) {
	var counts store.Counts
	var err error
	counts.Threads, err = d.count(ctx,
		`SELECT count() AS count FROM type::table($tb) WHERE _type = $type AND course_id = $course GROUP ALL`,
		map[string]any{"tb": tableContents, "type": models.ContentTypeThread, "course": courseID})
	if err != nil {
		return counts, err
	}
	counts.Comments, err = d.count(ctx,
		`SELECT count() AS count FROM type::table($tb) WHERE _type = $type AND course_id = $course GROUP ALL`,
		map[string]any{"tb": tableContents, "type": models.ContentTypeComment, "course": courseID})
	if err != nil {
		return counts, err
	}
	sums, err := queryAll[sumRecord](ctx, d.db,
		`SELECT math::sum(votes.point) AS total FROM type::table($tb) WHERE course_id = $course GROUP ALL`,
		map[string]any{"tb": tableContents, "course": courseID})
	if err != nil {
		return counts, err
	}
	if len(sums) > 0 {
		counts.VotePoints = sums[0].Total
	}
	counts.Users, err = d.count(ctx,
		`SELECT count() AS count FROM type::table($tb) WHERE course_stats.course_id CONTAINS $course GROUP ALL`,
		map[string]any{"tb": tableUsers, "course": courseID})
	if err != nil {
		return counts, err
	}
	counts.Subscriptions, err = d.count(ctx,
		`SELECT count() AS count FROM type::table($tb) WHERE course_id = $course GROUP ALL`,
		map[string]any{"tb": tableSubscriptions, "course": courseID})
	return counts, err
}

func (d *Document) DeleteCourseData(ctx context.Context, courseID string, dryRun bool) (store.DeleteStats, error) {
	stats := store.DeleteStats{DryRun: dryRun}
	var err error
	stats.Contents, err = d.count(ctx,
		`SELECT count() AS count FROM type::table($tb) WHERE course_id = $course GROUP ALL`,
		map[string]any{"tb": tableContents, "course": courseID})
	if err != nil {
		return stats, err
	}
	stats.Subscriptions, err = d.count(ctx,
		`SELECT count() AS count FROM type::table($tb) WHERE course_id = $course GROUP ALL`,
		map[string]any{"tb": tableSubscriptions, "course": courseID})
	if err != nil {
		return stats, err
	}
	stats.Users, err = d.count(ctx,
		`SELECT count() AS count FROM type::table($tb) WHERE course_stats.course_id CONTAINS $course GROUP ALL`,
		map[string]any{"tb": tableUsers, "course": courseID})
	if err != nil || dryRun {
		return stats, err
	}
	if _, err := queryAll[subscriptionRecord](ctx, d.db,
		`DELETE FROM type::table($tb) WHERE course_id = $course`,
		map[string]any{"tb": tableSubscriptions, "course": courseID}); err != nil {
		return stats, err
	}
	if _, err := queryAll[contentRecord](ctx, d.db,
		`DELETE FROM type::table($tb) WHERE course_id = $course`,
		map[string]any{"tb": tableContents, "course": courseID}); err != nil {
		return stats, err
	}
	// 用户文档只剥离该课程的统计和阅读状态，用户本身保留
	_, err = queryAll[userRecord](ctx, d.db,
		`UPDATE type::table($tb) SET
			course_stats = course_stats[WHERE course_id != $course],
			read_states = read_states[WHERE course_id != $course]
		 WHERE course_stats.course_id CONTAINS $course OR read_states.course_id CONTAINS $course`,
		map[string]any{"tb": tableUsers, "course": courseID})
	return stats, err
}
