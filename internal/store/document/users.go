package document

import (
	"context"
	"time"

	smodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

func (d *Document) getUserRecord(ctx context.Context, userID string) (*userRecord, error) {
	recs, err := queryAll[userRecord](ctx, d.db,
		`SELECT * FROM type::thing($tb, $id)`,
		map[string]any{"tb": tableUsers, "id": userID})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return &recs[0], nil
}

func (d *Document) GetUser(ctx context.Context, userID string) (*models.User, error) {
	rec, err := d.getUserRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	return recordToUser(rec), nil
}

func (d *Document) UpsertUser(ctx context.Context, u *models.User) error {
	_, err := queryAll[userRecord](ctx, d.db,
		`UPSERT type::thing($tb, $id) CONTENT $content`,
		map[string]any{"tb": tableUsers, "id": u.ID, "content": userToRecord(u)})
	return err
}

func (d *Document) AdjustCourseStats(ctx context.Context, userID, courseID string, delta store.StatsDelta) error {
	rec, err := d.getUserRecord(ctx, userID)
	if err != nil {
		return err
	}
	var cs *courseStatsRecord
	for i := range rec.CourseStats {
		if rec.CourseStats[i].CourseID == courseID {
			cs = &rec.CourseStats[i]
			break
		}
	}
	if cs == nil {
		rec.CourseStats = append(rec.CourseStats, courseStatsRecord{CourseID: courseID})
		cs = &rec.CourseStats[len(rec.CourseStats)-1]
	}
	cs.Threads += delta.Threads
	cs.Responses += delta.Responses
	cs.Replies += delta.Replies
	cs.ActiveFlags += delta.ActiveFlags
	cs.InactiveFlags += delta.InactiveFlags
	if delta.LastActivity != nil {
		at := dt(*delta.LastActivity)
		cs.LastActivityAt = &at
	}
	_, err = queryAll[userRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET course_stats = $stats`,
		map[string]any{"tb": tableUsers, "id": userID, "stats": rec.CourseStats})
	return err
}

func (d *Document) MarkRead(ctx context.Context, userID, courseID, threadID string, at time.Time) error {
	if _, err := d.contentInCourse(ctx, courseID, threadID); err != nil {
		return err
	}
	rec, err := d.getUserRecord(ctx, userID)
	if err != nil {
		return err
	}
	found := false
	for i := range rec.ReadStates {
		if rec.ReadStates[i].CourseID == courseID {
			if rec.ReadStates[i].LastReadTimes == nil {
				rec.ReadStates[i].LastReadTimes = map[string]smodels.CustomDateTime{}
			}
			rec.ReadStates[i].LastReadTimes[threadID] = dt(at)
			found = true
			break
		}
	}
	if !found {
		rec.ReadStates = append(rec.ReadStates, readStateRecord{
			CourseID:      courseID,
			LastReadTimes: map[string]smodels.CustomDateTime{threadID: dt(at)},
		})
	}
	_, err = queryAll[userRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET read_states = $states`,
		map[string]any{"tb": tableUsers, "id": userID, "states": rec.ReadStates})
	return err
}

func (d *Document) Subscribe(ctx context.Context, sub *models.Subscription) error {
	source, err := d.getContent(ctx, sub.SourceID)
	if err != nil {
		return err
	}
	existing, err := queryAll[subscriptionRecord](ctx, d.db,
		`SELECT * FROM type::table($tb) WHERE subscriber_id = $sid AND source_id = $src`,
		map[string]any{"tb": tableSubscriptions, "sid": sub.SubscriberID, "src": sub.SourceID})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		_, err = queryAll[subscriptionRecord](ctx, d.db,
			`UPDATE type::thing($tb, $id) SET updated_at = $at`,
			map[string]any{"tb": tableSubscriptions, "id": recordID(existing[0].ID), "at": dt(sub.UpdatedAt)})
		return err
	}
	id := sub.ID
	if id == "" {
		id = models.NewID()
	}
	if _, err := queryAll[subscriptionRecord](ctx, d.db,
		`CREATE type::thing($tb, $id) CONTENT $content`,
		map[string]any{"tb": tableSubscriptions, "id": id, "content": subToRecord(sub, source.CourseID)}); err != nil {
		return err
	}
	if sub.SourceType == models.ContentTypeThread {
		_, err = queryAll[userRecord](ctx, d.db,
			`UPDATE type::thing($tb, $id) SET subscribed_thread_ids = array::distinct(array::append(subscribed_thread_ids, $tid))`,
			map[string]any{"tb": tableUsers, "id": sub.SubscriberID, "tid": sub.SourceID})
	}
	return err
}

func (d *Document) Unsubscribe(ctx context.Context, subscriberID, sourceID string) error {
	if _, err := queryAll[subscriptionRecord](ctx, d.db,
		`DELETE FROM type::table($tb) WHERE subscriber_id = $sid AND source_id = $src`,
		map[string]any{"tb": tableSubscriptions, "sid": subscriberID, "src": sourceID}); err != nil {
		return err
	}
	_, err := queryAll[userRecord](ctx, d.db,
		`UPDATE type::thing($tb, $id) SET subscribed_thread_ids = subscribed_thread_ids[WHERE $this != $tid]`,
		map[string]any{"tb": tableUsers, "id": subscriberID, "tid": sourceID})
	return err
}

func (d *Document) GetSubscription(ctx context.Context, subscriberID, sourceID string) (*models.Subscription, error) {
	recs, err := queryAll[subscriptionRecord](ctx, d.db,
		`SELECT * FROM type::table($tb) WHERE subscriber_id = $sid AND source_id = $src`,
		map[string]any{"tb": tableSubscriptions, "sid": subscriberID, "src": sourceID})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recordToSub(&recs[0]), nil
}
