// Package memory 提供 store.Backend 的内存实现。
// 业务逻辑和迁移引擎的测试都跑在这份实现上，也可以作为 dry-run 的草稿目标。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

type Memory struct {
	mu       sync.Mutex
	threads  map[string]*models.Thread
	comments map[string]*models.Comment
	users    map[string]*models.User
	subs     map[string]*models.Subscription // key: subscriberID|sourceID
}

func New() *Memory {
	return &Memory{
		threads:  make(map[string]*models.Thread),
		comments: make(map[string]*models.Comment),
		users:    make(map[string]*models.User),
		subs:     make(map[string]*models.Subscription),
	}
}

func (m *Memory) Kind() store.BackendKind { return store.BackendDocument }

func subKey(subscriberID, sourceID string) string { return subscriberID + "|" + sourceID }

func (m *Memory) CreateThread(_ context.Context, t *models.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[t.ID]; ok {
		return store.ErrDuplicate
	}
	m.threads[t.ID] = cloneThread(t)
	return nil
}

func (m *Memory) GetThread(_ context.Context, courseID, threadID string) (*models.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.threadInCourse(courseID, threadID)
	if err != nil {
		return nil, err
	}
	return cloneThread(t), nil
}

func (m *Memory) CreateComment(_ context.Context, c *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[c.ID]; ok {
		return store.ErrDuplicate
	}
	t, err := m.threadInCourse(c.CourseID, c.ThreadID)
	if err != nil {
		return err
	}
	if c.ParentID != "" {
		parent, ok := m.comments[c.ParentID]
		if !ok || parent.ThreadID != c.ThreadID {
			return store.ErrParentNotFound
		}
		parent.ChildCount++
	}
	m.comments[c.ID] = cloneComment(c)
	t.CommentCount++
	t.LastActivityAt = c.CreatedAt
	return nil
}

func (m *Memory) GetComment(_ context.Context, courseID, commentID string) (*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.commentInCourse(courseID, commentID)
	if err != nil {
		return nil, err
	}
	return cloneComment(c), nil
}

func (m *Memory) EditBody(_ context.Context, courseID string, ref store.Ref, body string, entry models.EditHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ref.Kind {
	case store.KindThread:
		t, err := m.threadInCourse(courseID, ref.ID)
		if err != nil {
			return err
		}
		entry.OriginalBody = t.Body
		t.EditHistory = append(t.EditHistory, entry)
		t.Body = body
		t.UpdatedAt = entry.CreatedAt
		return nil
	case store.KindComment:
		c, err := m.commentInCourse(courseID, ref.ID)
		if err != nil {
			return err
		}
		entry.OriginalBody = c.Body
		c.EditHistory = append(c.EditHistory, entry)
		c.Body = body
		c.UpdatedAt = entry.CreatedAt
		return nil
	}
	return store.ErrValidation
}

func (m *Memory) ApplyVote(_ context.Context, courseID string, ref store.Ref, userID string, dir store.Direction) (models.Votes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	votes, err := m.votesOf(courseID, ref)
	if err != nil {
		return models.Votes{}, err
	}
	applyVote(votes, userID, dir)
	m.updateUserVoteLists(userID, ref.ID, dir)
	return *votes, nil
}

// applyVote 对同方向重复提交是幂等的，换方向是单步交换，用户不会同时出现在两个集合里
func applyVote(v *models.Votes, userID string, dir store.Direction) {
	up := remove(v.Up, userID)
	down := remove(v.Down, userID)
	switch dir {
	case store.VoteUp:
		up = append(up, userID)
	case store.VoteDown:
		down = append(down, userID)
	}
	v.Up, v.Down = up, down
	v.Recompute()
}

func (m *Memory) updateUserVoteLists(userID, contentID string, dir store.Direction) {
	u, ok := m.users[userID]
	if !ok {
		return
	}
	u.UpvotedIDs = remove(u.UpvotedIDs, contentID)
	u.DownvotedIDs = remove(u.DownvotedIDs, contentID)
	switch dir {
	case store.VoteUp:
		u.UpvotedIDs = append(u.UpvotedIDs, contentID)
	case store.VoteDown:
		u.DownvotedIDs = append(u.DownvotedIDs, contentID)
	}
}

func (m *Memory) SetEndorsement(_ context.Context, courseID, commentID string, e *models.Endorsement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.commentInCourse(courseID, commentID)
	if err != nil {
		return err
	}
	if c.Depth != 0 {
		return store.ErrInvalidEndorsementTarget
	}
	if e == nil {
		c.Endorsed = false
		c.Endorsement = nil
		return nil
	}
	c.Endorsed = true
	c.Endorsement = &models.Endorsement{UserID: e.UserID, Time: e.Time}
	return nil
}

func (m *Memory) UpdateAbuseFlags(_ context.Context, courseID string, ref store.Ref, userID string, flagged, moveAll bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	active, historical, err := m.flagsOf(courseID, ref)
	if err != nil {
		return err
	}
	if flagged {
		if !contains(*active, userID) {
			*active = append(*active, userID)
		}
		return nil
	}
	if moveAll {
		for _, id := range *active {
			if !contains(*historical, id) {
				*historical = append(*historical, id)
			}
		}
		*active = []string{}
		return nil
	}
	*active = remove(*active, userID)
	return nil
}

func (m *Memory) CloseThread(_ context.Context, courseID, threadID, closedBy string, closed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.threadInCourse(courseID, threadID)
	if err != nil {
		return err
	}
	t.Closed = closed
	if closed {
		t.ClosedBy = closedBy
	} else {
		t.ClosedBy = ""
	}
	return nil
}

func (m *Memory) PinThread(_ context.Context, courseID, threadID string, pinned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.threadInCourse(courseID, threadID)
	if err != nil {
		return err
	}
	t.Pinned = pinned
	return nil
}

func (m *Memory) SoftDelete(_ context.Context, courseID string, ref store.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ref.Kind {
	case store.KindThread:
		t, err := m.threadInCourse(courseID, ref.ID)
		if err != nil {
			return err
		}
		t.Visible = false
		return nil
	case store.KindComment:
		c, err := m.commentInCourse(courseID, ref.ID)
		if err != nil {
			return err
		}
		if !c.Visible {
			return nil
		}
		c.Visible = false
		if t, ok := m.threads[c.ThreadID]; ok {
			t.CommentCount--
		}
		if c.ParentID != "" {
			if parent, ok := m.comments[c.ParentID]; ok {
				parent.ChildCount--
			}
		}
		return nil
	}
	return store.ErrValidation
}

func (m *Memory) ListThreadComments(_ context.Context, courseID, threadID string) ([]*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.threadInCourse(courseID, threadID); err != nil {
		return nil, err
	}
	var out []*models.Comment
	for _, c := range m.comments {
		if c.ThreadID == threadID && c.Visible {
			out = append(out, cloneComment(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey < out[j].SortKey })
	return out, nil
}

func (m *Memory) GetUser(_ context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) UpsertUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *Memory) AdjustCourseStats(_ context.Context, userID, courseID string, delta store.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	cs := u.StatsFor(courseID)
	if cs == nil {
		u.CourseStats = append(u.CourseStats, models.CourseStats{CourseID: courseID})
		cs = &u.CourseStats[len(u.CourseStats)-1]
	}
	cs.Threads += delta.Threads
	cs.Responses += delta.Responses
	cs.Replies += delta.Replies
	cs.ActiveFlags += delta.ActiveFlags
	cs.InactiveFlags += delta.InactiveFlags
	if delta.LastActivity != nil {
		cs.LastActivityAt = delta.LastActivity
	}
	return nil
}

func (m *Memory) MarkRead(_ context.Context, userID, courseID, threadID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	rs := u.ReadStateFor(courseID)
	if rs == nil {
		u.ReadStates = append(u.ReadStates, models.ReadState{
			UserID: userID, CourseID: courseID, LastReadTimes: map[string]time.Time{},
		})
		rs = &u.ReadStates[len(u.ReadStates)-1]
	}
	rs.LastReadTimes[threadID] = at
	return nil
}

func (m *Memory) Subscribe(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey(sub.SubscriberID, sub.SourceID)
	if existing, ok := m.subs[key]; ok {
		existing.UpdatedAt = sub.UpdatedAt
		return nil
	}
	cp := *sub
	if cp.ID == "" {
		cp.ID = models.NewID()
	}
	m.subs[key] = &cp
	if u, ok := m.users[sub.SubscriberID]; ok && !contains(u.SubscribedThreadIDs, sub.SourceID) {
		u.SubscribedThreadIDs = append(u.SubscribedThreadIDs, sub.SourceID)
	}
	return nil
}

func (m *Memory) Unsubscribe(_ context.Context, subscriberID, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, subKey(subscriberID, sourceID))
	if u, ok := m.users[subscriberID]; ok {
		u.SubscribedThreadIDs = remove(u.SubscribedThreadIDs, sourceID)
	}
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, subscriberID, sourceID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subKey(subscriberID, sourceID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *Memory) ListCourseIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, t := range m.threads {
		seen[t.CourseID] = true
	}
	for _, c := range m.comments {
		seen[c.CourseID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListThreads(_ context.Context, courseID, cursor string, limit int) ([]*models.Thread, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.Thread
	for _, t := range m.threads {
		if t.CourseID == courseID && cur.After(t.CreatedAt, t.ID) {
			all = append(all, cloneThread(t))
		}
	}
	sort.Slice(all, func(i, j int) bool { return olderFirst(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	page, next := paginate(all, limit, func(t *models.Thread) store.Cursor {
		return store.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return page, next, nil
}

func (m *Memory) ListComments(_ context.Context, courseID, cursor string, limit int) ([]*models.Comment, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.Comment
	for _, c := range m.comments {
		if c.CourseID == courseID && cur.After(c.CreatedAt, c.ID) {
			all = append(all, cloneComment(c))
		}
	}
	sort.Slice(all, func(i, j int) bool { return olderFirst(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	page, next := paginate(all, limit, func(c *models.Comment) store.Cursor {
		return store.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	})
	return page, next, nil
}

func (m *Memory) ListUsers(_ context.Context, courseID, cursor string, limit int) ([]*models.User, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.User
	for _, u := range m.users {
		if u.StatsFor(courseID) != nil && cur.After(u.CreatedAt, u.ID) {
			all = append(all, cloneUser(u))
		}
	}
	sort.Slice(all, func(i, j int) bool { return olderFirst(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	page, next := paginate(all, limit, func(u *models.User) store.Cursor {
		return store.Cursor{CreatedAt: u.CreatedAt, ID: u.ID}
	})
	return page, next, nil
}

func (m *Memory) ListSubscriptions(_ context.Context, courseID, cursor string, limit int) ([]*models.Subscription, string, error) {
	cur, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.Subscription
	for _, sub := range m.subs {
		if !m.sourceInCourse(sub.SourceID, courseID) {
			continue
		}
		if cur.After(sub.CreatedAt, sub.ID) {
			cp := *sub
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return olderFirst(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	page, next := paginate(all, limit, func(s *models.Subscription) store.Cursor {
		return store.Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
	})
	return page, next, nil
}

func (m *Memory) UpsertThread(_ context.Context, t *models.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[t.ID] = cloneThread(t)
	return nil
}

func (m *Memory) UpsertComment(_ context.Context, c *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.ID] = cloneComment(c)
	return nil
}

func (m *Memory) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	if cp.ID == "" {
		cp.ID = models.NewID()
	}
	m.subs[subKey(sub.SubscriberID, sub.SourceID)] = &cp
	return nil
}

func (m *Memory) CourseCounts(_ context.Context, courseID string) (store.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var counts store.Counts
	for _, t := range m.threads {
		if t.CourseID == courseID {
			counts.Threads++
			counts.VotePoints += int64(t.Votes.Point)
		}
	}
	for _, c := range m.comments {
		if c.CourseID == courseID {
			counts.Comments++
			counts.VotePoints += int64(c.Votes.Point)
		}
	}
	for _, u := range m.users {
		if u.StatsFor(courseID) != nil {
			counts.Users++
		}
	}
	for _, sub := range m.subs {
		if m.sourceInCourse(sub.SourceID, courseID) {
			counts.Subscriptions++
		}
	}
	return counts, nil
}

func (m *Memory) DeleteCourseData(_ context.Context, courseID string, dryRun bool) (store.DeleteStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := store.DeleteStats{DryRun: dryRun}
	// 先删订阅：sourceInCourse 依赖内容还在
	for key, sub := range m.subs {
		if !m.sourceInCourse(sub.SourceID, courseID) {
			continue
		}
		stats.Subscriptions++
		if !dryRun {
			delete(m.subs, key)
		}
	}
	for id, t := range m.threads {
		if t.CourseID != courseID {
			continue
		}
		stats.Contents++
		if !dryRun {
			delete(m.threads, id)
		}
	}
	for id, c := range m.comments {
		if c.CourseID != courseID {
			continue
		}
		stats.Contents++
		if !dryRun {
			delete(m.comments, id)
		}
	}
	for _, u := range m.users {
		if u.StatsFor(courseID) == nil && u.ReadStateFor(courseID) == nil {
			continue
		}
		stats.Users++
		if !dryRun {
			u.CourseStats = dropStats(u.CourseStats, courseID)
			u.ReadStates = dropReadStates(u.ReadStates, courseID)
		}
	}
	return stats, nil
}

// --- 内部辅助 ---

// sourceInCourse 注意：删除课程内容后订阅也随之判定为课外，调用方需先删订阅再删内容
func (m *Memory) sourceInCourse(sourceID, courseID string) bool {
	if t, ok := m.threads[sourceID]; ok {
		return t.CourseID == courseID
	}
	if c, ok := m.comments[sourceID]; ok {
		return c.CourseID == courseID
	}
	return false
}

func (m *Memory) threadInCourse(courseID, threadID string) (*models.Thread, error) {
	t, ok := m.threads[threadID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.CourseID != courseID {
		return nil, store.ErrCrossTenantReference
	}
	return t, nil
}

func (m *Memory) commentInCourse(courseID, commentID string) (*models.Comment, error) {
	c, ok := m.comments[commentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.CourseID != courseID {
		return nil, store.ErrCrossTenantReference
	}
	return c, nil
}

func (m *Memory) votesOf(courseID string, ref store.Ref) (*models.Votes, error) {
	switch ref.Kind {
	case store.KindThread:
		t, err := m.threadInCourse(courseID, ref.ID)
		if err != nil {
			return nil, err
		}
		return &t.Votes, nil
	case store.KindComment:
		c, err := m.commentInCourse(courseID, ref.ID)
		if err != nil {
			return nil, err
		}
		return &c.Votes, nil
	}
	return nil, store.ErrValidation
}

func (m *Memory) flagsOf(courseID string, ref store.Ref) (active, historical *[]string, err error) {
	switch ref.Kind {
	case store.KindThread:
		t, err := m.threadInCourse(courseID, ref.ID)
		if err != nil {
			return nil, nil, err
		}
		return &t.AbuseFlaggers, &t.HistoricalAbuseFlaggers, nil
	case store.KindComment:
		c, err := m.commentInCourse(courseID, ref.ID)
		if err != nil {
			return nil, nil, err
		}
		return &c.AbuseFlaggers, &c.HistoricalAbuseFlaggers, nil
	}
	return nil, nil, store.ErrValidation
}

func olderFirst(at time.Time, aID string, bt time.Time, bID string) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return aID < bID
}

func paginate[T any](all []T, limit int, key func(T) store.Cursor) ([]T, string) {
	if limit <= 0 || len(all) <= limit {
		return all, ""
	}
	page := all[:limit]
	return page, key(page[len(page)-1]).Encode()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func dropStats(list []models.CourseStats, courseID string) []models.CourseStats {
	out := list[:0:0]
	for _, cs := range list {
		if cs.CourseID != courseID {
			out = append(out, cs)
		}
	}
	return out
}

func dropReadStates(list []models.ReadState, courseID string) []models.ReadState {
	out := list[:0:0]
	for _, rs := range list {
		if rs.CourseID != courseID {
			out = append(out, rs)
		}
	}
	return out
}

func cloneThread(t *models.Thread) *models.Thread {
	cp := *t
	cp.Votes.Up = append([]string{}, t.Votes.Up...)
	cp.Votes.Down = append([]string{}, t.Votes.Down...)
	cp.AbuseFlaggers = append([]string{}, t.AbuseFlaggers...)
	cp.HistoricalAbuseFlaggers = append([]string{}, t.HistoricalAbuseFlaggers...)
	cp.EditHistory = append([]models.EditHistoryEntry{}, t.EditHistory...)
	return &cp
}

func cloneComment(c *models.Comment) *models.Comment {
	cp := *c
	cp.ParentIDs = append([]string{}, c.ParentIDs...)
	cp.Votes.Up = append([]string{}, c.Votes.Up...)
	cp.Votes.Down = append([]string{}, c.Votes.Down...)
	cp.AbuseFlaggers = append([]string{}, c.AbuseFlaggers...)
	cp.HistoricalAbuseFlaggers = append([]string{}, c.HistoricalAbuseFlaggers...)
	cp.EditHistory = append([]models.EditHistoryEntry{}, c.EditHistory...)
	if c.Endorsement != nil {
		e := *c.Endorsement
		cp.Endorsement = &e
	}
	return &cp
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	cp.CourseStats = append([]models.CourseStats{}, u.CourseStats...)
	cp.ReadStates = make([]models.ReadState, 0, len(u.ReadStates))
	for _, rs := range u.ReadStates {
		times := make(map[string]time.Time, len(rs.LastReadTimes))
		for k, v := range rs.LastReadTimes {
			times[k] = v
		}
		rs.LastReadTimes = times
		cp.ReadStates = append(cp.ReadStates, rs)
	}
	cp.SubscribedThreadIDs = append([]string{}, u.SubscribedThreadIDs...)
	cp.UpvotedIDs = append([]string{}, u.UpvotedIDs...)
	cp.DownvotedIDs = append([]string{}, u.DownvotedIDs...)
	return &cp
}
