package document

import (
	"time"

	smodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"coursetalk/internal/models"
)

// 文档库沿用单一 contents 表，主题和评论混存、靠 _type 区分；
// 投票、编辑历史、举报人全部内嵌。users 内嵌 course_stats 和 read_states。

const (
	tableContents      = "contents"
	tableUsers         = "users"
	tableSubscriptions = "subscriptions"
)

type editHistoryRecord struct {
	OriginalBody   string                 `json:"original_body"`
	ReasonCode     string                 `json:"reason_code,omitempty"`
	EditorUsername string                 `json:"editor_username"`
	AuthorID       string                 `json:"author_id"`
	CreatedAt      smodels.CustomDateTime `json:"created_at"`
}

type endorsementRecord struct {
	UserID string                 `json:"user_id"`
	Time   smodels.CustomDateTime `json:"time"`
}

type contentRecord struct {
	ID                      *smodels.RecordID      `json:"id,omitempty"`
	Type                    string                 `json:"_type"`
	CourseID                string                 `json:"course_id"`
	CommentableID           string                 `json:"commentable_id,omitempty"`
	Context                 string                 `json:"context,omitempty"`
	ThreadType              string                 `json:"thread_type,omitempty"`
	CommentThreadID         string                 `json:"comment_thread_id,omitempty"`
	ParentID                string                 `json:"parent_id,omitempty"`
	ParentIDs               []string               `json:"parent_ids"`
	Depth                   int                    `json:"depth"`
	SortKey                 string                 `json:"sk,omitempty"`
	Title                   string                 `json:"title,omitempty"`
	Body                    string                 `json:"body"`
	AuthorID                string                 `json:"author_id"`
	AuthorUsername          string                 `json:"author_username"`
	Anonymous               bool                   `json:"anonymous"`
	AnonymousToPeers        bool                   `json:"anonymous_to_peers"`
	Closed                  bool                   `json:"closed"`
	ClosedBy                string                 `json:"closed_by,omitempty"`
	Pinned                  bool                   `json:"pinned"`
	Visible                 bool                   `json:"visible"`
	GroupID                 *int                   `json:"group_id,omitempty"`
	Endorsed                bool                   `json:"endorsed"`
	Endorsement             *endorsementRecord     `json:"endorsement,omitempty"`
	CommentCount            int                    `json:"comment_count"`
	ChildCount              int                    `json:"child_count"`
	Votes                   models.Votes           `json:"votes"`
	AbuseFlaggers           []string               `json:"abuse_flaggers"`
	HistoricalAbuseFlaggers []string               `json:"historical_abuse_flaggers"`
	EditHistory             []editHistoryRecord    `json:"edit_history,omitempty"`
	CreatedAt               smodels.CustomDateTime `json:"created_at"`
	UpdatedAt               smodels.CustomDateTime `json:"updated_at"`
	LastActivityAt          smodels.CustomDateTime `json:"last_activity_at,omitempty"`
}

type courseStatsRecord struct {
	CourseID       string                  `json:"course_id"`
	ActiveFlags    int                     `json:"active_flags"`
	InactiveFlags  int                     `json:"inactive_flags"`
	Threads        int                     `json:"threads"`
	Responses      int                     `json:"responses"`
	Replies        int                     `json:"replies"`
	LastActivityAt *smodels.CustomDateTime `json:"last_activity_at,omitempty"`
}

type readStateRecord struct {
	CourseID      string                            `json:"course_id"`
	LastReadTimes map[string]smodels.CustomDateTime `json:"last_read_times"`
}

type userRecord struct {
	ID                  *smodels.RecordID      `json:"id,omitempty"`
	ExternalID          string                 `json:"external_id"`
	Username            string                 `json:"username"`
	DefaultSortKey      string                 `json:"default_sort_key"`
	CourseStats         []courseStatsRecord    `json:"course_stats"`
	ReadStates          []readStateRecord      `json:"read_states"`
	SubscribedThreadIDs []string               `json:"subscribed_thread_ids"`
	UpvotedIDs          []string               `json:"upvoted_ids"`
	DownvotedIDs        []string               `json:"downvoted_ids"`
	CreatedAt           smodels.CustomDateTime `json:"created_at"`
	UpdatedAt           smodels.CustomDateTime `json:"updated_at"`
}

type subscriptionRecord struct {
	ID           *smodels.RecordID      `json:"id,omitempty"`
	SubscriberID string                 `json:"subscriber_id"`
	SourceID     string                 `json:"source_id"`
	SourceType   string                 `json:"source_type"`
	CourseID     string                 `json:"course_id"`
	CreatedAt    smodels.CustomDateTime `json:"created_at"`
	UpdatedAt    smodels.CustomDateTime `json:"updated_at"`
}

func recordID(rid *smodels.RecordID) string {
	if rid == nil {
		return ""
	}
	if s, ok := rid.ID.(string); ok {
		return s
	}
	return ""
}

func dt(t time.Time) smodels.CustomDateTime {
	return smodels.CustomDateTime{Time: t}
}

func threadToRecord(t *models.Thread) *contentRecord {
	return &contentRecord{
		Type:                    models.ContentTypeThread,
		CourseID:                t.CourseID,
		CommentableID:           t.CommentableID,
		Context:                 t.Context,
		ThreadType:              t.ThreadType,
		Title:                   t.Title,
		Body:                    t.Body,
		AuthorID:                t.AuthorID,
		AuthorUsername:          t.AuthorUsername,
		Anonymous:               t.Anonymous,
		AnonymousToPeers:        t.AnonymousToPeers,
		Closed:                  t.Closed,
		ClosedBy:                t.ClosedBy,
		Pinned:                  t.Pinned,
		Visible:                 t.Visible,
		GroupID:                 t.GroupID,
		CommentCount:            t.CommentCount,
		Votes:                   t.Votes,
		AbuseFlaggers:           orEmpty(t.AbuseFlaggers),
		HistoricalAbuseFlaggers: orEmpty(t.HistoricalAbuseFlaggers),
		EditHistory:             historyToRecords(t.EditHistory),
		CreatedAt:               dt(t.CreatedAt),
		UpdatedAt:               dt(t.UpdatedAt),
		LastActivityAt:          dt(t.LastActivityAt),
	}
}

func recordToThread(rec *contentRecord) *models.Thread {
	t := &models.Thread{
		ID:                      recordID(rec.ID),
		CourseID:                rec.CourseID,
		CommentableID:           rec.CommentableID,
		Context:                 rec.Context,
		ThreadType:              rec.ThreadType,
		Title:                   rec.Title,
		Body:                    rec.Body,
		AuthorID:                rec.AuthorID,
		AuthorUsername:          rec.AuthorUsername,
		Anonymous:               rec.Anonymous,
		AnonymousToPeers:        rec.AnonymousToPeers,
		Closed:                  rec.Closed,
		ClosedBy:                rec.ClosedBy,
		Pinned:                  rec.Pinned,
		Visible:                 rec.Visible,
		GroupID:                 rec.GroupID,
		CommentCount:            rec.CommentCount,
		Votes:                   rec.Votes,
		AbuseFlaggers:           orEmpty(rec.AbuseFlaggers),
		HistoricalAbuseFlaggers: orEmpty(rec.HistoricalAbuseFlaggers),
		EditHistory:             recordsToHistory(rec.EditHistory),
		CreatedAt:               rec.CreatedAt.Time,
		UpdatedAt:               rec.UpdatedAt.Time,
		LastActivityAt:          rec.LastActivityAt.Time,
	}
	t.Votes.Recompute()
	return t
}

func commentToRecord(c *models.Comment) *contentRecord {
	rec := &contentRecord{
		Type:                    models.ContentTypeComment,
		CourseID:                c.CourseID,
		CommentThreadID:         c.ThreadID,
		ParentID:                c.ParentID,
		ParentIDs:               orEmpty(c.ParentIDs),
		Depth:                   c.Depth,
		SortKey:                 c.SortKey,
		Body:                    c.Body,
		AuthorID:                c.AuthorID,
		AuthorUsername:          c.AuthorUsername,
		Anonymous:               c.Anonymous,
		AnonymousToPeers:        c.AnonymousToPeers,
		Endorsed:                c.Endorsed,
		Closed:                  c.Closed,
		Visible:                 c.Visible,
		ChildCount:              c.ChildCount,
		Votes:                   c.Votes,
		AbuseFlaggers:           orEmpty(c.AbuseFlaggers),
		HistoricalAbuseFlaggers: orEmpty(c.HistoricalAbuseFlaggers),
		EditHistory:             historyToRecords(c.EditHistory),
		CreatedAt:               dt(c.CreatedAt),
		UpdatedAt:               dt(c.UpdatedAt),
	}
	if c.Endorsement != nil {
		rec.Endorsement = &endorsementRecord{UserID: c.Endorsement.UserID, Time: dt(c.Endorsement.Time)}
	}
	return rec
}

func recordToComment(rec *contentRecord) *models.Comment {
	c := &models.Comment{
		ID:                      recordID(rec.ID),
		CourseID:                rec.CourseID,
		ThreadID:                rec.CommentThreadID,
		ParentID:                rec.ParentID,
		ParentIDs:               orEmpty(rec.ParentIDs),
		Depth:                   rec.Depth,
		SortKey:                 rec.SortKey,
		Body:                    rec.Body,
		AuthorID:                rec.AuthorID,
		AuthorUsername:          rec.AuthorUsername,
		Anonymous:               rec.Anonymous,
		AnonymousToPeers:        rec.AnonymousToPeers,
		Endorsed:                rec.Endorsed,
		Closed:                  rec.Closed,
		Visible:                 rec.Visible,
		ChildCount:              rec.ChildCount,
		Votes:                   rec.Votes,
		AbuseFlaggers:           orEmpty(rec.AbuseFlaggers),
		HistoricalAbuseFlaggers: orEmpty(rec.HistoricalAbuseFlaggers),
		EditHistory:             recordsToHistory(rec.EditHistory),
		CreatedAt:               rec.CreatedAt.Time,
		UpdatedAt:               rec.UpdatedAt.Time,
	}
	if rec.Endorsement != nil {
		c.Endorsement = &models.Endorsement{UserID: rec.Endorsement.UserID, Time: rec.Endorsement.Time.Time}
	}
	c.Votes.Recompute()
	return c
}

func userToRecord(u *models.User) *userRecord {
	rec := &userRecord{
		ExternalID:          u.ExternalID,
		Username:            u.Username,
		DefaultSortKey:      u.DefaultSortKey,
		CourseStats:         []courseStatsRecord{},
		ReadStates:          []readStateRecord{},
		SubscribedThreadIDs: orEmpty(u.SubscribedThreadIDs),
		UpvotedIDs:          orEmpty(u.UpvotedIDs),
		DownvotedIDs:        orEmpty(u.DownvotedIDs),
		CreatedAt:           dt(u.CreatedAt),
		UpdatedAt:           dt(u.UpdatedAt),
	}
	if rec.DefaultSortKey == "" {
		rec.DefaultSortKey = models.DefaultSortKey
	}
	for _, cs := range u.CourseStats {
		statRec := courseStatsRecord{
			CourseID:      cs.CourseID,
			ActiveFlags:   cs.ActiveFlags,
			InactiveFlags: cs.InactiveFlags,
			Threads:       cs.Threads,
			Responses:     cs.Responses,
			Replies:       cs.Replies,
		}
		if cs.LastActivityAt != nil {
			at := dt(*cs.LastActivityAt)
			statRec.LastActivityAt = &at
		}
		rec.CourseStats = append(rec.CourseStats, statRec)
	}
	for _, rs := range u.ReadStates {
		times := make(map[string]smodels.CustomDateTime, len(rs.LastReadTimes))
		for threadID, ts := range rs.LastReadTimes {
			times[threadID] = dt(ts)
		}
		rec.ReadStates = append(rec.ReadStates, readStateRecord{CourseID: rs.CourseID, LastReadTimes: times})
	}
	return rec
}

func recordToUser(rec *userRecord) *models.User {
	u := &models.User{
		ID:                  recordID(rec.ID),
		ExternalID:          rec.ExternalID,
		Username:            rec.Username,
		DefaultSortKey:      rec.DefaultSortKey,
		CourseStats:         []models.CourseStats{},
		ReadStates:          []models.ReadState{},
		SubscribedThreadIDs: orEmpty(rec.SubscribedThreadIDs),
		UpvotedIDs:          orEmpty(rec.UpvotedIDs),
		DownvotedIDs:        orEmpty(rec.DownvotedIDs),
		CreatedAt:           rec.CreatedAt.Time,
		UpdatedAt:           rec.UpdatedAt.Time,
	}
	for _, cs := range rec.CourseStats {
		stat := models.CourseStats{
			CourseID:      cs.CourseID,
			ActiveFlags:   cs.ActiveFlags,
			InactiveFlags: cs.InactiveFlags,
			Threads:       cs.Threads,
			Responses:     cs.Responses,
			Replies:       cs.Replies,
		}
		if cs.LastActivityAt != nil {
			at := cs.LastActivityAt.Time
			stat.LastActivityAt = &at
		}
		u.CourseStats = append(u.CourseStats, stat)
	}
	for _, rs := range rec.ReadStates {
		times := make(map[string]time.Time, len(rs.LastReadTimes))
		for threadID, ts := range rs.LastReadTimes {
			times[threadID] = ts.Time
		}
		u.ReadStates = append(u.ReadStates, models.ReadState{
			UserID: u.ID, CourseID: rs.CourseID, LastReadTimes: times,
		})
	}
	return u
}

func subToRecord(s *models.Subscription, courseID string) *subscriptionRecord {
	return &subscriptionRecord{
		SubscriberID: s.SubscriberID,
		SourceID:     s.SourceID,
		SourceType:   s.SourceType,
		CourseID:     courseID,
		CreatedAt:    dt(s.CreatedAt),
		UpdatedAt:    dt(s.UpdatedAt),
	}
}

func recordToSub(rec *subscriptionRecord) *models.Subscription {
	return &models.Subscription{
		ID:           recordID(rec.ID),
		SubscriberID: rec.SubscriberID,
		SourceID:     rec.SourceID,
		SourceType:   rec.SourceType,
		CreatedAt:    rec.CreatedAt.Time,
		UpdatedAt:    rec.UpdatedAt.Time,
	}
}

func historyToRecords(entries []models.EditHistoryEntry) []editHistoryRecord {
	out := make([]editHistoryRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, editHistoryRecord{
			OriginalBody:   e.OriginalBody,
			ReasonCode:     e.ReasonCode,
			EditorUsername: e.EditorUsername,
			AuthorID:       e.AuthorID,
			CreatedAt:      dt(e.CreatedAt),
		})
	}
	return out
}

func recordsToHistory(entries []editHistoryRecord) []models.EditHistoryEntry {
	out := make([]models.EditHistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.EditHistoryEntry{
			OriginalBody:   e.OriginalBody,
			ReasonCode:     e.ReasonCode,
			EditorUsername: e.EditorUsername,
			AuthorID:       e.AuthorID,
			CreatedAt:      e.CreatedAt.Time,
		})
	}
	return out
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
