package models

import (
	"time"
)

const DefaultSortKey = "date"

// CourseStats 按 (用户, 课程) 维护的冗余计数，内容创建/删除/举报时增量更新
type CourseStats struct {
	CourseID       string     `json:"course_id"`
	ActiveFlags    int        `json:"active_flags"`
	InactiveFlags  int        `json:"inactive_flags"`
	Threads        int        `json:"threads"`
	Responses      int        `json:"responses"`
	Replies        int        `json:"replies"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// ReadState 记录用户在某课程内每个主题的最后阅读时间
type ReadState struct {
	UserID        string               `json:"user_id"`
	CourseID      string               `json:"course_id"`
	LastReadTimes map[string]time.Time `json:"last_read_times"`
}

// Subscription 订阅关系，(subscriber_id, source_id) 至多一条
type Subscription struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	SourceID     string    `json:"source_id"`
	SourceType   string    `json:"source_type"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type User struct {
	ID                  string        `json:"id"`
	ExternalID          string        `json:"external_id"`
	Username            string        `json:"username"`
	DefaultSortKey      string        `json:"default_sort_key"`
	CourseStats         []CourseStats `json:"course_stats"`
	ReadStates          []ReadState   `json:"read_states"`
	SubscribedThreadIDs []string      `json:"subscribed_thread_ids"`
	UpvotedIDs          []string      `json:"upvoted_ids"`
	DownvotedIDs        []string      `json:"downvoted_ids"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// StatsFor 返回指定课程的统计项，没有则返回 nil
func (u *User) StatsFor(courseID string) *CourseStats {
	for i := range u.CourseStats {
		if u.CourseStats[i].CourseID == courseID {
			return &u.CourseStats[i]
		}
	}
	return nil
}

// ReadStateFor 返回指定课程的阅读状态，没有则返回 nil
func (u *User) ReadStateFor(courseID string) *ReadState {
	for i := range u.ReadStates {
		if u.ReadStates[i].CourseID == courseID {
			return &u.ReadStates[i]
		}
	}
	return nil
}

// AggregateActiveFlags 所有课程 active_flags 之和
func (u *User) AggregateActiveFlags() int {
	total := 0
	for _, cs := range u.CourseStats {
		total += cs.ActiveFlags
	}
	return total
}
