package relational

import (
	"time"

	"gorm.io/gorm"

	"coursetalk/internal/models"
)

// 关系库表结构：文档里内嵌的投票、编辑历史、举报人都拆成独立子表，
// 迁移时按行逐条落库。Thread/Comment 上保留汇总列用于热路径读取。

type threadRow struct {
	ID               string `gorm:"primaryKey;size:32"`
	CourseID         string `gorm:"size:255;not null;index:idx_threads_course_scan,priority:1"`
	CommentableID    string `gorm:"size:255"`
	Context          string `gorm:"size:32;default:'course'"`
	ThreadType       string `gorm:"size:16;default:'discussion'"`
	Title            string `gorm:"size:512;not null"`
	Body             string `gorm:"type:text;not null"`
	AuthorID         string `gorm:"size:32;not null;index"`
	AuthorUsername   string `gorm:"size:255"`
	Anonymous        bool
	AnonymousToPeers bool
	Closed           bool
	ClosedBy         string `gorm:"size:32"`
	Pinned           bool
	Visible          bool `gorm:"default:true"`
	GroupID          *int
	CommentCount     int
	VoteUpCount      int
	VoteDownCount    int
	VoteCount        int
	VotePoint        int
	CreatedAt        time.Time `gorm:"index:idx_threads_course_scan,priority:2"`
	UpdatedAt        time.Time
	LastActivityAt   time.Time
}

func (threadRow) TableName() string { return "threads" }

type commentRow struct {
	ID               string `gorm:"primaryKey;size:32"`
	CourseID         string `gorm:"size:255;not null;index:idx_comments_course_scan,priority:1"`
	ThreadID         string `gorm:"size:32;not null;index"`
	ParentID         *string
	Depth            int
	SortKey          string `gorm:"size:1024;index"`
	Body             string `gorm:"type:text;not null"`
	AuthorID         string `gorm:"size:32;not null;index"`
	AuthorUsername   string `gorm:"size:255"`
	Anonymous        bool
	AnonymousToPeers bool
	Endorsed         bool
	EndorsementUser  *string    `gorm:"size:32"`
	EndorsementTime  *time.Time
	Closed           bool
	Visible          bool `gorm:"default:true"`
	ChildCount       int
	VoteUpCount      int
	VoteDownCount    int
	VoteCount        int
	VotePoint        int
	CreatedAt        time.Time `gorm:"index:idx_comments_course_scan,priority:2"`
	UpdatedAt        time.Time
}

func (commentRow) TableName() string { return "comments" }

type userVoteRow struct {
	ID          uint   `gorm:"primaryKey"`
	ContentType string `gorm:"size:16;not null"`
	ContentID   string `gorm:"size:32;not null;uniqueIndex:idx_user_votes_target,priority:1"`
	UserID      string `gorm:"size:32;not null;uniqueIndex:idx_user_votes_target,priority:2"`
	Vote        int    `gorm:"not null"` // 1 或 -1
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (userVoteRow) TableName() string { return "user_votes" }

type editHistoryRow struct {
	ID             uint   `gorm:"primaryKey"`
	ContentType    string `gorm:"size:16;not null"`
	ContentID      string `gorm:"size:32;not null;index"`
	Position       int    `gorm:"not null"` // 保持追加顺序
	OriginalBody   string `gorm:"type:text"`
	ReasonCode     string `gorm:"size:64"`
	EditorUsername string `gorm:"size:255"`
	AuthorID       string `gorm:"size:32"`
	CreatedAt      time.Time
}

func (editHistoryRow) TableName() string { return "edit_histories" }

type abuseFlaggerRow struct {
	ID          uint   `gorm:"primaryKey"`
	ContentType string `gorm:"size:16;not null"`
	ContentID   string `gorm:"size:32;not null;index"`
	UserID      string `gorm:"size:32;not null"`
	Historical  bool
	FlaggedAt   time.Time
}

func (abuseFlaggerRow) TableName() string { return "abuse_flaggers" }

type userRow struct {
	ID             string `gorm:"primaryKey;size:32"`
	ExternalID     string `gorm:"size:255;index"`
	Username       string `gorm:"size:255;not null"`
	DefaultSortKey string `gorm:"size:32;default:'date'"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (userRow) TableName() string { return "forum_users" }

type courseStatRow struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         string `gorm:"size:32;not null;uniqueIndex:idx_course_stats_user,priority:1"`
	CourseID       string `gorm:"size:255;not null;uniqueIndex:idx_course_stats_user,priority:2;index"`
	ActiveFlags    int
	InactiveFlags  int
	Threads        int
	Responses      int
	Replies        int
	LastActivityAt *time.Time
}

func (courseStatRow) TableName() string { return "course_stats" }

type lastReadTimeRow struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:32;not null;uniqueIndex:idx_last_read,priority:1"`
	CourseID  string `gorm:"size:255;not null;uniqueIndex:idx_last_read,priority:2;index"`
	ThreadID  string `gorm:"size:32;not null;uniqueIndex:idx_last_read,priority:3"`
	Timestamp time.Time
}

func (lastReadTimeRow) TableName() string { return "last_read_times" }

type subscriptionRow struct {
	ID           string `gorm:"primaryKey;size:32"`
	SubscriberID string `gorm:"size:32;not null;uniqueIndex:idx_subscriptions_pair,priority:1"`
	SourceID     string `gorm:"size:32;not null;uniqueIndex:idx_subscriptions_pair,priority:2"`
	SourceType   string `gorm:"size:16;not null"`
	CourseID     string `gorm:"size:255;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (subscriptionRow) TableName() string { return "subscriptions" }

// Migrate 建表，服务启动时调用
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&threadRow{},
		&commentRow{},
		&userVoteRow{},
		&editHistoryRow{},
		&abuseFlaggerRow{},
		&userRow{},
		&courseStatRow{},
		&lastReadTimeRow{},
		&subscriptionRow{},
	)
}

func threadToRow(t *models.Thread) *threadRow {
	return &threadRow{
		ID:               t.ID,
		CourseID:         t.CourseID,
		CommentableID:    t.CommentableID,
		Context:          t.Context,
		ThreadType:       t.ThreadType,
		Title:            t.Title,
		Body:             t.Body,
		AuthorID:         t.AuthorID,
		AuthorUsername:   t.AuthorUsername,
		Anonymous:        t.Anonymous,
		AnonymousToPeers: t.AnonymousToPeers,
		Closed:           t.Closed,
		ClosedBy:         t.ClosedBy,
		Pinned:           t.Pinned,
		Visible:          t.Visible,
		GroupID:          t.GroupID,
		CommentCount:     t.CommentCount,
		VoteUpCount:      t.Votes.UpCount,
		VoteDownCount:    t.Votes.DownCount,
		VoteCount:        t.Votes.Count,
		VotePoint:        t.Votes.Point,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		LastActivityAt:   t.LastActivityAt,
	}
}

func rowToThread(r *threadRow) *models.Thread {
	return &models.Thread{
		ID:               r.ID,
		CourseID:         r.CourseID,
		CommentableID:    r.CommentableID,
		Context:          r.Context,
		ThreadType:       r.ThreadType,
		Title:            r.Title,
		Body:             r.Body,
		AuthorID:         r.AuthorID,
		AuthorUsername:   r.AuthorUsername,
		Anonymous:        r.Anonymous,
		AnonymousToPeers: r.AnonymousToPeers,
		Closed:           r.Closed,
		ClosedBy:         r.ClosedBy,
		Pinned:           r.Pinned,
		Visible:          r.Visible,
		GroupID:          r.GroupID,
		CommentCount:     r.CommentCount,
		Votes:            models.NewVotes(),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		LastActivityAt:   r.LastActivityAt,
	}
}

func commentToRow(c *models.Comment) *commentRow {
	row := &commentRow{
		ID:               c.ID,
		CourseID:         c.CourseID,
		ThreadID:         c.ThreadID,
		Depth:            c.Depth,
		SortKey:          c.SortKey,
		Body:             c.Body,
		AuthorID:         c.AuthorID,
		AuthorUsername:   c.AuthorUsername,
		Anonymous:        c.Anonymous,
		AnonymousToPeers: c.AnonymousToPeers,
		Endorsed:         c.Endorsed,
		Closed:           c.Closed,
		Visible:          c.Visible,
		ChildCount:       c.ChildCount,
		VoteUpCount:      c.Votes.UpCount,
		VoteDownCount:    c.Votes.DownCount,
		VoteCount:        c.Votes.Count,
		VotePoint:        c.Votes.Point,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if c.ParentID != "" {
		pid := c.ParentID
		row.ParentID = &pid
	}
	if c.Endorsement != nil {
		uid := c.Endorsement.UserID
		t := c.Endorsement.Time
		row.EndorsementUser = &uid
		row.EndorsementTime = &t
	}
	return row
}

func rowToComment(r *commentRow) *models.Comment {
	c := &models.Comment{
		ID:               r.ID,
		CourseID:         r.CourseID,
		ThreadID:         r.ThreadID,
		Depth:            r.Depth,
		SortKey:          r.SortKey,
		ParentIDs:        models.AncestorIDs(r.SortKey),
		Body:             r.Body,
		AuthorID:         r.AuthorID,
		AuthorUsername:   r.AuthorUsername,
		Anonymous:        r.Anonymous,
		AnonymousToPeers: r.AnonymousToPeers,
		Endorsed:         r.Endorsed,
		Closed:           r.Closed,
		Visible:          r.Visible,
		ChildCount:       r.ChildCount,
		Votes:            models.NewVotes(),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ParentID != nil {
		c.ParentID = *r.ParentID
	}
	if r.Endorsed && r.EndorsementUser != nil && r.EndorsementTime != nil {
		c.Endorsement = &models.Endorsement{UserID: *r.EndorsementUser, Time: *r.EndorsementTime}
	}
	return c
}

func subToRow(s *models.Subscription, courseID string) *subscriptionRow {
	id := s.ID
	if id == "" {
		id = models.NewID()
	}
	return &subscriptionRow{
		ID:           id,
		SubscriberID: s.SubscriberID,
		SourceID:     s.SourceID,
		SourceType:   s.SourceType,
		CourseID:     courseID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func rowToSub(r *subscriptionRow) *models.Subscription {
	return &models.Subscription{
		ID:           r.ID,
		SubscriberID: r.SubscriberID,
		SourceID:     r.SourceID,
		SourceType:   r.SourceType,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
