package models

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ThreadTypeDiscussion = "discussion"
	ThreadTypeQuestion   = "question"

	ContentTypeThread  = "CommentThread"
	ContentTypeComment = "Comment"

	ContextCourse     = "course"
	ContextStandalone = "standalone"

	// SortKeySeparator 排在所有 ID 字符之前，保证 sort_key 的字典序就是树的先序遍历
	SortKeySeparator = "-"
)

// NewID 生成 32 位十六进制内容 ID。ID 中不含分隔符，sort_key 才能安全拆分。
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Votes 是嵌在 Thread/Comment 里的投票汇总，计数字段永远由 up/down 两个集合推导
type Votes struct {
	Up        []string `json:"up"`
	Down      []string `json:"down"`
	UpCount   int      `json:"up_count"`
	DownCount int      `json:"down_count"`
	Count     int      `json:"count"`
	Point     int      `json:"point"`
}

func NewVotes() Votes {
	v := Votes{Up: []string{}, Down: []string{}}
	v.Recompute()
	return v
}

// Recompute 从投票人集合重算计数，禁止单独加减计数字段
func (v *Votes) Recompute() {
	if v.Up == nil {
		v.Up = []string{}
	}
	if v.Down == nil {
		v.Down = []string{}
	}
	v.UpCount = len(v.Up)
	v.DownCount = len(v.Down)
	v.Count = v.UpCount + v.DownCount
	v.Point = v.UpCount - v.DownCount
}

// Holds 返回用户当前的投票方向，未投票返回空串
func (v Votes) Holds(userID string) string {
	for _, id := range v.Up {
		if id == userID {
			return "up"
		}
	}
	for _, id := range v.Down {
		if id == userID {
			return "down"
		}
	}
	return ""
}

// EditHistoryEntry 每次编辑正文时追加一条，永不修改或删除
type EditHistoryEntry struct {
	OriginalBody   string    `json:"original_body"`
	ReasonCode     string    `json:"reason_code,omitempty"`
	EditorUsername string    `json:"editor_username"`
	AuthorID       string    `json:"author_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Endorsement 只允许出现在 depth=0 的评论上
type Endorsement struct {
	UserID string    `json:"user_id"`
	Time   time.Time `json:"time"`
}

type Thread struct {
	ID                      string             `json:"id"`
	CourseID                string             `json:"course_id"`
	CommentableID           string             `json:"commentable_id"`
	Context                 string             `json:"context"`
	ThreadType              string             `json:"thread_type"`
	Title                   string             `json:"title"`
	Body                    string             `json:"body"`
	AuthorID                string             `json:"author_id"`
	AuthorUsername          string             `json:"author_username"`
	Anonymous               bool               `json:"anonymous"`
	AnonymousToPeers        bool               `json:"anonymous_to_peers"`
	Closed                  bool               `json:"closed"`
	ClosedBy                string             `json:"closed_by,omitempty"`
	Pinned                  bool               `json:"pinned"`
	Visible                 bool               `json:"visible"`
	GroupID                 *int               `json:"group_id,omitempty"`
	Votes                   Votes              `json:"votes"`
	CommentCount            int                `json:"comment_count"`
	AbuseFlaggers           []string           `json:"abuse_flaggers"`
	HistoricalAbuseFlaggers []string           `json:"historical_abuse_flaggers"`
	EditHistory             []EditHistoryEntry `json:"edit_history,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
	LastActivityAt          time.Time          `json:"last_activity_at"`
}

type Comment struct {
	ID                      string             `json:"id"`
	CourseID                string             `json:"course_id"`
	ThreadID                string             `json:"thread_id"`
	ParentID                string             `json:"parent_id,omitempty"`
	ParentIDs               []string           `json:"parent_ids"`
	Depth                   int                `json:"depth"`
	SortKey                 string             `json:"sk"`
	Body                    string             `json:"body"`
	AuthorID                string             `json:"author_id"`
	AuthorUsername          string             `json:"author_username"`
	Anonymous               bool               `json:"anonymous"`
	AnonymousToPeers        bool               `json:"anonymous_to_peers"`
	Endorsed                bool               `json:"endorsed"`
	Endorsement             *Endorsement       `json:"endorsement,omitempty"`
	Closed                  bool               `json:"closed"`
	Visible                 bool               `json:"visible"`
	ChildCount              int                `json:"child_count"`
	Votes                   Votes              `json:"votes"`
	AbuseFlaggers           []string           `json:"abuse_flaggers"`
	HistoricalAbuseFlaggers []string           `json:"historical_abuse_flaggers"`
	EditHistory             []EditHistoryEntry `json:"edit_history,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// SetAncestry 根据父评论填充 ParentID/ParentIDs/Depth/SortKey。
// 顶级评论（parent == nil）深度为 0，sort_key 就是自己的 ID。
func (c *Comment) SetAncestry(parent *Comment) {
	if parent == nil {
		c.ParentID = ""
		c.ParentIDs = []string{}
		c.Depth = 0
		c.SortKey = c.ID
		return
	}
	c.ParentID = parent.ID
	c.ParentIDs = append(append([]string{}, parent.ParentIDs...), parent.ID)
	c.Depth = parent.Depth + 1
	c.SortKey = parent.SortKey + SortKeySeparator + c.ID
}

// AncestorIDs 从 sort_key 还原祖先链（不含自身）
func AncestorIDs(sortKey string) []string {
	parts := strings.Split(sortKey, SortKeySeparator)
	if len(parts) <= 1 {
		return []string{}
	}
	return parts[:len(parts)-1]
}
