// Package migration 把课程数据从文档库搬到关系库：按课程推进状态机、
// 断点续传、计数校验，最后翻路由开关。
package migration

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coursetalk/internal/store"
)

type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateVerified   State = "verified"
	StateCutover    State = "cutover"
	StateFailed     State = "failed"
)

type Phase string

const (
	PhaseUsers         Phase = "users"
	PhaseThreads       Phase = "threads"
	PhaseComments      Phase = "comments"
	PhaseSubscriptions Phase = "subscriptions"
	PhaseReadStates    Phase = "read_states"
	PhaseDone          Phase = "done"
)

// phaseOrder 先用户后内容，评论依赖主题在场，阅读状态最后
var phaseOrder = []Phase{PhaseUsers, PhaseThreads, PhaseComments, PhaseSubscriptions, PhaseReadStates}

func nextPhase(p Phase) Phase {
	for i, cur := range phaseOrder {
		if cur == p {
			if i+1 < len(phaseOrder) {
				return phaseOrder[i+1]
			}
			return PhaseDone
		}
	}
	return PhaseUsers
}

// Checkpoint 每课程一条，迁移的全部可恢复状态都在这里
type Checkpoint struct {
	CourseID  string `gorm:"primaryKey;size:255"`
	State     State  `gorm:"size:32;not null"`
	Phase     Phase  `gorm:"size:32;not null"`
	Cursor    string `gorm:"size:512"`
	Counts    string `gorm:"type:text"` // 源库计数快照，JSON
	LastError string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (Checkpoint) TableName() string { return "migration_checkpoints" }

func (c *Checkpoint) SetCounts(counts store.Counts) {
	raw, _ := json.Marshal(counts)
	c.Counts = string(raw)
}

func (c *Checkpoint) GetCounts() store.Counts {
	var counts store.Counts
	if c.Counts != "" {
		_ = json.Unmarshal([]byte(c.Counts), &counts)
	}
	return counts
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Checkpoint{})
}

// Checkpoints 检查点存取
type Checkpoints interface {
	Get(courseID string) (*Checkpoint, error)
	Save(cp *Checkpoint) error
}

// CheckpointStore 检查点存取。检查点永远落在关系库（迁移目标），
// 这样目标库丢了检查点也一起丢，重跑是安全的。
type CheckpointStore struct {
	db *gorm.DB
}

func NewCheckpointStore(db *gorm.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) Get(courseID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.db.First(&cp, "course_id = ?", courseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Checkpoint{CourseID: courseID, State: StateNotStarted, Phase: PhaseUsers}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *CheckpointStore) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}},
		UpdateAll: true,
	}).Create(cp).Error
}

// MemoryCheckpoints 进程内检查点，测试用
type MemoryCheckpoints struct {
	byCourse map[string]Checkpoint
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{byCourse: map[string]Checkpoint{}}
}

func (m *MemoryCheckpoints) Get(courseID string) (*Checkpoint, error) {
	if cp, ok := m.byCourse[courseID]; ok {
		out := cp
		return &out, nil
	}
	return &Checkpoint{CourseID: courseID, State: StateNotStarted, Phase: PhaseUsers}, nil
}

func (m *MemoryCheckpoints) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	m.byCourse[cp.CourseID] = *cp
	return nil
}
