package migration

import "coursetalk/internal/store"

// PhaseReport 单个阶段的搬运结果
type PhaseReport struct {
	Phase   Phase `json:"phase"`
	Copied  int   `json:"copied"`
	Skipped int   `json:"skipped"`
	Pages   int   `json:"pages"`
}

// Report 一次迁移（或试跑）的完整结果
type Report struct {
	CourseID     string        `json:"course_id"`
	State        State         `json:"state"`
	DryRun       bool          `json:"dry_run"`
	Phases       []PhaseReport `json:"phases"`
	SourceCounts store.Counts  `json:"source_counts"`
	TargetCounts store.Counts  `json:"target_counts"`
	Toggled      bool          `json:"toggled"`
	Error        string        `json:"error,omitempty"`
}

func (r *Report) addPhase(pr PhaseReport) {
	r.Phases = append(r.Phases, pr)
}

// Copied 全阶段搬运总条数
func (r *Report) Copied() int {
	total := 0
	for _, p := range r.Phases {
		total += p.Copied
	}
	return total
}

// Skipped 全阶段跳过总条数
func (r *Report) Skipped() int {
	total := 0
	for _, p := range r.Phases {
		total += p.Skipped
	}
	return total
}
