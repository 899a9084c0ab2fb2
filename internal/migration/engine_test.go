package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
	"coursetalk/internal/store/memory"
)

const course = "course-v1:Test+101+2024"

type fakeToggle struct {
	flips map[string]store.BackendKind
}

func newFakeToggle() *fakeToggle {
	return &fakeToggle{flips: map[string]store.BackendKind{}}
}

func (f *fakeToggle) SetBackend(_ context.Context, courseID string, kind store.BackendKind) error {
	f.flips[courseID] = kind
	return nil
}

// seedSource 造一个带用户、主题树、投票、订阅和阅读状态的源库
func seedSource(t *testing.T) (*memory.Memory, *models.Thread) {
	t.Helper()
	src := memory.New()
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	u := &models.User{
		ID: "u1", Username: "student",
		CourseStats: []models.CourseStats{{CourseID: course, Threads: 1, Responses: 1, Replies: 1}},
		ReadStates:  []models.ReadState{},
		CreatedAt:   base, UpdatedAt: base,
	}
	if err := src.UpsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	thread := &models.Thread{
		ID: models.NewID(), CourseID: course, Title: "t", Body: "b",
		AuthorID: "u1", Visible: true,
		Votes:     models.Votes{Up: []string{"u1", "u2"}, Down: []string{"u3"}},
		CreatedAt: base, UpdatedAt: base, LastActivityAt: base,
	}
	thread.Votes.Recompute()
	if err := src.CreateThread(ctx, thread); err != nil {
		t.Fatal(err)
	}

	top := &models.Comment{
		ID: models.NewID(), CourseID: course, ThreadID: thread.ID,
		Body: "top", AuthorID: "u1", Visible: true, Votes: models.NewVotes(),
		CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute),
	}
	top.SetAncestry(nil)
	if err := src.CreateComment(ctx, top); err != nil {
		t.Fatal(err)
	}
	reply := &models.Comment{
		ID: models.NewID(), CourseID: course, ThreadID: thread.ID,
		Body: "reply", AuthorID: "u1", Visible: true,
		Votes:     models.Votes{Up: []string{"u2"}},
		CreatedAt: base.Add(2 * time.Minute), UpdatedAt: base.Add(2 * time.Minute),
	}
	reply.Votes.Recompute()
	reply.SetAncestry(top)
	if err := src.CreateComment(ctx, reply); err != nil {
		t.Fatal(err)
	}

	if err := src.Subscribe(ctx, &models.Subscription{
		SubscriberID: "u1", SourceID: thread.ID, SourceType: models.ContentTypeThread,
		CreatedAt: base, UpdatedAt: base,
	}); err != nil {
		t.Fatal(err)
	}
	if err := src.MarkRead(ctx, "u1", course, thread.ID, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	return src, thread
}

func newTestEngine(src, dst store.Backend, toggle Toggle) *Engine {
	e := NewEngine(src, dst, NewMemoryCheckpoints(), toggle, zerolog.Nop(), 2, 3)
	e.sleep = func(time.Duration) {}
	return e
}

func TestMigrateCourseEndToEnd(t *testing.T) {
	src, thread := seedSource(t)
	dst := memory.New()
	toggle := newFakeToggle()
	e := newTestEngine(src, dst, toggle)
	ctx := context.Background()

	report, err := e.MigrateCourse(ctx, course, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateCutover || !report.Toggled {
		t.Fatalf("report = %+v", report)
	}
	if toggle.flips[course] != store.BackendRelational {
		t.Fatalf("toggle not flipped: %v", toggle.flips)
	}

	srcCounts, _ := src.CourseCounts(ctx, course)
	dstCounts, _ := dst.CourseCounts(ctx, course)
	if srcCounts != dstCounts {
		t.Fatalf("counts diverge: src %+v dst %+v", srcCounts, dstCounts)
	}

	// 阅读状态跟着迁过来
	u, err := dst.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	rs := u.ReadStateFor(course)
	if rs == nil || rs.LastReadTimes[thread.ID].IsZero() {
		t.Fatalf("read state missing: %+v", u)
	}

	// 订阅也在
	if _, err := dst.GetSubscription(ctx, "u1", thread.ID); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateCourseIdempotent(t *testing.T) {
	src, _ := seedSource(t)
	dst := memory.New()
	e := newTestEngine(src, dst, newFakeToggle())
	ctx := context.Background()

	if _, err := e.MigrateCourse(ctx, course, Options{}); err != nil {
		t.Fatal(err)
	}
	// 已切换的课程重跑是空操作
	report, err := e.MigrateCourse(ctx, course, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateCutover || report.Copied() != 0 {
		t.Fatalf("rerun report = %+v", report)
	}
}

func TestMigrateSkipsUpToDateRecords(t *testing.T) {
	src, thread := seedSource(t)
	dst := memory.New()
	ctx := context.Background()
	// 目标库里已有同一条主题且不旧于源库
	pre, err := src.GetThread(ctx, course, thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := dst.UpsertThread(ctx, pre); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(src, dst, newFakeToggle())
	report, err := e.MigrateCourse(ctx, course, Options{NoToggle: true})
	if err != nil {
		t.Fatal(err)
	}
	skipped := 0
	for _, pr := range report.Phases {
		if pr.Phase == PhaseThreads {
			skipped = pr.Skipped
		}
	}
	if skipped != 1 {
		t.Fatalf("threads skipped = %d, want 1; report %+v", skipped, report)
	}
}

func TestMigrateDryRunWritesNothing(t *testing.T) {
	src, _ := seedSource(t)
	dst := memory.New()
	toggle := newFakeToggle()
	checkpoints := NewMemoryCheckpoints()
	e := NewEngine(src, dst, checkpoints, toggle, zerolog.Nop(), 2, 3)
	e.sleep = func(time.Duration) {}
	ctx := context.Background()

	report, err := e.MigrateCourse(ctx, course, Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Copied() == 0 {
		t.Fatal("dry run should report would-be copies")
	}

	dstCounts, _ := dst.CourseCounts(ctx, course)
	if dstCounts.Threads != 0 || dstCounts.Comments != 0 {
		t.Fatalf("dry run wrote to target: %+v", dstCounts)
	}
	if len(toggle.flips) != 0 {
		t.Fatalf("dry run flipped toggle: %v", toggle.flips)
	}
	cp, _ := checkpoints.Get(course)
	if cp.State != StateNotStarted {
		t.Fatalf("dry run touched checkpoint: %+v", cp)
	}
}

type flakySource struct {
	store.Backend
	fail  bool
	calls int
}

func (f *flakySource) ListComments(ctx context.Context, courseID, cursor string, limit int) ([]*models.Comment, string, error) {
	f.calls++
	if f.fail {
		return nil, "", store.ErrUnavailable
	}
	return f.Backend.ListComments(ctx, courseID, cursor, limit)
}

func TestMigrateRetryExhaustionFailsThenResumes(t *testing.T) {
	src, _ := seedSource(t)
	flaky := &flakySource{Backend: src, fail: true}
	dst := memory.New()
	toggle := newFakeToggle()
	checkpoints := NewMemoryCheckpoints()
	e := NewEngine(flaky, dst, checkpoints, toggle, zerolog.Nop(), 2, 3)
	e.sleep = func(time.Duration) {}
	ctx := context.Background()

	report, err := e.MigrateCourse(ctx, course, Options{})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if report.State != StateFailed {
		t.Fatalf("report state = %s, want %s", report.State, StateFailed)
	}
	if flaky.calls != 3 {
		t.Fatalf("list calls = %d, want maxRetries 3", flaky.calls)
	}
	cp, _ := checkpoints.Get(course)
	if cp.State != StateFailed || cp.LastError == "" {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if len(toggle.flips) != 0 {
		t.Fatalf("toggle flipped on failed run: %v", toggle.flips)
	}

	// 源库恢复后重跑：从检查点记下的阶段续传，用户阶段不再扫
	flaky.fail = false
	report, err = e.MigrateCourse(ctx, course, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateCutover || !report.Toggled {
		t.Fatalf("resume report = %+v", report)
	}
	if len(report.Phases) == 0 || report.Phases[0].Phase != PhaseThreads {
		t.Fatalf("resume phases = %+v, want to start at %s", report.Phases, PhaseThreads)
	}
	for _, pr := range report.Phases {
		if pr.Phase == PhaseUsers {
			t.Fatalf("resume re-scanned users phase: %+v", report.Phases)
		}
	}
	srcCounts, _ := src.CourseCounts(ctx, course)
	dstCounts, _ := dst.CourseCounts(ctx, course)
	if srcCounts != dstCounts {
		t.Fatalf("counts diverge: src %+v dst %+v", srcCounts, dstCounts)
	}
}

func TestMigrateVerificationMismatchDoesNotToggle(t *testing.T) {
	src, _ := seedSource(t)
	dst := memory.New()
	ctx := context.Background()
	// 目标库里凭空多出一条源库没有的主题，计数必然对不上
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stray := &models.Thread{
		ID: models.NewID(), CourseID: course, Title: "stray", Body: "s",
		AuthorID: "u9", Visible: true, Votes: models.NewVotes(),
		CreatedAt: base, UpdatedAt: base, LastActivityAt: base,
	}
	if err := dst.UpsertThread(ctx, stray); err != nil {
		t.Fatal(err)
	}

	toggle := newFakeToggle()
	checkpoints := NewMemoryCheckpoints()
	e := NewEngine(src, dst, checkpoints, toggle, zerolog.Nop(), 2, 3)
	e.sleep = func(time.Duration) {}

	report, err := e.MigrateCourse(ctx, course, Options{})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
	if report.State != StateFailed {
		t.Fatalf("report state = %s, want %s", report.State, StateFailed)
	}
	cp, _ := checkpoints.Get(course)
	if cp.State != StateFailed || cp.LastError == "" {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if len(toggle.flips) != 0 {
		t.Fatalf("toggle flipped despite count mismatch: %v", toggle.flips)
	}
}

func TestMigrateDryRunIgnoresFailedCheckpoint(t *testing.T) {
	src, _ := seedSource(t)
	dst := memory.New()
	checkpoints := NewMemoryCheckpoints()
	e := NewEngine(src, dst, checkpoints, newFakeToggle(), zerolog.Nop(), 2, 3)
	e.sleep = func(time.Duration) {}
	ctx := context.Background()

	// 上一次真跑在评论阶段挂掉了
	if err := checkpoints.Save(&Checkpoint{CourseID: course, State: StateFailed, Phase: PhaseComments}); err != nil {
		t.Fatal(err)
	}

	report, err := e.MigrateCourse(ctx, course, Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	// 试跑从头扫，检查点之前的阶段也要出现在报告里
	seen := map[Phase]PhaseReport{}
	for _, pr := range report.Phases {
		seen[pr.Phase] = pr
	}
	if seen[PhaseUsers].Copied != 1 || seen[PhaseThreads].Copied != 1 {
		t.Fatalf("dry run resumed from checkpoint instead of scanning all: %+v", report.Phases)
	}
	cp, _ := checkpoints.Get(course)
	if cp.State != StateFailed || cp.Phase != PhaseComments {
		t.Fatalf("dry run mutated checkpoint: %+v", cp)
	}
}

func TestMigrateNoToggleStopsAtVerified(t *testing.T) {
	src, _ := seedSource(t)
	dst := memory.New()
	toggle := newFakeToggle()
	e := newTestEngine(src, dst, toggle)
	ctx := context.Background()

	report, err := e.MigrateCourse(ctx, course, Options{NoToggle: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateVerified || report.Toggled {
		t.Fatalf("report = %+v", report)
	}
	if len(toggle.flips) != 0 {
		t.Fatal("toggle flipped despite --no-toggle")
	}

	// 下一次不带 NoToggle 只补翻开关，不重搬数据
	report, err = e.MigrateCourse(ctx, course, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateCutover || !report.Toggled || report.Copied() != 0 {
		t.Fatalf("finish report = %+v", report)
	}
}

func TestMigrateInProgressLock(t *testing.T) {
	src, _ := seedSource(t)
	dst := memory.New()
	checkpoints := NewMemoryCheckpoints()
	e := NewEngine(src, dst, checkpoints, newFakeToggle(), zerolog.Nop(), 2, 3)
	e.sleep = func(time.Duration) {}
	ctx := context.Background()

	// 模拟一个挂掉的迁移进程留下的锁
	if err := checkpoints.Save(&Checkpoint{CourseID: course, State: StateInProgress, Phase: PhaseThreads}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.MigrateCourse(ctx, course, Options{}); !errors.Is(err, ErrInProgress) {
		t.Fatalf("err = %v, want ErrInProgress", err)
	}

	// --reset-stuck 接管重跑
	report, err := e.MigrateCourse(ctx, course, Options{ResetStuck: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateCutover {
		t.Fatalf("report = %+v", report)
	}
}

func TestDeleteSourceRequiresCutover(t *testing.T) {
	src, _ := seedSource(t)
	dst := memory.New()
	e := newTestEngine(src, dst, newFakeToggle())
	ctx := context.Background()

	if _, err := e.DeleteSource(ctx, course, false); !errors.Is(err, ErrNotCutover) {
		t.Fatalf("err = %v, want ErrNotCutover", err)
	}

	if _, err := e.MigrateCourse(ctx, course, Options{}); err != nil {
		t.Fatal(err)
	}

	// 先试跑，源库数据不动
	stats, err := e.DeleteSource(ctx, course, true)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.DryRun || stats.Contents == 0 {
		t.Fatalf("dry-run stats = %+v", stats)
	}
	counts, _ := src.CourseCounts(ctx, course)
	if counts.Threads == 0 {
		t.Fatal("dry-run delete removed data")
	}

	if _, err := e.DeleteSource(ctx, course, false); err != nil {
		t.Fatal(err)
	}
	counts, _ = src.CourseCounts(ctx, course)
	if counts.Threads != 0 || counts.Comments != 0 {
		t.Fatalf("source data survived: %+v", counts)
	}
}

func TestMigrateAll(t *testing.T) {
	src, _ := seedSource(t)
	ctx := context.Background()
	// 第二个课程
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	other := &models.Thread{
		ID: models.NewID(), CourseID: "course-v1:Other+1+2024", Title: "o", Body: "o",
		AuthorID: "u1", Visible: true, Votes: models.NewVotes(),
		CreatedAt: base, UpdatedAt: base, LastActivityAt: base,
	}
	if err := src.CreateThread(ctx, other); err != nil {
		t.Fatal(err)
	}

	dst := memory.New()
	toggle := newFakeToggle()
	e := newTestEngine(src, dst, toggle)

	reports, err := e.MigrateAll(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if len(toggle.flips) != 2 {
		t.Fatalf("toggled %d courses, want 2", len(toggle.flips))
	}
}
