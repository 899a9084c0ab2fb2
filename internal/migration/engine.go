package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coursetalk/internal/store"
)

var (
	// ErrInProgress 同课程已有迁移在跑（或上次跑挂了没清锁）
	ErrInProgress = errors.New("migration already in progress")
	// ErrVerificationFailed 源库和目标库计数对不上
	ErrVerificationFailed = errors.New("migration verification failed")
	// ErrNotCutover 课程还没切换到目标库，不允许删源数据
	ErrNotCutover = errors.New("course has not been cut over")
)

// Toggle 迁移成功后翻路由开关用。routing.Resolver 实现了它。
type Toggle interface {
	SetBackend(ctx context.Context, courseID string, kind store.BackendKind) error
}

// Options 控制一次迁移的行为
type Options struct {
	DryRun     bool // 只读试跑：从头全量扫，不写目标库、不存检查点、不翻开关
	NoToggle   bool // 校验通过后停在 Verified，不翻开关
	ResetStuck bool // 接管卡在 InProgress 的检查点重跑
}

type Engine struct {
	source      store.Backend
	target      store.Backend
	checkpoints Checkpoints
	toggle      Toggle
	log         zerolog.Logger
	pageSize    int
	maxRetries  int
	sleep       func(time.Duration)
}

func NewEngine(source, target store.Backend, checkpoints Checkpoints, toggle Toggle, log zerolog.Logger, pageSize, maxRetries int) *Engine {
	if pageSize <= 0 {
		pageSize = 500
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Engine{
		source:      source,
		target:      target,
		checkpoints: checkpoints,
		toggle:      toggle,
		log:         log.With().Str("component", "migration").Logger(),
		pageSize:    pageSize,
		maxRetries:  maxRetries,
		sleep:       time.Sleep,
	}
}

// MigrateAll 迁移源库里的所有课程
func (e *Engine) MigrateAll(ctx context.Context, opts Options) ([]*Report, error) {
	courseIDs, err := e.source.ListCourseIDs(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]*Report, 0, len(courseIDs))
	for _, courseID := range courseIDs {
		report, err := e.MigrateCourse(ctx, courseID, opts)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// MigrateCourse 推进单个课程的迁移状态机。Failed 状态从检查点续跑，
// Cutover 直接返回，InProgress 视为被别的进程占用。
func (e *Engine) MigrateCourse(ctx context.Context, courseID string, opts Options) (*Report, error) {
	report := &Report{CourseID: courseID, DryRun: opts.DryRun}
	cp, err := e.checkpoints.Get(courseID)
	if err != nil {
		return report, err
	}
	report.State = cp.State

	switch cp.State {
	case StateCutover:
		e.log.Info().Str("course_id", courseID).Msg("already cut over, nothing to do")
		return report, nil
	case StateInProgress:
		if !opts.ResetStuck {
			return report, fmt.Errorf("%w: course %s", ErrInProgress, courseID)
		}
		e.log.Warn().Str("course_id", courseID).Msg("taking over stuck migration")
	case StateVerified:
		// 搬运已完成，只差翻开关
		return report, e.finish(ctx, cp, report, opts)
	}

	startPhase := cp.Phase
	startCursor := cp.Cursor
	// 试跑不续传：不管检查点停在哪，都从头全量扫，报告才对得上一次完整迁移
	if cp.State == StateNotStarted || opts.DryRun {
		startPhase = phaseOrder[0]
		startCursor = ""
	}

	if !opts.DryRun {
		cp.State = StateInProgress
		cp.Phase = startPhase
		cp.Cursor = startCursor
		cp.LastError = ""
		if err := e.checkpoints.Save(cp); err != nil {
			return report, err
		}
	}
	report.State = StateInProgress

	cursor := startCursor
	for phase := startPhase; phase != PhaseDone; phase = nextPhase(phase) {
		pr, err := e.runPhase(ctx, courseID, phase, cursor, opts.DryRun, cp)
		report.addPhase(pr)
		if err != nil {
			return report, e.fail(cp, report, opts, fmt.Errorf("phase %s: %w", phase, err))
		}
		cursor = ""
	}

	if err := e.verify(ctx, courseID, report, opts.DryRun); err != nil {
		return report, e.fail(cp, report, opts, err)
	}

	if opts.DryRun {
		report.State = cp.State
		return report, nil
	}

	cp.State = StateVerified
	cp.Phase = PhaseDone
	cp.Cursor = ""
	cp.SetCounts(report.SourceCounts)
	if err := e.checkpoints.Save(cp); err != nil {
		return report, err
	}
	report.State = StateVerified
	return report, e.finish(ctx, cp, report, opts)
}

// finish 从 Verified 推到 Cutover
func (e *Engine) finish(ctx context.Context, cp *Checkpoint, report *Report, opts Options) error {
	if opts.DryRun || opts.NoToggle {
		report.State = StateVerified
		return nil
	}
	if err := e.toggle.SetBackend(ctx, cp.CourseID, store.BackendRelational); err != nil {
		return e.fail(cp, report, opts, fmt.Errorf("toggle flip: %w", err))
	}
	cp.State = StateCutover
	if err := e.checkpoints.Save(cp); err != nil {
		return err
	}
	report.State = StateCutover
	report.Toggled = true
	e.log.Info().Str("course_id", cp.CourseID).Msg("course cut over to relational backend")
	return nil
}

func (e *Engine) fail(cp *Checkpoint, report *Report, opts Options, cause error) error {
	report.Error = cause.Error()
	if opts.DryRun {
		return cause
	}
	cp.State = StateFailed
	cp.LastError = cause.Error()
	if err := e.checkpoints.Save(cp); err != nil {
		e.log.Error().Err(err).Str("course_id", cp.CourseID).Msg("failed to persist failure state")
	}
	report.State = StateFailed
	e.log.Error().Err(cause).Str("course_id", cp.CourseID).Msg("migration failed")
	return cause
}

// runPhase 分页搬运一个阶段，每页成功后推进检查点游标
func (e *Engine) runPhase(ctx context.Context, courseID string, phase Phase, cursor string, dryRun bool, cp *Checkpoint) (PhaseReport, error) {
	pr := PhaseReport{Phase: phase}
	for {
		var next string
		var copied, skipped int
		err := e.withRetry(ctx, func() error {
			var err error
			copied, skipped, next, err = e.copyPage(ctx, courseID, phase, cursor, dryRun)
			return err
		})
		if err != nil {
			return pr, err
		}
		pr.Pages++
		pr.Copied += copied
		pr.Skipped += skipped
		if !dryRun {
			cp.Phase = phase
			cp.Cursor = next
			if err := e.checkpoints.Save(cp); err != nil {
				return pr, err
			}
		}
		if next == "" {
			return pr, nil
		}
		cursor = next
	}
}

// withRetry 页级重试，退避逐次翻倍
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	backoff := time.Second
	var err error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.Warn().Err(err).Int("attempt", attempt+1).Msg("page copy failed, backing off")
		e.sleep(backoff)
		backoff *= 2
	}
	return err
}

func (e *Engine) copyPage(ctx context.Context, courseID string, phase Phase, cursor string, dryRun bool) (copied, skipped int, next string, err error) {
	switch phase {
	case PhaseUsers:
		return e.copyUsersPage(ctx, courseID, cursor, dryRun)
	case PhaseThreads:
		return e.copyThreadsPage(ctx, courseID, cursor, dryRun)
	case PhaseComments:
		return e.copyCommentsPage(ctx, courseID, cursor, dryRun)
	case PhaseSubscriptions:
		return e.copySubscriptionsPage(ctx, courseID, cursor, dryRun)
	case PhaseReadStates:
		return e.copyReadStatesPage(ctx, courseID, cursor, dryRun)
	}
	return 0, 0, "", fmt.Errorf("unknown phase %q", phase)
}

func (e *Engine) copyUsersPage(ctx context.Context, courseID, cursor string, dryRun bool) (int, int, string, error) {
	users, next, err := e.source.ListUsers(ctx, courseID, cursor, e.pageSize)
	if err != nil {
		return 0, 0, "", err
	}
	copied, skipped := 0, 0
	for _, u := range users {
		existing, err := e.target.GetUser(ctx, u.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return copied, skipped, "", err
		}
		if existing != nil && !u.UpdatedAt.After(existing.UpdatedAt) {
			skipped++
			continue
		}
		if !dryRun {
			// 阅读状态留给专门的阶段，等主题先落库
			clone := *u
			clone.ReadStates = nil
			if err := e.target.UpsertUser(ctx, &clone); err != nil {
				return copied, skipped, "", err
			}
		}
		copied++
	}
	return copied, skipped, next, nil
}

func (e *Engine) copyThreadsPage(ctx context.Context, courseID, cursor string, dryRun bool) (int, int, string, error) {
	threads, next, err := e.source.ListThreads(ctx, courseID, cursor, e.pageSize)
	if err != nil {
		return 0, 0, "", err
	}
	copied, skipped := 0, 0
	for _, t := range threads {
		existing, err := e.target.GetThread(ctx, courseID, t.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return copied, skipped, "", err
		}
		if existing != nil && !t.UpdatedAt.After(existing.UpdatedAt) {
			skipped++
			continue
		}
		if !dryRun {
			if err := e.target.UpsertThread(ctx, t); err != nil {
				return copied, skipped, "", err
			}
		}
		copied++
	}
	return copied, skipped, next, nil
}

func (e *Engine) copyCommentsPage(ctx context.Context, courseID, cursor string, dryRun bool) (int, int, string, error) {
	comments, next, err := e.source.ListComments(ctx, courseID, cursor, e.pageSize)
	if err != nil {
		return 0, 0, "", err
	}
	copied, skipped := 0, 0
	for _, c := range comments {
		existing, err := e.target.GetComment(ctx, courseID, c.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return copied, skipped, "", err
		}
		if existing != nil && !c.UpdatedAt.After(existing.UpdatedAt) {
			skipped++
			continue
		}
		if !dryRun {
			if err := e.target.UpsertComment(ctx, c); err != nil {
				return copied, skipped, "", err
			}
		}
		copied++
	}
	return copied, skipped, next, nil
}

func (e *Engine) copySubscriptionsPage(ctx context.Context, courseID, cursor string, dryRun bool) (int, int, string, error) {
	subs, next, err := e.source.ListSubscriptions(ctx, courseID, cursor, e.pageSize)
	if err != nil {
		return 0, 0, "", err
	}
	copied, skipped := 0, 0
	for _, sub := range subs {
		existing, err := e.target.GetSubscription(ctx, sub.SubscriberID, sub.SourceID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return copied, skipped, "", err
		}
		if existing != nil && !sub.UpdatedAt.After(existing.UpdatedAt) {
			skipped++
			continue
		}
		if !dryRun {
			if err := e.target.UpsertSubscription(ctx, sub); err != nil {
				return copied, skipped, "", err
			}
		}
		copied++
	}
	return copied, skipped, next, nil
}

func (e *Engine) copyReadStatesPage(ctx context.Context, courseID, cursor string, dryRun bool) (int, int, string, error) {
	users, next, err := e.source.ListUsers(ctx, courseID, cursor, e.pageSize)
	if err != nil {
		return 0, 0, "", err
	}
	copied := 0
	for _, u := range users {
		rs := u.ReadStateFor(courseID)
		if rs == nil {
			continue
		}
		for threadID, ts := range rs.LastReadTimes {
			if !dryRun {
				if err := e.target.MarkRead(ctx, u.ID, courseID, threadID, ts); err != nil {
					// 指向已不存在主题的阅读记录不值得让迁移失败
					if errors.Is(err, store.ErrNotFound) {
						e.log.Warn().Str("user_id", u.ID).Str("thread_id", threadID).Msg("read state references missing thread, skipped")
						continue
					}
					return copied, 0, "", err
				}
			}
			copied++
		}
	}
	return copied, 0, next, nil
}

// verify 对比源库和目标库的关键计数。试跑时只记录不判败。
func (e *Engine) verify(ctx context.Context, courseID string, report *Report, dryRun bool) error {
	src, err := e.source.CourseCounts(ctx, courseID)
	if err != nil {
		return err
	}
	report.SourceCounts = src
	dst, err := e.target.CourseCounts(ctx, courseID)
	if err != nil {
		return err
	}
	report.TargetCounts = dst
	if dryRun {
		return nil
	}
	if src.Threads != dst.Threads || src.Comments != dst.Comments || src.VotePoints != dst.VotePoints {
		return fmt.Errorf("%w: source %+v target %+v", ErrVerificationFailed, src, dst)
	}
	return nil
}

// DeleteSource 删除已切换课程在源库里的数据。切换前一律拒绝。
func (e *Engine) DeleteSource(ctx context.Context, courseID string, dryRun bool) (store.DeleteStats, error) {
	cp, err := e.checkpoints.Get(courseID)
	if err != nil {
		return store.DeleteStats{}, err
	}
	if cp.State != StateCutover {
		return store.DeleteStats{}, fmt.Errorf("%w: course %s is %s", ErrNotCutover, courseID, cp.State)
	}
	stats, err := e.source.DeleteCourseData(ctx, courseID, dryRun)
	if err != nil {
		return stats, err
	}
	e.log.Info().
		Str("course_id", courseID).
		Bool("dry_run", dryRun).
		Int64("contents", stats.Contents).
		Int64("subscriptions", stats.Subscriptions).
		Msg("source data deletion")
	return stats, nil
}
