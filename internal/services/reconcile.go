package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"coursetalk/internal/store"
)

const reconcilePageSize = 200

// Reconciler 周期性核对冗余计数（comment_count / child_count）和实际评论树
// 是否一致。只发现、只记日志，不自动修正。
type Reconciler struct {
	backend store.Backend
	log     zerolog.Logger
	cron    *cron.Cron
}

func NewReconciler(backend store.Backend, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		backend: backend,
		log:     log.With().Str("component", "reconciler").Logger(),
		cron:    cron.New(),
	}
}

// Start 按 cron 表达式调度核对任务
func (r *Reconciler) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.log.Error().Err(err).Msg("reconcile run failed")
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Reconciler) Stop() {
	r.cron.Stop()
}

// Run 扫描全部课程，返回发现的计数偏差条数
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	courseIDs, err := r.backend.ListCourseIDs(ctx)
	if err != nil {
		return 0, err
	}
	drift := 0
	for _, courseID := range courseIDs {
		n, err := r.reconcileCourse(ctx, courseID)
		if err != nil {
			return drift, err
		}
		drift += n
	}
	if drift > 0 {
		r.log.Warn().Int("drift", drift).Msg("counter drift detected")
	} else {
		r.log.Info().Int("courses", len(courseIDs)).Msg("counters consistent")
	}
	return drift, nil
}

func (r *Reconciler) reconcileCourse(ctx context.Context, courseID string) (int, error) {
	drift := 0
	cursor := ""
	for {
		threads, next, err := r.backend.ListThreads(ctx, courseID, cursor, reconcilePageSize)
		if err != nil {
			return drift, err
		}
		for _, t := range threads {
			comments, err := r.backend.ListThreadComments(ctx, courseID, t.ID)
			if err != nil {
				return drift, err
			}
			if len(comments) != t.CommentCount {
				drift++
				r.log.Warn().
					Str("course_id", courseID).
					Str("thread_id", t.ID).
					Int("stored", t.CommentCount).
					Int("actual", len(comments)).
					Msg("comment_count drift")
			}
			// 逐个父节点核对 child_count
			children := map[string]int{}
			for _, c := range comments {
				if c.ParentID != "" {
					children[c.ParentID]++
				}
			}
			for _, c := range comments {
				if c.ChildCount != children[c.ID] {
					drift++
					r.log.Warn().
						Str("course_id", courseID).
						Str("comment_id", c.ID).
						Int("stored", c.ChildCount).
						Int("actual", children[c.ID]).
						Msg("child_count drift")
				}
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return drift, nil
}
