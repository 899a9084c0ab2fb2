package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"coursetalk/internal/models"
	"coursetalk/internal/store"
)

const course = "course-v1:Test+101+2024"

func seedThread(t *testing.T, m *Memory, courseID string) *models.Thread {
	t.Helper()
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:             models.NewID(),
		CourseID:       courseID,
		ThreadType:     models.ThreadTypeDiscussion,
		Title:          "title",
		Body:           "body",
		AuthorID:       "author",
		Visible:        true,
		Votes:          models.NewVotes(),
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.CreateThread(context.Background(), thread); err != nil {
		t.Fatal(err)
	}
	return thread
}

func seedComment(t *testing.T, m *Memory, thread *models.Thread, parent *models.Comment) *models.Comment {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Comment{
		ID:        models.NewID(),
		CourseID:  thread.CourseID,
		ThreadID:  thread.ID,
		Body:      "comment",
		AuthorID:  "author",
		Visible:   true,
		Votes:     models.NewVotes(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.SetAncestry(parent)
	if err := m.CreateComment(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCreateCommentMaintainsCounters(t *testing.T) {
	m := New()
	ctx := context.Background()
	thread := seedThread(t, m, course)
	top := seedComment(t, m, thread, nil)
	seedComment(t, m, thread, top)

	got, err := m.GetThread(ctx, course, thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CommentCount != 2 {
		t.Errorf("comment_count = %d, want 2", got.CommentCount)
	}
	gotTop, err := m.GetComment(ctx, course, top.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotTop.ChildCount != 1 {
		t.Errorf("child_count = %d, want 1", gotTop.ChildCount)
	}
}

func TestCreateCommentParentNotFound(t *testing.T) {
	m := New()
	thread := seedThread(t, m, course)
	c := &models.Comment{
		ID: models.NewID(), CourseID: course, ThreadID: thread.ID,
		ParentID: "missing", Visible: true,
	}
	if err := m.CreateComment(context.Background(), c); !errors.Is(err, store.ErrParentNotFound) {
		t.Fatalf("err = %v, want ErrParentNotFound", err)
	}
}

func TestCrossTenantReference(t *testing.T) {
	m := New()
	thread := seedThread(t, m, course)
	_, err := m.GetThread(context.Background(), "other-course", thread.ID)
	if !errors.Is(err, store.ErrCrossTenantReference) {
		t.Fatalf("err = %v, want ErrCrossTenantReference", err)
	}
}

func TestApplyVoteSwapAndIdempotence(t *testing.T) {
	m := New()
	ctx := context.Background()
	thread := seedThread(t, m, course)
	ref := store.Ref{Kind: store.KindThread, ID: thread.ID}

	v, err := m.ApplyVote(ctx, course, ref, "u1", store.VoteUp)
	if err != nil {
		t.Fatal(err)
	}
	if v.Point != 1 || v.UpCount != 1 {
		t.Fatalf("after up: %+v", v)
	}

	// 同方向重复投票幂等
	v, _ = m.ApplyVote(ctx, course, ref, "u1", store.VoteUp)
	if v.Point != 1 || v.Count != 1 {
		t.Fatalf("after repeat up: %+v", v)
	}

	// 换方向是单步交换
	v, _ = m.ApplyVote(ctx, course, ref, "u1", store.VoteDown)
	if v.UpCount != 0 || v.DownCount != 1 || v.Point != -1 {
		t.Fatalf("after swap: %+v", v)
	}

	// 撤票
	v, _ = m.ApplyVote(ctx, course, ref, "u1", store.VoteNone)
	if v.Count != 0 || v.Point != 0 {
		t.Fatalf("after clear: %+v", v)
	}
}

func TestSetEndorsementDepthRule(t *testing.T) {
	m := New()
	ctx := context.Background()
	thread := seedThread(t, m, course)
	top := seedComment(t, m, thread, nil)
	reply := seedComment(t, m, thread, top)

	e := &models.Endorsement{UserID: "staff", Time: time.Now().UTC()}
	if err := m.SetEndorsement(ctx, course, top.ID, e); err != nil {
		t.Fatal(err)
	}
	if err := m.SetEndorsement(ctx, course, reply.ID, e); !errors.Is(err, store.ErrInvalidEndorsementTarget) {
		t.Fatalf("err = %v, want ErrInvalidEndorsementTarget", err)
	}

	// 撤销后整个负载清空
	if err := m.SetEndorsement(ctx, course, top.ID, nil); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetComment(ctx, course, top.ID)
	if got.Endorsed || got.Endorsement != nil {
		t.Fatalf("endorsement not cleared: %+v", got)
	}
}

func TestSoftDeleteDecrementsOnce(t *testing.T) {
	m := New()
	ctx := context.Background()
	thread := seedThread(t, m, course)
	top := seedComment(t, m, thread, nil)
	reply := seedComment(t, m, thread, top)

	ref := store.Ref{Kind: store.KindComment, ID: reply.ID}
	if err := m.SoftDelete(ctx, course, ref); err != nil {
		t.Fatal(err)
	}
	// 重复删除不再扣减
	if err := m.SoftDelete(ctx, course, ref); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetThread(ctx, course, thread.ID)
	if got.CommentCount != 1 {
		t.Errorf("comment_count = %d, want 1", got.CommentCount)
	}
	gotTop, _ := m.GetComment(ctx, course, top.ID)
	if gotTop.ChildCount != 0 {
		t.Errorf("child_count = %d, want 0", gotTop.ChildCount)
	}

	comments, err := m.ListThreadComments(ctx, course, thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 || comments[0].ID != top.ID {
		t.Fatalf("visible comments = %v", comments)
	}
}

func TestListThreadCommentsPreorder(t *testing.T) {
	m := New()
	ctx := context.Background()
	thread := seedThread(t, m, course)
	a := seedComment(t, m, thread, nil)
	b := seedComment(t, m, thread, nil)
	aChild := seedComment(t, m, thread, a)

	comments, err := m.ListThreadComments(ctx, course, thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 3 {
		t.Fatalf("len = %d", len(comments))
	}
	// 孩子必须紧跟在父节点后面
	pos := map[string]int{}
	for i, c := range comments {
		pos[c.ID] = i
	}
	if pos[aChild.ID] != pos[a.ID]+1 {
		t.Fatalf("child not adjacent to parent: %v", pos)
	}
	_ = b
}

func TestListThreadsPagination(t *testing.T) {
	m := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		th := &models.Thread{
			ID: models.NewID(), CourseID: course, Visible: true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base,
		}
		ids = append(ids, th.ID)
		if err := m.CreateThread(ctx, th); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	cursor := ""
	for {
		page, next, err := m.ListThreads(ctx, course, cursor, 2)
		if err != nil {
			t.Fatal(err)
		}
		for _, th := range page {
			got = append(got, th.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(got) != 5 {
		t.Fatalf("walked %d threads, want 5", len(got))
	}
	for i := range got {
		if got[i] != ids[i] {
			t.Fatalf("order broken at %d: %v vs %v", i, got, ids)
		}
	}
}

func TestDeleteCourseData(t *testing.T) {
	m := New()
	ctx := context.Background()
	thread := seedThread(t, m, course)
	seedComment(t, m, thread, nil)
	other := seedThread(t, m, "other-course")

	u := &models.User{
		ID: "u1", Username: "u1",
		CourseStats: []models.CourseStats{{CourseID: course, Threads: 1}},
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.UpsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := m.Subscribe(ctx, &models.Subscription{
		SubscriberID: "u1", SourceID: thread.ID,
		SourceType: models.ContentTypeThread, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	// 试跑不动数据
	stats, err := m.DeleteCourseData(ctx, course, true)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Contents != 2 || stats.Subscriptions != 1 || stats.Users != 1 || !stats.DryRun {
		t.Fatalf("dry-run stats: %+v", stats)
	}
	counts, _ := m.CourseCounts(ctx, course)
	if counts.Threads != 1 || counts.Comments != 1 || counts.Subscriptions != 1 {
		t.Fatalf("dry run mutated data: %+v", counts)
	}

	stats, err = m.DeleteCourseData(ctx, course, false)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Contents != 2 {
		t.Fatalf("delete stats: %+v", stats)
	}
	counts, _ = m.CourseCounts(ctx, course)
	if counts.Threads != 0 || counts.Comments != 0 || counts.Subscriptions != 0 || counts.Users != 0 {
		t.Fatalf("course data survived delete: %+v", counts)
	}
	// 别的课程不受影响
	if _, err := m.GetThread(ctx, "other-course", other.ID); err != nil {
		t.Fatal(err)
	}
	// 用户本身保留，只剥离课程数据
	if _, err := m.GetUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
}
