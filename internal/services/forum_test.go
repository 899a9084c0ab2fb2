package services

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

func newTestForum(t *testing.T) (*Forum, *memory.Memory) {
	t.Helper()
	backend := memory.New()
	forum := NewForum(StaticResolver{Backend: backend}, zerolog.Nop())
	if err := backend.UpsertUser(context.Background(), &models.User{
		ID: "author", Username: "author", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	return forum, backend
}

func createThread(t *testing.T, forum *Forum) *models.Thread {
	t.Helper()
	thread, err := forum.CreateThread(context.Background(), NewThreadInput{
		CourseID: course, Title: "question", Body: "what is this",
		AuthorID: "author", AuthorUsername: "author",
	})
	if err != nil {
		t.Fatal(err)
	}
	return thread
}

func TestCreateThreadDefaultsAndStats(t *testing.T) {
	forum, backend := newTestForum(t)
	thread := createThread(t, forum)

	if thread.ThreadType != models.ThreadTypeDiscussion || thread.Context != models.ContextCourse {
		t.Fatalf("defaults not applied: %+v", thread)
	}
	if !thread.Visible || thread.Votes.Count != 0 {
		t.Fatalf("fresh thread wrong: %+v", thread)
	}

	u, err := backend.GetUser(context.Background(), "author")
	if err != nil {
		t.Fatal(err)
	}
	cs := u.StatsFor(course)
	if cs == nil || cs.Threads != 1 {
		t.Fatalf("course stats = %+v", cs)
	}
}

func TestCreateThreadValidation(t *testing.T) {
	forum, _ := newTestForum(t)
	_, err := forum.CreateThread(context.Background(), NewThreadInput{
		CourseID: course, Body: "no title", AuthorID: "author",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	_, err = forum.CreateThread(context.Background(), NewThreadInput{
		CourseID: course, Title: "t", Body: "b", AuthorID: "author", ThreadType: "poll",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("bad thread_type err = %v, want ErrValidation", err)
	}
}

func TestCommentTreeDepthAndStats(t *testing.T) {
	forum, backend := newTestForum(t)
	ctx := context.Background()
	thread := createThread(t, forum)

	top, err := forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: thread.ID, Body: "top", AuthorID: "author",
	})
	if err != nil {
		t.Fatal(err)
	}
	if top.Depth != 0 || top.SortKey != top.ID {
		t.Fatalf("top comment wrong: %+v", top)
	}

	reply, err := forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: thread.ID, ParentID: top.ID, Body: "reply", AuthorID: "author",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Depth != 1 || reply.SortKey != top.SortKey+models.SortKeySeparator+reply.ID {
		t.Fatalf("reply ancestry wrong: %+v", reply)
	}

	u, _ := backend.GetUser(ctx, "author")
	cs := u.StatsFor(course)
	if cs.Responses != 1 || cs.Replies != 1 {
		t.Fatalf("stats = %+v", cs)
	}
}

func TestCreateCommentOnClosedThread(t *testing.T) {
	forum, _ := newTestForum(t)
	ctx := context.Background()
	thread := createThread(t, forum)
	if err := forum.CloseThread(ctx, course, thread.ID, "moderator", true); err != nil {
		t.Fatal(err)
	}
	_, err := forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: thread.ID, Body: "too late", AuthorID: "author",
	})
	if !errors.Is(err, store.ErrThreadClosed) {
		t.Fatalf("err = %v, want ErrThreadClosed", err)
	}

	// 重新打开后恢复
	if err := forum.CloseThread(ctx, course, thread.ID, "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: thread.ID, Body: "ok now", AuthorID: "author",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestCreateCommentBadParent(t *testing.T) {
	forum, _ := newTestForum(t)
	ctx := context.Background()
	thread := createThread(t, forum)
	other := createThread(t, forum)
	otherTop, err := forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: other.ID, Body: "elsewhere", AuthorID: "author",
	})
	if err != nil {
		t.Fatal(err)
	}
	// 父评论在另一个主题下
	_, err = forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: thread.ID, ParentID: otherTop.ID, Body: "x", AuthorID: "author",
	})
	if !errors.Is(err, store.ErrParentNotFound) {
		t.Fatalf("err = %v, want ErrParentNotFound", err)
	}
}

func TestEditBodyKeepsHistory(t *testing.T) {
	forum, _ := newTestForum(t)
	ctx := context.Background()
	thread := createThread(t, forum)

	ref := store.Ref{Kind: store.KindThread, ID: thread.ID}
	if err := forum.EditBody(ctx, course, ref, "new body", "moderator", "grammar"); err != nil {
		t.Fatal(err)
	}
	got, err := forum.GetThread(ctx, course, thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "new body" {
		t.Fatalf("body = %q", got.Body)
	}
	if len(got.EditHistory) != 1 {
		t.Fatalf("history len = %d", len(got.EditHistory))
	}
	entry := got.EditHistory[0]
	if entry.OriginalBody != "what is this" || entry.EditorUsername != "moderator" || entry.ReasonCode != "grammar" {
		t.Fatalf("history entry = %+v", entry)
	}
}

func TestDeleteAdjustsStats(t *testing.T) {
	forum, backend := newTestForum(t)
	ctx := context.Background()
	thread := createThread(t, forum)
	top, err := forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: thread.ID, Body: "top", AuthorID: "author",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := forum.Delete(ctx, course, store.Ref{Kind: store.KindComment, ID: top.ID}); err != nil {
		t.Fatal(err)
	}
	// 删除幂等，不重复扣减
	if err := forum.Delete(ctx, course, store.Ref{Kind: store.KindComment, ID: top.ID}); err != nil {
		t.Fatal(err)
	}

	u, _ := backend.GetUser(ctx, "author")
	cs := u.StatsFor(course)
	if cs.Responses != 0 {
		t.Fatalf("responses = %d, want 0", cs.Responses)
	}
}

func TestVoteAndEndorse(t *testing.T) {
	forum, _ := newTestForum(t)
	ctx := context.Background()
	thread := createThread(t, forum)
	top, err := forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: thread.ID, Body: "answer", AuthorID: "author",
	})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := forum.CreateComment(ctx, NewCommentInput{
		CourseID: course, ThreadID: thread.ID, ParentID: top.ID, Body: "nested", AuthorID: "author",
	})
	if err != nil {
		t.Fatal(err)
	}

	ref := store.Ref{Kind: store.KindComment, ID: top.ID}
	votes, err := forum.Vote(ctx, course, ref, "voter", store.VoteUp)
	if err != nil {
		t.Fatal(err)
	}
	if votes.Point != 1 {
		t.Fatalf("votes = %+v", votes)
	}
	if _, err := forum.Vote(ctx, course, ref, "voter", "sideways"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("bad direction err = %v", err)
	}

	if err := forum.Endorse(ctx, course, top.ID, "staff", true); err != nil {
		t.Fatal(err)
	}
	got, _ := forum.GetComment(ctx, course, top.ID)
	if !got.Endorsed || got.Endorsement == nil || got.Endorsement.UserID != "staff" {
		t.Fatalf("endorsement = %+v", got)
	}

	if err := forum.Endorse(ctx, course, reply.ID, "staff", true); !errors.Is(err, store.ErrInvalidEndorsementTarget) {
		t.Fatalf("deep endorse err = %v", err)
	}

	if err := forum.Endorse(ctx, course, top.ID, "", false); err != nil {
		t.Fatal(err)
	}
	got, _ = forum.GetComment(ctx, course, top.ID)
	if got.Endorsed || got.Endorsement != nil {
		t.Fatalf("endorsement not cleared: %+v", got)
	}
}

type flakyBackend struct {
	store.Backend
	failures int
	calls    int
}

func (b *flakyBackend) GetThread(ctx context.Context, courseID, threadID string) (*models.Thread, error) {
	b.calls++
	if b.failures > 0 {
		b.failures--
		return nil, store.ErrUnavailable
	}
	return b.Backend.GetThread(ctx, courseID, threadID)
}

func TestBackendUnavailableRetriedOnce(t *testing.T) {
	forum, backend := newTestForum(t)
	thread := createThread(t, forum)
	ctx := context.Background()

	// 抖一次，重试后成功
	flaky := &flakyBackend{Backend: backend, failures: 1}
	forum = NewForum(StaticResolver{Backend: flaky}, zerolog.Nop())
	got, err := forum.GetThread(ctx, course, thread.ID)
	if err != nil {
		t.Fatalf("err = %v after one hiccup", err)
	}
	if got.ID != thread.ID || flaky.calls != 2 {
		t.Fatalf("thread = %+v, calls = %d", got, flaky.calls)
	}

	// 连着失败两次就放弃，单个请求只重试一次
	flaky.failures = 2
	flaky.calls = 0
	if _, err := forum.GetThread(ctx, course, thread.ID); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("calls = %d, want 2", flaky.calls)
	}
}

func TestFlagLifecycle(t *testing.T) {
	forum, backend := newTestForum(t)
	ctx := context.Background()
	thread := createThread(t, forum)
	ref := store.Ref{Kind: store.KindThread, ID: thread.ID}

	if err := forum.Flag(ctx, course, ref, "r1"); err != nil {
		t.Fatal(err)
	}
	// 重复举报不重复计数
	if err := forum.Flag(ctx, course, ref, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := forum.Flag(ctx, course, ref, "r2"); err != nil {
		t.Fatal(err)
	}

	u, _ := backend.GetUser(ctx, "author")
	if u.StatsFor(course).ActiveFlags != 2 {
		t.Fatalf("active flags = %d, want 2", u.StatsFor(course).ActiveFlags)
	}

	// 全部撤销：在场举报转历史
	if err := forum.Unflag(ctx, course, ref, "", true); err != nil {
		t.Fatal(err)
	}
	got, _ := forum.GetThread(ctx, course, thread.ID)
	if len(got.AbuseFlaggers) != 0 || len(got.HistoricalAbuseFlaggers) != 2 {
		t.Fatalf("flaggers = %v / %v", got.AbuseFlaggers, got.HistoricalAbuseFlaggers)
	}
	u, _ = backend.GetUser(ctx, "author")
	cs := u.StatsFor(course)
	if cs.ActiveFlags != 0 || cs.InactiveFlags != 2 {
		t.Fatalf("stats after unflag-all = %+v", cs)
	}
}

func TestSubscribeAndMarkRead(t *testing.T) {
	forum, backend := newTestForum(t)
	ctx := context.Background()
	thread := createThread(t, forum)

	sub, err := forum.Subscribe(ctx, course, "author", thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.SourceID != thread.ID || sub.SourceType != models.ContentTypeThread {
		t.Fatalf("sub = %+v", sub)
	}
	// 重复订阅幂等
	if _, err := forum.Subscribe(ctx, course, "author", thread.ID); err != nil {
		t.Fatal(err)
	}

	u, _ := backend.GetUser(ctx, "author")
	if len(u.SubscribedThreadIDs) != 1 {
		t.Fatalf("subscribed = %v", u.SubscribedThreadIDs)
	}

	if err := forum.MarkRead(ctx, course, "author", thread.ID); err != nil {
		t.Fatal(err)
	}
	u, _ = backend.GetUser(ctx, "author")
	rs := u.ReadStateFor(course)
	if rs == nil || rs.LastReadTimes[thread.ID].IsZero() {
		t.Fatalf("read state = %+v", rs)
	}

	if err := forum.Unsubscribe(ctx, course, "author", thread.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.GetSubscription(ctx, "author", thread.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("sub survived unsubscribe: %v", err)
	}
}
