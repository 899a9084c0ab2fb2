package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"coursetalk/internal/models"
	"coursetalk/internal/services"
	"coursetalk/internal/store/memory"
)

const course = "course-v1:Test+101+2024"

func newTestRouter(t *testing.T) (*gin.Engine, *memory.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := memory.New()
	if err := backend.UpsertUser(context.Background(), &models.User{
		ID: "author", Username: "author", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	forum := services.NewForum(services.StaticResolver{Backend: backend}, zerolog.Nop())
	h := New(forum)

	r := gin.New()
	api := r.Group("/api/v1/courses/:course_id")
	api.POST("/threads", h.CreateThread)
	api.GET("/threads/:thread_id", h.GetThread)
	api.POST("/threads/:thread_id/comments", h.CreateComment)
	api.GET("/threads/:thread_id/comments", h.ListThreadComments)
	api.PUT("/threads/:thread_id/votes", h.VoteThread)
	return r, backend
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestThreadLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/courses/"+course+"/threads", gin.H{
		"title": "hello", "body": "first post", "author_id": "author",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body.String())
	}
	var thread models.Thread
	if err := json.Unmarshal(w.Body.Bytes(), &thread); err != nil {
		t.Fatal(err)
	}
	if thread.ID == "" || thread.CourseID != course {
		t.Fatalf("thread = %+v", thread)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/courses/"+course+"/threads/"+thread.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/courses/"+course+"/threads/"+thread.ID+"/comments", gin.H{
		"body": "a reply", "author_id": "author",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("comment status = %d body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPut, "/api/v1/courses/"+course+"/threads/"+thread.ID+"/votes", gin.H{
		"user_id": "voter", "value": "up",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("vote status = %d body = %s", w.Code, w.Body.String())
	}
	var votes models.Votes
	if err := json.Unmarshal(w.Body.Bytes(), &votes); err != nil {
		t.Fatal(err)
	}
	if votes.Point != 1 {
		t.Fatalf("votes = %+v", votes)
	}
}

func TestValidationAndNotFoundStatus(t *testing.T) {
	r, _ := newTestRouter(t)

	// 缺标题
	w := doJSON(t, r, http.MethodPost, "/api/v1/courses/"+course+"/threads", gin.H{
		"body": "no title", "author_id": "author",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/courses/"+course+"/threads/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestBodySanitized(t *testing.T) {
	r, backend := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/courses/"+course+"/threads", gin.H{
		"title": "xss", "body": `hi<script>alert(1)</script>`, "author_id": "author",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	var thread models.Thread
	if err := json.Unmarshal(w.Body.Bytes(), &thread); err != nil {
		t.Fatal(err)
	}
	got, err := backend.GetThread(context.Background(), course, thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "hi" {
		t.Fatalf("body not sanitized: %q", got.Body)
	}
}
