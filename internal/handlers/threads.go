package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coursetalk/internal/services"
	"coursetalk/internal/store"
)

type createThreadRequest struct {
	CommentableID    string `json:"commentable_id"`
	Context          string `json:"context"`
	ThreadType       string `json:"thread_type"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	AuthorID         string `json:"author_id"`
	AuthorUsername   string `json:"author_username"`
	Anonymous        bool   `json:"anonymous"`
	AnonymousToPeers bool   `json:"anonymous_to_peers"`
	GroupID          *int   `json:"group_id"`
}

func (h *Handler) CreateThread(c *gin.Context) {
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	thread, err := h.forum.CreateThread(c.Request.Context(), services.NewThreadInput{
		CourseID:         c.Param("course_id"),
		CommentableID:    req.CommentableID,
		Context:          req.Context,
		ThreadType:       req.ThreadType,
		Title:            h.clean(req.Title),
		Body:             h.clean(req.Body),
		AuthorID:         req.AuthorID,
		AuthorUsername:   req.AuthorUsername,
		Anonymous:        req.Anonymous,
		AnonymousToPeers: req.AnonymousToPeers,
		GroupID:          req.GroupID,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func (h *Handler) GetThread(c *gin.Context) {
	thread, err := h.forum.GetThread(c.Request.Context(), c.Param("course_id"), c.Param("thread_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

type editBodyRequest struct {
	Body           string `json:"body"`
	EditorUsername string `json:"editor_username"`
	ReasonCode     string `json:"reason_code"`
}

func (h *Handler) EditThread(c *gin.Context) {
	var req editBodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref := store.Ref{Kind: store.KindThread, ID: c.Param("thread_id")}
	if err := h.forum.EditBody(c.Request.Context(), c.Param("course_id"), ref, h.clean(req.Body), req.EditorUsername, req.ReasonCode); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteThread(c *gin.Context) {
	ref := store.Ref{Kind: store.KindThread, ID: c.Param("thread_id")}
	if err := h.forum.Delete(c.Request.Context(), c.Param("course_id"), ref); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type closeThreadRequest struct {
	Closed   bool   `json:"closed"`
	ClosedBy string `json:"closed_by"`
}

func (h *Handler) CloseThread(c *gin.Context) {
	var req closeThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.forum.CloseThread(c.Request.Context(), c.Param("course_id"), c.Param("thread_id"), req.ClosedBy, req.Closed); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type pinThreadRequest struct {
	Pinned bool `json:"pinned"`
}

func (h *Handler) PinThread(c *gin.Context) {
	var req pinThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.forum.PinThread(c.Request.Context(), c.Param("course_id"), c.Param("thread_id"), req.Pinned); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListThreadComments 整棵评论树，sort_key 先序
func (h *Handler) ListThreadComments(c *gin.Context) {
	comments, err := h.forum.ListThreadComments(c.Request.Context(), c.Param("course_id"), c.Param("thread_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}
