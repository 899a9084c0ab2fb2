package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coursetalk/internal/services"
	"coursetalk/internal/store"
)

type createCommentRequest struct {
	ParentID         string `json:"parent_id"`
	Body             string `json:"body"`
	AuthorID         string `json:"author_id"`
	AuthorUsername   string `json:"author_username"`
	Anonymous        bool   `json:"anonymous"`
	AnonymousToPeers bool   `json:"anonymous_to_peers"`
}

func (h *Handler) CreateComment(c *gin.Context) {
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	comment, err := h.forum.CreateComment(c.Request.Context(), services.NewCommentInput{
		CourseID:         c.Param("course_id"),
		ThreadID:         c.Param("thread_id"),
		ParentID:         req.ParentID,
		Body:             h.clean(req.Body),
		AuthorID:         req.AuthorID,
		AuthorUsername:   req.AuthorUsername,
		Anonymous:        req.Anonymous,
		AnonymousToPeers: req.AnonymousToPeers,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *Handler) GetComment(c *gin.Context) {
	comment, err := h.forum.GetComment(c.Request.Context(), c.Param("course_id"), c.Param("comment_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

func (h *Handler) EditComment(c *gin.Context) {
	var req editBodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref := store.Ref{Kind: store.KindComment, ID: c.Param("comment_id")}
	if err := h.forum.EditBody(c.Request.Context(), c.Param("course_id"), ref, h.clean(req.Body), req.EditorUsername, req.ReasonCode); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteComment(c *gin.Context) {
	ref := store.Ref{Kind: store.KindComment, ID: c.Param("comment_id")}
	if err := h.forum.Delete(c.Request.Context(), c.Param("course_id"), ref); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type endorseRequest struct {
	Endorsed bool   `json:"endorsed"`
	UserID   string `json:"user_id"`
}

func (h *Handler) EndorseComment(c *gin.Context) {
	var req endorseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.forum.Endorse(c.Request.Context(), c.Param("course_id"), c.Param("comment_id"), req.UserID, req.Endorsed); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
