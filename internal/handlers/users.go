package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coursetalk/internal/models"
)

// GetUser 课程从 query 里取，决定读哪个后端
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.forum.GetUser(c.Request.Context(), c.Query("course_id"), c.Param("user_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type upsertUserRequest struct {
	ExternalID     string `json:"external_id"`
	Username       string `json:"username"`
	DefaultSortKey string `json:"default_sort_key"`
}

func (h *Handler) UpsertUser(c *gin.Context) {
	var req upsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := &models.User{
		ID:             c.Param("user_id"),
		ExternalID:     req.ExternalID,
		Username:       req.Username,
		DefaultSortKey: req.DefaultSortKey,
	}
	if err := h.forum.UpsertUser(c.Request.Context(), c.Query("course_id"), u); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type subscribeRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub, err := h.forum.Subscribe(c.Request.Context(), c.Param("course_id"), req.UserID, c.Param("thread_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.forum.Unsubscribe(c.Request.Context(), c.Param("course_id"), req.UserID, c.Param("thread_id")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type markReadRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.forum.MarkRead(c.Request.Context(), c.Param("course_id"), req.UserID, c.Param("thread_id")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
