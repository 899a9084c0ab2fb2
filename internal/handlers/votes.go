package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coursetalk/internal/store"
)

type voteRequest struct {
	UserID string `json:"user_id"`
	Value  string `json:"value"` // up / down / none
}

func (h *Handler) vote(c *gin.Context, ref store.Ref) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	votes, err := h.forum.Vote(c.Request.Context(), c.Param("course_id"), ref, req.UserID, store.Direction(req.Value))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, votes)
}

func (h *Handler) VoteThread(c *gin.Context) {
	h.vote(c, store.Ref{Kind: store.KindThread, ID: c.Param("thread_id")})
}

func (h *Handler) VoteComment(c *gin.Context) {
	h.vote(c, store.Ref{Kind: store.KindComment, ID: c.Param("comment_id")})
}

type flagRequest struct {
	UserID string `json:"user_id"`
	All    bool   `json:"all"` // 仅 unflag 生效：清空全部在场举报并转历史
}

func (h *Handler) flag(c *gin.Context, ref store.Ref, flagged bool) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var err error
	if flagged {
		err = h.forum.Flag(c.Request.Context(), c.Param("course_id"), ref, req.UserID)
	} else {
		err = h.forum.Unflag(c.Request.Context(), c.Param("course_id"), ref, req.UserID, req.All)
	}
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) FlagThread(c *gin.Context) {
	h.flag(c, store.Ref{Kind: store.KindThread, ID: c.Param("thread_id")}, true)
}

func (h *Handler) UnflagThread(c *gin.Context) {
	h.flag(c, store.Ref{Kind: store.KindThread, ID: c.Param("thread_id")}, false)
}

func (h *Handler) FlagComment(c *gin.Context) {
	h.flag(c, store.Ref{Kind: store.KindComment, ID: c.Param("comment_id")}, true)
}

func (h *Handler) UnflagComment(c *gin.Context) {
	h.flag(c, store.Ref{Kind: store.KindComment, ID: c.Param("comment_id")}, false)
}
