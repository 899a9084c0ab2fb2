package router

import (
	"github.com/gin-gonic/gin"

	"coursetalk/internal/handlers"
	"coursetalk/internal/services"
)

func RegisterRoutes(r *gin.Engine, forum *services.Forum) {
	h := handlers.New(forum)

	api := r.Group("/api/v1")

	courses := api.Group("/courses/:course_id")
	{
		courses.POST("/threads", h.CreateThread)
		courses.GET("/threads/:thread_id", h.GetThread)
		courses.PUT("/threads/:thread_id", h.EditThread)
		courses.DELETE("/threads/:thread_id", h.DeleteThread)
		courses.PUT("/threads/:thread_id/close", h.CloseThread)
		courses.PUT("/threads/:thread_id/pin", h.PinThread)
		courses.PUT("/threads/:thread_id/votes", h.VoteThread)
		courses.PUT("/threads/:thread_id/flags", h.FlagThread)
		courses.DELETE("/threads/:thread_id/flags", h.UnflagThread)
		courses.POST("/threads/:thread_id/subscriptions", h.Subscribe)
		courses.DELETE("/threads/:thread_id/subscriptions", h.Unsubscribe)
		courses.POST("/threads/:thread_id/read", h.MarkRead)

		courses.GET("/threads/:thread_id/comments", h.ListThreadComments)
		courses.POST("/threads/:thread_id/comments", h.CreateComment)
		courses.GET("/comments/:comment_id", h.GetComment)
		courses.PUT("/comments/:comment_id", h.EditComment)
		courses.DELETE("/comments/:comment_id", h.DeleteComment)
		courses.PUT("/comments/:comment_id/votes", h.VoteComment)
		courses.PUT("/comments/:comment_id/endorse", h.EndorseComment)
		courses.PUT("/comments/:comment_id/flags", h.FlagComment)
		courses.DELETE("/comments/:comment_id/flags", h.UnflagComment)
	}

	api.GET("/users/:user_id", h.GetUser)
	api.PUT("/users/:user_id", h.UpsertUser)
}
