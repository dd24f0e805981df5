package core

import (
	"github.com/gin-gonic/gin"

	"vuosikello/pkg/access"
	"vuosikello/pkg/auth"
)

// Register mounts the API under router. Every route except /health needs a
// verified token and a tenant membership.
func Register(router gin.IRouter, h Handlers, verifier *auth.Verifier, repository Repository) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1", Authenticate(verifier), RequireTenant(repository))

	can := Authorize

	api.GET("/tenant", can(access.ViewCalendar), h.GetTenant)

	api.GET("/events", can(access.ViewCalendar), h.ListEvents)
	api.POST("/events", can(access.CreateEvent), h.PostEvents)
	api.POST("/events/import", can(access.ImportEvents), h.ImportEvents)
	api.GET("/events/:id", can(access.ViewCalendar), h.GetEvent)
	api.PUT("/events/:id", can(access.EditEvent), h.PutEvent)
	api.DELETE("/events/:id", can(access.DeleteEvent), h.DeleteEvent)

	api.GET("/events/:id/comments", can(access.ViewCalendar), h.ListComments)
	api.POST("/events/:id/comments", can(access.Comment), h.PostComment)
	api.DELETE("/comments/:id", can(access.Comment), h.DeleteComment)

	api.GET("/event-types", can(access.ViewCalendar), h.ListEventTypes)
	api.POST("/event-types", can(access.ManageEventTypes), h.PostEventType)
	api.DELETE("/event-types/:id", can(access.ManageEventTypes), h.DeleteEventType)

	api.GET("/tasks", can(access.ViewCalendar), h.ListTasks)
	api.POST("/tasks", can(access.CreateTask), h.PostTask)
	api.PUT("/tasks/:id", can(access.EditTask), h.PutTask)
	api.DELETE("/tasks/:id", can(access.DeleteTask), h.DeleteTask)

	api.GET("/calendar/view", can(access.ViewCalendar), h.CalendarView)
	api.GET("/calendar/agenda", can(access.ExportAgenda), h.Agenda)

	api.GET("/members", can(access.ViewCalendar), h.ListMembers)
	api.POST("/members", can(access.ManageMembers), h.PostMember)
	api.DELETE("/members/:user_id", can(access.ManageMembers), h.DeleteMember)

	api.GET("/ws", can(access.ViewCalendar), h.Stream)
}
