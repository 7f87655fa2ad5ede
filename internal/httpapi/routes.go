package httpapi

import "github.com/gin-gonic/gin"

// Register mounts the API. public takes unauthenticated routes and protected
// must already carry the access token middleware.
func Register(public, protected *gin.RouterGroup, h Handlers, ev *Events) {
	authGroup := public.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	callsGroup := protected.Group("/calls")
	{
		callsGroup.POST("", h.PlaceCall)
		if ev != nil {
			callsGroup.GET("/events", ev.Serve)
		}
		callsGroup.GET("/:call_id", h.GetCall)
		callsGroup.GET("/:call_id/events", h.CallEvents)
		callsGroup.POST("/:call_id/answer", h.Answer)
		callsGroup.POST("/:call_id/reject", h.Reject)
		callsGroup.POST("/:call_id/hangup", h.HangUp)
	}

	historyGroup := protected.Group("/history")
	{
		historyGroup.GET("", h.ListHistory)
		historyGroup.GET("/summary", h.Summary)
	}
}
