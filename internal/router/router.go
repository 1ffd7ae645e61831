package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-desk/api"
	"github.com/psds-microservice/support-desk/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const pathSwagger = "/swagger"

func New(ticketHandler *handler.TicketHandler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	r.GET(pathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, pathSwagger+"/") })
	r.GET(pathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = pathSwagger + "/index.html"
			c.Request.RequestURI = pathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1", handler.ViewerIdentity())
	{
		v1.POST("/tickets", ticketHandler.Create)
		v1.GET("/tickets", ticketHandler.List)
		v1.GET("/tickets/stream", ticketHandler.StreamTickets)
		v1.GET("/tickets/:id", ticketHandler.Get)
		v1.DELETE("/tickets/:id", ticketHandler.Delete)
		v1.POST("/tickets/:id/messages", ticketHandler.AddMessage)
		v1.GET("/tickets/:id/messages", ticketHandler.ListMessages)
		v1.GET("/tickets/:id/stream", ticketHandler.StreamMessages)
		v1.PATCH("/tickets/:id/status", ticketHandler.UpdateStatus)
		v1.POST("/tickets/:id/read", ticketHandler.MarkRead)
	}

	return r
}
