package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Viewer — аутентифицированная личность зрителя, разрешённая внешним
// слоем авторизации. Сервис ей доверяет и сам ничего не проверяет:
// идентичность передаётся явно в каждый вызов, без глобального состояния.
type Viewer struct {
	ID    string
	Email string
	Admin bool
}

const viewerKey = "viewer"

// ViewerIdentity читает личность зрителя из заголовков запроса
// (X-Viewer-Id, X-Viewer-Email, X-Viewer-Admin). Без X-Viewer-Id — 401.
func ViewerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Viewer-Id"))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "viewer identity required (X-Viewer-Id)"})
			return
		}
		c.Set(viewerKey, Viewer{
			ID:    id,
			Email: strings.TrimSpace(c.GetHeader("X-Viewer-Email")),
			Admin: strings.EqualFold(strings.TrimSpace(c.GetHeader("X-Viewer-Admin")), "true"),
		})
		c.Next()
	}
}

func viewerFrom(c *gin.Context) Viewer {
	v, _ := c.Get(viewerKey)
	viewer, _ := v.(Viewer)
	return viewer
}
