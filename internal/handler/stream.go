package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-desk/internal/ticketsync"
)

// pushSnapshot кладёт снапшот в канал, вытесняя неотправленный устаревший:
// каждый снапшот — полное состояние, доставлять промежуточные не обязательно.
func pushSnapshot(updates chan ticketsync.Snapshot, snap ticketsync.Snapshot) {
	for {
		select {
		case updates <- snap:
			return
		default:
			select {
			case <-updates:
			default:
			}
		}
	}
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
}

// StreamTickets — SSE: полный снапшот списка тикетов зрителя на каждое
// изменение, начиная с текущего состояния. Подписка живёт, пока клиент
// держит соединение; обрыв снимает её безусловно.
func (h *TicketHandler) StreamTickets(c *gin.Context) {
	v := viewerFrom(c)
	updates := make(chan ticketsync.Snapshot, 1)
	ctrl := ticketsync.NewController(h.svc, v.ID, v.Admin, func(snap ticketsync.Snapshot) {
		pushSnapshot(updates, snap)
	})
	if err := ctrl.Start(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscription failed"})
		return
	}
	defer ctrl.Stop()

	sseHeaders(c)
	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case snap := <-updates:
			c.SSEvent("snapshot", snap)
			return true
		}
	})
}

// StreamMessages — SSE: снапшоты треда открытого тикета. Открытие помечает
// тикет прочитанным за сторону зрителя, как и каждый пуш, пока тред открыт.
func (h *TicketHandler) StreamMessages(c *gin.Context) {
	t, ok := h.fetchForViewer(c)
	if !ok {
		return
	}
	v := viewerFrom(c)
	updates := make(chan ticketsync.Snapshot, 1)
	ctrl := ticketsync.NewController(h.svc, v.ID, v.Admin, func(snap ticketsync.Snapshot) {
		pushSnapshot(updates, snap)
	})
	if err := ctrl.Start(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscription failed"})
		return
	}
	defer ctrl.Stop()
	if err := ctrl.Open(t.ID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscription failed"})
		return
	}

	sseHeaders(c)
	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case snap := <-updates:
			c.SSEvent("snapshot", snap)
			return true
		}
	})
}
