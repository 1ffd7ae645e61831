package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-desk/internal/errs"
	"github.com/psds-microservice/support-desk/internal/kafka"
	"github.com/psds-microservice/support-desk/internal/model"
	"github.com/psds-microservice/support-desk/internal/service"
)

type TicketHandler struct {
	svc      service.TicketServicer
	producer kafka.TicketEventProducer
}

func NewTicketHandler(svc service.TicketServicer, producer kafka.TicketEventProducer) *TicketHandler {
	return &TicketHandler{svc: svc, producer: producer}
}

// produceEvent — fire-and-forget: событие должно уйти даже при отмене
// запроса, но со своим таймаутом.
func (h *TicketHandler) produceEvent(event string, payload map[string]interface{}) {
	if h.producer == nil {
		return
	}
	eventCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		h.producer.ProduceTicketEvent(eventCtx, event, payload)
	}()
}

// canView: админ видит любой тикет, клиент — только свой.
func canView(v Viewer, t *model.Ticket) bool {
	return v.Admin || t.UserID == v.ID
}

// fetchForViewer загружает тикет и проверяет доступ. Чужой тикет для
// не-админа неотличим от несуществующего (404), чтобы не раскрывать id.
func (h *TicketHandler) fetchForViewer(c *gin.Context) (*model.Ticket, bool) {
	t, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if !canView(viewerFrom(c), t) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return nil, false
	}
	return t, true
}

type createTicketRequest struct {
	Subject string `json:"subject" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	v := viewerFrom(c)
	t, err := h.svc.Create(c.Request.Context(), v.ID, v.Email, req.Subject, req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create ticket"})
		return
	}
	h.produceEvent(kafka.EventTicketCreated, kafka.TicketPayload(t))
	c.JSON(http.StatusCreated, t)
}

func (h *TicketHandler) List(c *gin.Context) {
	v := viewerFrom(c)
	items, err := h.svc.List(c.Request.Context(), v.ID, v.Admin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   len(items),
	})
}

func (h *TicketHandler) Get(c *gin.Context) {
	t, ok := h.fetchForViewer(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) Delete(c *gin.Context) {
	v := viewerFrom(c)
	if !v.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	t, ok := h.fetchForViewer(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), t.ID); err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.produceEvent(kafka.EventTicketDeleted, kafka.TicketPayload(t))
	c.Status(http.StatusNoContent)
}

type addMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *TicketHandler) AddMessage(c *gin.Context) {
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, ok := h.fetchForViewer(c)
	if !ok {
		return
	}
	// Нормальный путь отправки принимает сообщения только в open-тикет;
	// резолвленный/закрытый тред read-only на этом уровне, не в репозитории.
	if t.Status != model.TicketStatusOpen {
		c.JSON(http.StatusConflict, gin.H{"error": "ticket is not open"})
		return
	}
	v := viewerFrom(c)
	m, err := h.svc.AddMessage(c.Request.Context(), t.ID, v.ID, v.Email, req.Message, v.Admin)
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add message"})
		return
	}
	payload := kafka.TicketPayload(t)
	payload["message_id"] = m.ID
	payload["sender_id"] = v.ID
	h.produceEvent(kafka.EventMessageAdded, payload)
	c.JSON(http.StatusCreated, m)
}

func (h *TicketHandler) ListMessages(c *gin.Context) {
	t, ok := h.fetchForViewer(c)
	if !ok {
		return
	}
	items, err := h.svc.ListMessages(c.Request.Context(), t.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": items,
		"total":    len(items),
	})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	v := viewerFrom(c)
	if !v.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if !model.ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: must be 'open', 'resolved', or 'closed'"})
		return
	}
	if err := h.svc.UpdateStatus(c.Request.Context(), c.Param("id"), model.TicketStatus(req.Status)); err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	t, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.produceEvent(kafka.EventStatusChanged, kafka.TicketPayload(t))
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) MarkRead(c *gin.Context) {
	t, ok := h.fetchForViewer(c)
	if !ok {
		return
	}
	v := viewerFrom(c)
	if err := h.svc.MarkRead(c.Request.Context(), t.ID, v.Admin); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
