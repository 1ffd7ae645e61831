package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/psds-microservice/support-desk/internal/handler"
	"github.com/psds-microservice/support-desk/internal/livequery"
	"github.com/psds-microservice/support-desk/internal/model"
	"github.com/psds-microservice/support-desk/internal/router"
	"github.com/psds-microservice/support-desk/internal/service"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (http.Handler, *service.TicketService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Ticket{}, &model.Message{}))
	svc := service.NewTicketService(db, livequery.NewBroker())
	return router.New(handler.NewTicketHandler(svc, nil)), svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, viewer map[string]string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range viewer {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var (
	customerHeaders = map[string]string{
		"X-Viewer-Id":    "cust-1",
		"X-Viewer-Email": "cust@example.com",
	}
	adminHeaders = map[string]string{
		"X-Viewer-Id":    "admin-1",
		"X-Viewer-Email": "admin@example.com",
		"X-Viewer-Admin": "true",
	}
)

func createTicket(t *testing.T, r http.Handler, viewer map[string]string) model.Ticket {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets", viewer, gin.H{
		"subject": "Billing question",
		"content": "Why was I charged twice?",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var tk model.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tk))
	return tk
}

func TestViewerIdentityRequired(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/tickets", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndList(t *testing.T) {
	r, _ := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)
	require.Equal(t, "cust-1", tk.UserID)
	require.Equal(t, model.TicketStatusOpen, tk.Status)

	w := doJSON(t, r, http.MethodGet, "/api/v1/tickets", customerHeaders, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tickets []model.Ticket `json:"tickets"`
		Total   int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, tk.ID, resp.Tickets[0].ID)
}

func TestCreateRejectsMissingFields(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets", customerHeaders, gin.H{"subject": "no content"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForeignTicketHiddenFromCustomer(t *testing.T) {
	r, _ := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)

	other := map[string]string{"X-Viewer-Id": "cust-2"}
	w := doJSON(t, r, http.MethodGet, "/api/v1/tickets/"+tk.ID, other, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/tickets/"+tk.ID, adminHeaders, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAddMessageFlipsUnreadFlag(t *testing.T) {
	r, svc := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)

	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+tk.ID+"/messages", customerHeaders, gin.H{"message": "hi"})
	require.Equal(t, http.StatusCreated, w.Code)

	got, err := svc.GetByID(context.Background(), tk.ID)
	require.NoError(t, err)
	require.True(t, got.UnreadForAdmin)
	require.False(t, got.UnreadForUser)
}

func TestAddMessageToNonOpenTicketConflicts(t *testing.T) {
	r, svc := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)
	require.NoError(t, svc.UpdateStatus(context.Background(), tk.ID, model.TicketStatusResolved))

	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+tk.ID+"/messages", customerHeaders, gin.H{"message": "hi"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdateStatusAdminOnly(t *testing.T) {
	r, _ := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)

	w := doJSON(t, r, http.MethodPatch, "/api/v1/tickets/"+tk.ID+"/status", customerHeaders, gin.H{"status": "resolved"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPatch, "/api/v1/tickets/"+tk.ID+"/status", adminHeaders, gin.H{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated model.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Equal(t, model.TicketStatusResolved, updated.Status)

	w = doJSON(t, r, http.MethodPatch, "/api/v1/tickets/"+tk.ID+"/status", adminHeaders, gin.H{"status": "reopened"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkReadEndpoint(t *testing.T) {
	r, svc := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)
	_, err := svc.AddMessage(context.Background(), tk.ID, "cust-1", "cust@example.com", "hi", false)
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost, "/api/v1/tickets/"+tk.ID+"/read", adminHeaders, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	got, err := svc.GetByID(context.Background(), tk.ID)
	require.NoError(t, err)
	require.False(t, got.UnreadForAdmin)
}

func TestDeleteAdminOnlyAndCascades(t *testing.T) {
	r, svc := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)

	w := doJSON(t, r, http.MethodDelete, "/api/v1/tickets/"+tk.ID, customerHeaders, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/tickets/"+tk.ID, adminHeaders, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, err := svc.GetByID(context.Background(), tk.ID)
	require.Error(t, err)
}

func TestListMessagesOrder(t *testing.T) {
	r, svc := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)
	for _, text := range []string{"one", "two", "three"} {
		_, err := svc.AddMessage(context.Background(), tk.ID, "cust-1", "cust@example.com", text, false)
		require.NoError(t, err)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/tickets/"+tk.ID+"/messages", customerHeaders, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Messages []model.Message `json:"messages"`
		Total    int             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Total)
	require.Equal(t, "one", resp.Messages[0].Message)
	require.Equal(t, "three", resp.Messages[2].Message)
}

func TestStreamTicketsSendsInitialSnapshot(t *testing.T) {
	r, _ := newTestRouter(t)
	createTicket(t, r, customerHeaders)

	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/tickets/stream", nil)
	require.NoError(t, err)
	for k, v := range customerHeaders {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	require.Equal(t, "snapshot", event)

	var snap struct {
		Tickets []model.Ticket `json:"tickets"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	require.Len(t, snap.Tickets, 1)
	require.Equal(t, "Billing question", snap.Tickets[0].Subject)
}

func TestStreamMessagesMarksRead(t *testing.T) {
	r, svc := newTestRouter(t)
	tk := createTicket(t, r, customerHeaders)
	_, err := svc.AddMessage(context.Background(), tk.ID, "cust-1", "cust@example.com", "hi", false)
	require.NoError(t, err)

	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/api/v1/tickets/%s/stream", srv.URL, tk.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range adminHeaders {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Открытие треда помечает тикет прочитанным за сторону зрителя.
	require.Eventually(t, func() bool {
		got, err := svc.GetByID(context.Background(), tk.ID)
		return err == nil && !got.UnreadForAdmin
	}, 2*time.Second, 10*time.Millisecond)
}
