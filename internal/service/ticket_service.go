package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/support-desk/internal/errs"
	"github.com/psds-microservice/support-desk/internal/livequery"
	"github.com/psds-microservice/support-desk/internal/model"
	"gorm.io/gorm"
)

// Топики брокера: список тикетов и тред сообщений конкретного тикета.
const topicTickets = "tickets"

func topicMessages(ticketID string) string {
	return "tickets/" + ticketID + "/messages"
}

// TicketServicer — интерфейс репозитория тикетов для хендлеров и
// контроллера синхронизации (подмена моком в тестах).
type TicketServicer interface {
	Create(ctx context.Context, userID, userEmail, subject, content string) (*model.Ticket, error)
	GetByID(ctx context.Context, id string) (*model.Ticket, error)
	List(ctx context.Context, viewerID string, privileged bool) ([]model.Ticket, error)
	ListMessages(ctx context.Context, ticketID string) ([]model.Message, error)
	AddMessage(ctx context.Context, ticketID, userID, userEmail, text string, adminSender bool) (*model.Message, error)
	UpdateStatus(ctx context.Context, ticketID string, status model.TicketStatus) error
	MarkRead(ctx context.Context, ticketID string, privileged bool) error
	Delete(ctx context.Context, ticketID string) error
	SubscribeTickets(viewerID string, privileged bool, onUpdate func([]model.Ticket)) (func(), error)
	SubscribeMessages(ticketID string, onUpdate func([]model.Message)) (func(), error)
}

// TicketService — типизированный доступ к тикетам и сообщениям поверх БД,
// плюс живые подписки через брокер. Бизнес-правил о переходах статусов
// здесь нет: легальность действия — забота вызывающего слоя.
type TicketService struct {
	db     *gorm.DB
	broker *livequery.Broker
}

func NewTicketService(db *gorm.DB, broker *livequery.Broker) *TicketService {
	return &TicketService{db: db, broker: broker}
}

// Create создаёт тикет со статусом open и сброшенными флагами непрочитанного.
func (s *TicketService) Create(ctx context.Context, userID, userEmail, subject, content string) (*model.Ticket, error) {
	t := &model.Ticket{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserEmail: userEmail,
		Subject:   subject,
		Content:   content,
		Status:    model.TicketStatusOpen,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, errs.WriteError("create ticket", err)
	}
	s.broker.Publish(topicTickets)
	return t, nil
}

func (s *TicketService) GetByID(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// List — одноразовая выборка тикетов для зрителя: админ видит все,
// обычный пользователь — только свои. Порядок — created_at по убыванию.
func (s *TicketService) List(ctx context.Context, viewerID string, privileged bool) ([]model.Ticket, error) {
	items, err := s.queryTickets(s.db.WithContext(ctx), viewerID, privileged)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *TicketService) queryTickets(tx *gorm.DB, viewerID string, privileged bool) ([]model.Ticket, error) {
	var items []model.Ticket
	if privileged {
		if err := tx.Order("created_at DESC").Find(&items).Error; err != nil {
			return nil, err
		}
		return items, nil
	}
	if err := tx.Where("user_id = ?", viewerID).Find(&items).Error; err != nil {
		return nil, err
	}
	// Сортировка на клиенте: ещё не материализованный серверный timestamp
	// считаем "сейчас", чтобы свежесозданный тикет встал наверх.
	sortTicketsDesc(items)
	return items, nil
}

func sortTicketsDesc(items []model.Ticket) {
	now := time.Now()
	at := func(t *model.Ticket) time.Time {
		if t.CreatedAt.IsZero() {
			return now
		}
		return t.CreatedAt
	}
	sort.SliceStable(items, func(i, j int) bool {
		return at(&items[i]).After(at(&items[j]))
	})
}

// ListMessages возвращает тред тикета в порядке создания.
func (s *TicketService) ListMessages(ctx context.Context, ticketID string) ([]model.Message, error) {
	return s.queryMessages(s.db.WithContext(ctx), ticketID)
}

func (s *TicketService) queryMessages(tx *gorm.DB, ticketID string) ([]model.Message, error) {
	var items []model.Message
	if err := tx.Where("ticket_id = ?", ticketID).
		Order("created_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// AddMessage добавляет реплику и в той же транзакции обновляет родительский
// тикет: updated_at и флаг непрочитанного противоположной стороны
// (админ пишет ⇒ unread_for_user, клиент пишет ⇒ unread_for_admin).
func (s *TicketService) AddMessage(ctx context.Context, ticketID, userID, userEmail, text string, adminSender bool) (*model.Message, error) {
	m := &model.Message{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		UserID:    userID,
		UserEmail: userEmail,
		Message:   text,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.Ticket
		if err := tx.Select("id").First(&t, "id = ?", ticketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrTicketNotFound
			}
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		unreadCol := "unread_for_admin"
		if adminSender {
			unreadCol = "unread_for_user"
		}
		return tx.Model(&model.Ticket{}).Where("id = ?", ticketID).
			UpdateColumns(map[string]interface{}{
				unreadCol:    true,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			return nil, err
		}
		return nil, errs.WriteError("add message", err)
	}
	s.broker.Publish(topicMessages(ticketID))
	s.broker.Publish(topicTickets)
	return m, nil
}

// UpdateStatus выставляет статус и обновляет updated_at. Граф переходов
// здесь не проверяется.
func (s *TicketService) UpdateStatus(ctx context.Context, ticketID string, status model.TicketStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Ticket{}).Where("id = ?", ticketID).
		UpdateColumns(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return errs.WriteError("update status", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrTicketNotFound
	}
	s.broker.Publish(topicTickets)
	return nil
}

// MarkRead сбрасывает флаг непрочитанного для стороны зрителя. Идемпотентен.
func (s *TicketService) MarkRead(ctx context.Context, ticketID string, privileged bool) error {
	col := "unread_for_user"
	if privileged {
		col = "unread_for_admin"
	}
	// UpdateColumn: mark-read не трогает updated_at, это не активность в тикете.
	res := s.db.WithContext(ctx).Model(&model.Ticket{}).Where("id = ?", ticketID).
		UpdateColumn(col, false)
	if res.Error != nil {
		return errs.WriteError("mark read", res.Error)
	}
	if res.RowsAffected == 0 {
		// Update без изменения значения всё равно трогает строку в Postgres;
		// 0 строк означает отсутствие тикета.
		return errs.ErrTicketNotFound
	}
	s.broker.Publish(topicTickets)
	return nil
}

// Delete удаляет тикет вместе с сообщениями (каскад в одной транзакции).
func (s *TicketService) Delete(ctx context.Context, ticketID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ticket_id = ?", ticketID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", ticketID).Delete(&model.Ticket{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrTicketNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			return err
		}
		return errs.WriteError("delete ticket", err)
	}
	s.broker.Publish(topicTickets)
	s.broker.Publish(topicMessages(ticketID))
	return nil
}

// SubscribeTickets — живой запрос списка тикетов зрителя. onUpdate получает
// полный текущий результат: сразу при подписке и после каждого изменения.
// Возвращённый cancel обязателен к вызову на каждом пути завершения.
func (s *TicketService) SubscribeTickets(viewerID string, privileged bool, onUpdate func([]model.Ticket)) (func(), error) {
	// Пробный запрос: ошибка установления подписки — сразу вызывающему.
	if _, err := s.queryTickets(s.db, viewerID, privileged); err != nil {
		return nil, &errs.StoreSubscribeError{Query: topicTickets, Err: err}
	}
	cancel := s.broker.Subscribe(topicTickets, func() error {
		items, err := s.queryTickets(s.db, viewerID, privileged)
		if err != nil {
			return err
		}
		onUpdate(items)
		return nil
	})
	return cancel, nil
}

// SubscribeMessages — живой запрос треда тикета, created_at по возрастанию.
func (s *TicketService) SubscribeMessages(ticketID string, onUpdate func([]model.Message)) (func(), error) {
	topic := topicMessages(ticketID)
	if _, err := s.queryMessages(s.db, ticketID); err != nil {
		return nil, &errs.StoreSubscribeError{Query: topic, Err: err}
	}
	cancel := s.broker.Subscribe(topic, func() error {
		items, err := s.queryMessages(s.db, ticketID)
		if err != nil {
			return err
		}
		onUpdate(items)
		return nil
	})
	return cancel, nil
}
