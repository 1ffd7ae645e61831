// Package ticketsync держит живое состояние сессии зрителя: список тикетов
// плюс, при открытом тикете, его тред. Мост между подписками репозитория
// и слоем отображения.
package ticketsync

import (
	"context"
	"log"
	"sync"

	"github.com/psds-microservice/support-desk/internal/model"
	"github.com/psds-microservice/support-desk/internal/service"
)

// Snapshot — текущее состояние сессии для отображения. Поля открытого
// тикета берутся из последнего снапшота списка, а не кэшируются отдельно:
// смена статуса из списочной подписки видна в детали без второго запроса.
type Snapshot struct {
	Tickets  []model.Ticket  `json:"tickets"`
	Viewing  string          `json:"viewing,omitempty"`
	Ticket   *model.Ticket   `json:"ticket,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
}

// Controller — сессия одного зрителя. Start подписывает список, Open/Close
// управляют вложенным состоянием просмотра тикета, Stop снимает всё.
// Методы безопасны для конкурентного вызова; cancel-функции подписок
// вызываются на каждом пути выхода без исключений.
type Controller struct {
	svc        service.TicketServicer
	viewerID   string
	privileged bool
	onChange   func(Snapshot)

	mu         sync.Mutex
	tickets    []model.Ticket
	listCancel func()
	viewing    string
	messages   []model.Message
	msgCancel  func()
}

// NewController создаёт контроллер для зрителя. onChange вызывается после
// каждой доставки снапшота (список или тред); может быть nil.
func NewController(svc service.TicketServicer, viewerID string, privileged bool, onChange func(Snapshot)) *Controller {
	return &Controller{
		svc:        svc,
		viewerID:   viewerID,
		privileged: privileged,
		onChange:   onChange,
	}
}

// Start устанавливает подписку на список тикетов зрителя. Каждый пуш
// целиком замещает локальную коллекцию (без инкрементального слияния).
func (c *Controller) Start() error {
	cancel, err := c.svc.SubscribeTickets(c.viewerID, c.privileged, func(items []model.Ticket) {
		c.mu.Lock()
		c.tickets = items
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	prev := c.listCancel
	c.listCancel = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

// Open переводит сессию в просмотр тикета: прошлый просмотр снимается,
// открывается подписка на тред и сразу же — mark-read за сторону зрителя.
// Каждый последующий пуш треда повторяет mark-read: это покрывает
// сообщения, пришедшие пока тред открыт.
func (c *Controller) Open(ticketID string) error {
	c.closeViewing()

	c.mu.Lock()
	c.viewing = ticketID
	c.messages = nil
	c.mu.Unlock()

	cancel, err := c.svc.SubscribeMessages(ticketID, func(items []model.Message) {
		c.mu.Lock()
		if c.viewing != ticketID {
			// Поздняя доставка после переключения тикета.
			c.mu.Unlock()
			return
		}
		c.messages = items
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.markRead(ticketID)
		c.notify(snap)
	})
	if err != nil {
		c.mu.Lock()
		if c.viewing == ticketID {
			c.viewing = ""
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.viewing != ticketID {
		// Конкурирующий Open/Close успел переключить просмотр.
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.msgCancel = cancel
	c.mu.Unlock()

	c.markRead(ticketID)
	return nil
}

// Close выходит из просмотра тикета и снимает подписку на тред.
func (c *Controller) Close() {
	c.closeViewing()
}

// Stop снимает все подписки сессии. Идемпотентен.
func (c *Controller) Stop() {
	c.closeViewing()
	c.mu.Lock()
	cancel := c.listCancel
	c.listCancel = nil
	c.tickets = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot возвращает текущее состояние сессии.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// closeViewing снимает подписку треда вне мьютекса: cancel ждёт завершения
// доставки, а доставка берёт c.mu.
func (c *Controller) closeViewing() {
	c.mu.Lock()
	cancel := c.msgCancel
	c.msgCancel = nil
	c.viewing = ""
	c.messages = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Tickets: c.tickets,
		Viewing: c.viewing,
	}
	if c.viewing != "" {
		snap.Messages = c.messages
		for i := range c.tickets {
			if c.tickets[i].ID == c.viewing {
				t := c.tickets[i]
				snap.Ticket = &t
				break
			}
		}
	}
	return snap
}

// markRead — best-effort: отказ записи не трогает локальное состояние,
// источник истины — следующий пуш подписки.
func (c *Controller) markRead(ticketID string) {
	if err := c.svc.MarkRead(context.Background(), ticketID, c.privileged); err != nil {
		log.Printf("ticketsync: mark read %s: %v", ticketID, err)
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}
