package kafka

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/psds-microservice/support-desk/internal/model"
	"github.com/segmentio/kafka-go"
)

// Событийные имена топика тикетов.
const (
	EventTicketCreated = "ticket.created"
	EventMessageAdded  = "ticket.message_added"
	EventStatusChanged = "ticket.status_changed"
	EventTicketDeleted = "ticket.deleted"
)

// TicketEventProducer — интерфейс для отправки событий тикета в Kafka
// (для подмены моком в тестах).
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует API).
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// TicketPayload собирает полезную нагрузку события из тикета.
func TicketPayload(t *model.Ticket) map[string]interface{} {
	if t == nil {
		return nil
	}
	return map[string]interface{}{
		"ticket_id":  t.ID,
		"user_id":    t.UserID,
		"user_email": t.UserEmail,
		"subject":    t.Subject,
		"status":     string(t.Status),
	}
}

// ProduceTicketEvent отправляет событие тикета в топик.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg := map[string]interface{}{"event": event}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		log.Printf("kafka: marshal ticket event: %v", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		log.Printf("kafka: write ticket event: %v", err)
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// ParseBrokers разбивает строку брокеров "host1:9092,host2:9092" на слайс.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
