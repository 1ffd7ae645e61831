// Package livequery реализует живые запросы: стоячая подписка на топик,
// которая на каждое изменение доставляет подписчику полный текущий результат
// (не диф). Контракт доставки: первый вызов deliver — сразу при подписке
// (начальное состояние), далее — после каждого Publish по топику; доставки
// одной подписки строго последовательны (монотонные снапшоты per listener).
// Порядок между разными подписками не гарантируется.
package livequery

import "sync"

// Broker — реестр подписок по топикам.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[*subscription]struct{}
}

type subscription struct {
	broker  *Broker
	topic   string
	deliver func() error

	// signal ёмкостью 1: ожидающий сигнал поглощает последующие,
	// доставка всегда пересчитывает состояние целиком.
	signal chan struct{}
	done   chan struct{}

	once sync.Once

	// mu сериализует deliver и cancel: после возврата cancel
	// ни одного вызова deliver больше не будет.
	mu     sync.Mutex
	closed bool
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[*subscription]struct{})}
}

// Subscribe регистрирует подписку на топик. deliver вызывается сразу
// (начальное состояние) и после каждого Publish; ошибка deliver завершает
// подписку без ретраев. Возвращённый cancel идемпотентен и безопасен
// для многократного вызова.
func (b *Broker) Subscribe(topic string, deliver func() error) (cancel func()) {
	sub := &subscription{
		broker:  b,
		topic:   topic,
		deliver: deliver,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*subscription]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run()

	return sub.cancel
}

// Publish сигналит всем подпискам топика, что состояние изменилось.
// Не блокируется: сигнал для занятой подписки коалесцируется.
func (b *Broker) Publish(topic string) {
	b.mu.Lock()
	for sub := range b.topics[topic] {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

func (s *subscription) run() {
	if !s.dispatch() {
		return
	}
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
			if !s.dispatch() {
				return
			}
		}
	}
}

// dispatch выполняет одну доставку. false — подписка завершена
// (отменена или deliver вернул ошибку).
func (s *subscription) dispatch() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	err := s.deliver()
	s.mu.Unlock()
	if err != nil {
		s.cancel()
		return false
	}
	return true
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)

		s.broker.mu.Lock()
		set := s.broker.topics[s.topic]
		delete(set, s)
		if len(set) == 0 {
			delete(s.broker.topics, s.topic)
		}
		s.broker.mu.Unlock()
	})
}
