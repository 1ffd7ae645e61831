package errs

import (
	"errors"
	"fmt"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
)

// StoreWriteError — любой отказ create/update/delete (сеть, права, квота).
// Наверх уходит без ретраев; состояние вызывающей стороны не меняется.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// WriteError оборачивает err в StoreWriteError. nil остаётся nil.
func WriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreWriteError{Op: op, Err: err}
}

// StoreSubscribeError — живая подписка не установилась или оборвалась.
// Переподключение только по инициативе вызывающей стороны (новый Subscribe).
type StoreSubscribeError struct {
	Query string
	Err   error
}

func (e *StoreSubscribeError) Error() string {
	return fmt.Sprintf("store subscribe %s: %v", e.Query, e.Err)
}

func (e *StoreSubscribeError) Unwrap() error { return e.Err }
