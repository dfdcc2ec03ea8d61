package realtime

import (
	"encoding/json"
	"fmt"

	"wealthflow/internal/core"
	"wealthflow/internal/log"
	"wealthflow/internal/metrics"
)

// Handlers has one slot per event tag. Nil slots drop their events.
type Handlers struct {
	BalanceUpdate func(BalanceUpdate)
	Transfer      func(TransferSuccess)
	Expense       func(core.Transaction)
	Notification  func(core.Notification)
}

// Router decodes envelopes and hands each to the handler for its tag
type Router struct {
	h      Handlers
	logger *log.Logger
}

func NewRouter(h Handlers, logger *log.Logger) *Router {
	return &Router{h: h, logger: log.OrNop(logger).WithComponent(log.ComponentRealtime)}
}

// Dispatch routes env. It reports whether a handler ran; unknown tags are
// ignored without error.
func (r *Router) Dispatch(env Envelope) (handled bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			handled, err = false, fmt.Errorf("handler for %s panicked: %v", env.Type, rec)
		}
	}()

	switch env.Type {
	case TypeBalanceUpdate:
		return dispatch(env, r.h.BalanceUpdate)
	case TypeTransferSuccess, TypeTransfer:
		return dispatch(env, r.h.Transfer)
	case TypeExpense:
		return dispatch(env, r.h.Expense)
	case TypeNotification:
		return dispatch(env, r.h.Notification)
	default:
		r.logger.Debug("Ignoring unknown event", log.FieldEventType, env.Type)
		return false, nil
	}
}

func dispatch[T any](env Envelope, fn func(T)) (bool, error) {
	if fn == nil {
		return false, nil
	}
	var v T
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return false, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	metrics.RecordRealtimeEvent(env.Type, "in")
	fn(v)
	return true, nil
}
