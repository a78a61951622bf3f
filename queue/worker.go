// Package queue runs the optional order-queue worker of spec §6: a
// background consumer that BLPOPs serialized orders off Redis and submits
// them through the exchange with no response channel back to the pusher.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/epic1st/paperfx/engine"
	"github.com/epic1st/paperfx/logging"
	"github.com/epic1st/paperfx/metrics"
	"github.com/epic1st/paperfx/storage"
)

// Source is the BLPOP-capable queue backend; storage.RedisCache satisfies
// it. The worker still imports storage for ErrNotFound.
type Source interface {
	BLPopOrder(ctx context.Context, timeout time.Duration) ([]byte, error)
	QueueDepth(ctx context.Context) (int64, error)
}

// Submitter is the subset of *exchange.Exchange the worker needs.
type Submitter interface {
	SubmitOrder(ctx context.Context, userID string, req engine.OrderRequest) engine.OrderResult
}

// queuedOrder is the wire shape pushed onto orders_queue.
type queuedOrder struct {
	UserID string             `json:"user_id"`
	Order  engine.OrderRequest `json:"order"`
}

// Worker drains the queue in a loop until its context is cancelled.
type Worker struct {
	source     Source
	exchange   Submitter
	popTimeout time.Duration
}

func NewWorker(source Source, exchange Submitter) *Worker {
	return &Worker{source: source, exchange: exchange, popTimeout: 5 * time.Second}
}

// Run blocks, processing queued orders until ctx is cancelled. It is meant
// to be started as its own goroutine from the composition root.
func (w *Worker) Run(ctx context.Context) {
	logging.Info("order queue worker starting", logging.Component("queue"))
	for {
		select {
		case <-ctx.Done():
			logging.Info("order queue worker stopping", logging.Component("queue"))
			return
		default:
		}

		if depth, err := w.source.QueueDepth(ctx); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}

		payload, err := w.source.BLPopOrder(ctx, w.popTimeout)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
			case errors.Is(err, storage.ErrNotFound):
				// timed out with nothing queued; routine, loop back around
			default:
				logging.Error("order queue blpop failed", err, logging.Component("queue"))
				time.Sleep(time.Second)
			}
			continue
		}

		w.process(ctx, payload)
	}
}

func (w *Worker) process(ctx context.Context, payload []byte) {
	var queued queuedOrder
	if err := json.Unmarshal(payload, &queued); err != nil {
		logging.Error("failed to decode queued order", err, logging.Component("queue"))
		return
	}

	result := w.exchange.SubmitOrder(ctx, queued.UserID, queued.Order)
	if !result.Success {
		logging.Warn("queued order rejected",
			logging.UserID(queued.UserID),
			logging.Symbol(queued.Order.Symbol),
			logging.Any("code", string(result.Code)))
	}
}
