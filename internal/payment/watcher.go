package payment

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietcare/booking-gateway/pkg/logging"
)

// CheckChannel receives heartbeat messages the payment verifier polls against.
const CheckChannel = "payments:check"

// ResultChannel is the patient-scoped topic the verifier publishes results to.
func ResultChannel(patientID string) string {
	return "payments:result:" + patientID
}

// resultMessage is what the payment verifier publishes.
type resultMessage struct {
	Status             string `json:"status"`
	TransactionContent string `json:"transaction_content"`
}

// heartbeatMessage is the poll-fallback body published every tick.
type heartbeatMessage struct {
	AmountIn           int64  `json:"amount_in"`
	TransactionContent string `json:"transaction_content"`
}

// Watcher owns the pub/sub connection for payment confirmation.
type Watcher struct {
	rdb      *redis.Client
	logger   *logging.Logger
	interval time.Duration
}

// NewWatcher constructs a payment watcher.
func NewWatcher(rdb *redis.Client, interval time.Duration, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{rdb: rdb, logger: logger.Component("payment"), interval: interval}
}

// Watch is one active payment confirmation: a subscription to the patient's
// result channel plus a heartbeat publisher. The subscription is opened once
// per activation and reused until Stop.
type Watch struct {
	cancel context.CancelFunc
	sub    *redis.PubSub
	wg     sync.WaitGroup

	once sync.Once

	mu        sync.Mutex
	confirmed bool
	err       error
}

// Start opens the subscription and the heartbeat ticker for one payment
// session. onConfirmed runs at most once, on the first confirmation for the
// session's transaction code; its error is retained for the caller and never
// auto-retried — a duplicate appointment is worse than a manual retry.
func (w *Watcher) Start(ctx context.Context, sess *Session, patientID string, onConfirmed func(transactionCode string) error) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	watch := &Watch{cancel: cancel}

	watch.sub = w.rdb.Subscribe(ctx, ResultChannel(patientID))

	watch.wg.Add(2)
	go w.heartbeatLoop(ctx, &watch.wg, sess)
	go w.receiveLoop(ctx, watch, sess, onConfirmed)

	w.logger.Info("payment watch started",
		"patient_id", patientID,
		"transaction_code", sess.TransactionCode,
		"amount_cents", sess.AmountCents,
	)
	return watch
}

// heartbeatLoop publishes {amount_in, transaction_content} every interval
// while the watch is active, so a missed push can still be reconciled by the
// verifier's polling side.
func (w *Watcher) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, sess *Session) {
	defer wg.Done()

	payload, err := json.Marshal(heartbeatMessage{
		AmountIn:           sess.AmountCents,
		TransactionContent: sess.TransactionCode,
	})
	if err != nil {
		w.logger.Error("marshal heartbeat", "error", err)
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.rdb.Publish(ctx, CheckChannel, payload).Err(); err != nil && ctx.Err() == nil {
				w.logger.Warn("publish heartbeat", "error", err)
			}
		}
	}
}

func (w *Watcher) receiveLoop(ctx context.Context, watch *Watch, sess *Session, onConfirmed func(string) error) {
	defer watch.wg.Done()

	ch := watch.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var result resultMessage
			if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
				w.logger.Warn("malformed payment result", "error", err)
				continue
			}
			if !strings.EqualFold(result.Status, "success") {
				continue
			}
			if result.TransactionContent != "" && result.TransactionContent != sess.TransactionCode {
				continue
			}
			watch.once.Do(func() {
				sess.Confirmed = true
				watch.mu.Lock()
				watch.confirmed = true
				watch.mu.Unlock()
				if err := onConfirmed(sess.TransactionCode); err != nil {
					w.logger.Error("payment confirmed but completion failed", "error", err)
					watch.mu.Lock()
					watch.err = err
					watch.mu.Unlock()
				}
			})
		}
	}
}

// Confirmed reports whether a confirmation was received.
func (wa *Watch) Confirmed() bool {
	wa.mu.Lock()
	defer wa.mu.Unlock()
	return wa.confirmed
}

// Err returns the completion callback's failure, if any.
func (wa *Watch) Err() error {
	wa.mu.Lock()
	defer wa.mu.Unlock()
	return wa.err
}

// Stop tears the watch down: the heartbeat stops and the subscription closes
// before Stop returns. No publishes or callbacks happen afterwards.
func (wa *Watch) Stop() {
	wa.cancel()
	_ = wa.sub.Close()
	wa.wg.Wait()
}
