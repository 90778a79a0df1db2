// Package realtime следит за статусом платежа на экране ожидания решения.
//
// Одновременно открыт не больше одного канала на Watcher. Обрыв канала
// даёт переподключения с экспоненциальной задержкой; после исчерпания попыток
// остаётся только периодический опрос. Итоговый статус закрывает и канал, и опрос.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/metrics"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Poller читает текущий статус платежа. Пустой paymentID означает последний платёж пользователя.
type Poller interface {
	PaymentStatus(ctx context.Context, userID, paymentID string) (models.PaymentUpdate, error)
}

// UpdateFunc получает итоговый статус. ctx отменяется при Stop.
type UpdateFunc func(ctx context.Context, update models.PaymentUpdate)

// Watcher канал статусов одного клиента.
type Watcher struct {
	log    *slog.Logger
	source Source
	poller Poller
	cfg    config.Realtime

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	paymentID string
	wg        sync.WaitGroup
}

// NewWatcher создаёт наблюдателя.
func NewWatcher(log *slog.Logger, source Source, poller Poller, cfg config.Realtime) *Watcher {
	return &Watcher{log: log, source: source, poller: poller, cfg: cfg}
}

// Watch начинает следить за платежом, закрыв предыдущее наблюдение.
// Пустой paymentID принимает итоговый статус любого платежа пользователя.
func (w *Watcher) Watch(parent context.Context, userID, paymentID string, onUpdate UpdateFunc) {
	w.Stop()

	ctx, cancel := context.WithCancel(parent)
	log := w.log.With(slog.String("user_id", userID), slog.String("payment_id", paymentID))

	var once sync.Once
	deliver := func(u models.PaymentUpdate) {
		if !u.Status.Terminal() || (paymentID != "" && u.PaymentID != paymentID) {
			return
		}
		once.Do(func() {
			onUpdate(ctx, u)
			cancel()
		})
	}

	w.mu.Lock()
	w.ctx, w.cancel, w.paymentID = ctx, cancel, paymentID
	w.wg.Add(2)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.listen(ctx, log, userID, deliver)
	}()
	go func() {
		defer w.wg.Done()
		w.poll(ctx, log, userID, paymentID, deliver)
	}()
}

// Stop закрывает канал и опрос и дожидается их завершения.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel, w.ctx, w.paymentID = nil, nil, ""
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Watching возвращает платёж, за которым идёт наблюдение. ok == false, если наблюдения нет
// или оно завершилось итоговым статусом.
func (w *Watcher) Watching() (paymentID string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil || w.ctx.Err() != nil {
		return "", false
	}
	return w.paymentID, true
}

func (w *Watcher) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.BaseDelay
	exp.MaxInterval = w.cfg.MaxDelay
	exp.RandomizationFactor = w.cfg.Jitter
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(w.cfg.MaxRetries, 0))), ctx)
}

func (w *Watcher) listen(ctx context.Context, log *slog.Logger, userID string, deliver func(models.PaymentUpdate)) {
	b := w.newBackOff(ctx)
	for {
		sub, err := w.source.Subscribe(ctx, userID)
		if err != nil {
			log.Warn("payment channel subscribe failed", sl.Err(err))
		} else {
			dropped := w.consume(ctx, sub, b, deliver)
			_ = sub.Close()
			if !dropped {
				return
			}
			log.Info("payment channel dropped")
		}
		if ctx.Err() != nil {
			return
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			if ctx.Err() == nil {
				metrics.RecordPollingFallback()
				log.Info("payment channel abandoned, polling only")
			}
			return
		}
		metrics.RecordReconnect()
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// consume читает канал до обрыва. true, если канал оборвался сам.
// Счётчик попыток сбрасывается после первого сообщения.
func (w *Watcher) consume(ctx context.Context, sub Subscription, b backoff.BackOff, deliver func(models.PaymentUpdate)) bool {
	healthy := false
	for {
		select {
		case <-ctx.Done():
			return false
		case u, ok := <-sub.Updates():
			if !ok {
				return ctx.Err() == nil
			}
			if !healthy {
				healthy = true
				b.Reset()
			}
			deliver(u)
		}
	}
}

func (w *Watcher) poll(ctx context.Context, log *slog.Logger, userID, paymentID string, deliver func(models.PaymentUpdate)) {
	if w.poller == nil || w.cfg.PollInterval <= 0 {
		return
	}
	check := func() {
		u, err := w.poller.PaymentStatus(ctx, userID, paymentID)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug("payment status poll failed", sl.Err(err))
			}
			return
		}
		deliver(u)
	}

	check()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
