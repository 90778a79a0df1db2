// Package persist сохраняет часть состояния экранов клиента между перезагрузками.
//
// Запись идёт через окно схлопывания: серия изменений за окно даёт одну запись в хранилище.
// Ошибки хранилища только логируются, поля в этом случае остаются по умолчанию.
package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
)

// DefaultDebounce окно схлопывания записей.
const DefaultDebounce = 500 * time.Millisecond

const ioTimeout = 5 * time.Second

// Scope чьи данные очищаются при выходе.
type Scope struct {
	ClientID string
	UserID   string
}

// Clearer кэш другого компонента, который очищается вместе с хранилищем клиента.
type Clearer interface {
	Clear(ctx context.Context, scope Scope) error
}

// Cache поля одного клиента.
type Cache struct {
	log      *slog.Logger
	store    Store
	clientID string
	debounce time.Duration
	clearers []Clearer

	// io сериализует запись и очистку, чтобы отложенная запись не вернула данные после Clear
	io sync.Mutex

	mu      sync.Mutex
	fields  Fields
	pending bool
	timer   *time.Timer
	closed  bool
}

// Load создаёт кэш и один раз читает сохранённые поля.
func Load(ctx context.Context, log *slog.Logger, store Store, clientID string, debounce time.Duration, clearers ...Clearer) *Cache {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	c := &Cache{
		log:      log.With(slog.String("client_id", clientID)),
		store:    store,
		clientID: clientID,
		debounce: debounce,
		clearers: clearers,
	}

	raw, err := store.LoadLocal(ctx, clientID)
	if err != nil {
		c.log.Warn("failed to load persisted fields", sl.Err(err))
		return c
	}
	if _, ok := raw[legacyShowSubscription]; ok {
		if err := store.DeleteLocal(ctx, clientID, legacyShowSubscription); err != nil {
			c.log.Warn("failed to drop legacy key", sl.Err(err))
		}
	}
	fields, bad := decode(raw)
	if len(bad) > 0 {
		c.log.Warn("ignored corrupted persisted fields", slog.Any("keys", bad))
	}
	c.fields = fields
	return c
}

// Fields текущие поля.
func (c *Cache) Fields() Fields {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields
}

// Write запоминает поля и откладывает запись на окно схлопывания.
func (c *Cache) Write(f Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (f == c.fields && !c.pending) {
		return
	}
	c.fields = f
	c.pending = true
	if c.timer == nil {
		c.timer = time.AfterFunc(c.debounce, c.flushLater)
		return
	}
	c.timer.Reset(c.debounce)
}

func (c *Cache) flushLater() {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	c.Flush(ctx)
}

// Flush сразу записывает отложенные изменения.
func (c *Cache) Flush(ctx context.Context) {
	c.io.Lock()
	defer c.io.Unlock()

	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return
	}
	fields := c.fields
	c.pending = false
	c.mu.Unlock()

	values, err := fields.encode()
	if err != nil {
		c.log.Error("failed to encode persisted fields", sl.Err(err))
		return
	}
	if err := c.store.SaveLocal(ctx, c.clientID, values); err != nil {
		c.log.Warn("failed to persist fields", sl.Err(err))
	}
}

// Remember сохраняет значение на время сессии браузера.
func (c *Cache) Remember(ctx context.Context, key, value string) {
	if err := c.store.SetSession(ctx, c.clientID, key, value); err != nil {
		c.log.Warn("failed to write session value", slog.String("key", key), sl.Err(err))
	}
}

// Recall читает значение сессии браузера.
func (c *Cache) Recall(ctx context.Context, key string) string {
	v, err := c.store.GetSession(ctx, c.clientID, key)
	if err != nil {
		c.log.Warn("failed to read session value", slog.String("key", key), sl.Err(err))
	}
	return v
}

// Forget удаляет значение сессии браузера.
func (c *Cache) Forget(ctx context.Context, key string) {
	if err := c.store.DeleteSession(ctx, c.clientID, key); err != nil {
		c.log.Warn("failed to delete session value", slog.String("key", key), sl.Err(err))
	}
}

// Clear отменяет отложенную запись и удаляет всё хранилище клиента и кэши других компонентов.
func (c *Cache) Clear(ctx context.Context, userID string) {
	c.io.Lock()
	defer c.io.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = false
	c.fields = Fields{}
	c.mu.Unlock()

	if err := c.store.Clear(ctx, c.clientID); err != nil {
		c.log.Warn("failed to clear client storage", sl.Err(err))
	}
	scope := Scope{ClientID: c.clientID, UserID: userID}
	for _, cl := range c.clearers {
		if err := cl.Clear(ctx, scope); err != nil {
			c.log.Warn("failed to clear collaborator cache", sl.Err(err))
		}
	}
}

// Close записывает отложенные изменения и перестаёт принимать новые.
func (c *Cache) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	c.Flush(ctx)
}
