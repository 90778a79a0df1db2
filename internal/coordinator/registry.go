package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Registry координаторы вкладок по ключу "client/tab". Вкладки одного клиента
// делят сессию и сохранённые поля.
type Registry struct {
	log     *slog.Logger
	deps    Deps
	idleTTL time.Duration

	mu       sync.Mutex
	coords   map[string]*Coordinator
	browsers map[string]*browser
	closed   bool
}

// NewRegistry создаёт реестр. Координатор без обращений дольше idleTTL выгружается.
func NewRegistry(log *slog.Logger, deps Deps) *Registry {
	ttl := deps.Navigation.IdleClientTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		log:      log,
		deps:     deps,
		idleTTL:  ttl,
		coords:   make(map[string]*Coordinator),
		browsers: make(map[string]*browser),
	}
}

// Get возвращает координатор вкладки, создавая его при первом обращении.
// Ключ без вкладки относится к вкладке клиента по умолчанию.
func (r *Registry) Get(key string) (*Coordinator, error) {
	clientID, tab, _ := strings.Cut(key, "/")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if c, ok := r.coords[key]; ok {
		c.touch()
		return c, nil
	}
	b, ok := r.browsers[clientID]
	if !ok {
		b = openBrowser(r.log.With(slog.String("client_id", clientID)), clientID, r.deps)
		r.browsers[clientID] = b
	}
	b.pages++
	c := newPage(r.log.With(slog.String("client_id", clientID)), clientID, tab, r.deps, b)
	r.coords[key] = c
	return c, nil
}

// Len число координаторов в памяти.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coords)
}

// release отпускает вкладку клиента. Возвращает общее состояние, если вкладок
// клиента больше нет. Вызывается под r.mu.
func (r *Registry) release(c *Coordinator) *browser {
	b, ok := r.browsers[c.id]
	if !ok {
		return nil
	}
	b.pages--
	if b.pages > 0 {
		return nil
	}
	delete(r.browsers, c.id)
	return b
}

// Evict выгружает координаторы, простаивающие дольше idleTTL.
func (r *Registry) Evict(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var idle []*Coordinator
	var gone []*browser
	for key, c := range r.coords {
		if now.Sub(c.LastSeen()) > r.idleTTL {
			idle = append(idle, c)
			delete(r.coords, key)
			if b := r.release(c); b != nil {
				gone = append(gone, b)
			}
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Close(ctx)
	}
	for _, b := range gone {
		b.cache.Close(ctx)
	}
	if len(idle) > 0 {
		r.log.Debug("evicted idle coordinators", slog.Int("count", len(idle)), slog.Int("clients", len(gone)))
	}
	return len(idle)
}

// Run периодически выгружает простаивающие координаторы до отмены ctx.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Evict(ctx, now)
		}
	}
}

// Close останавливает все координаторы и записывает отложенные поля клиентов.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	coords := r.coords
	browsers := r.browsers
	r.coords = make(map[string]*Coordinator)
	r.browsers = make(map[string]*browser)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range coords {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			c.Close(ctx)
		}(c)
	}
	wg.Wait()

	for _, b := range browsers {
		b.cache.Close(ctx)
	}
}
