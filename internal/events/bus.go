// Package events внутренняя шина событий координатора.
//
// Компоненты публикуют события, координатор разбирает очередь в своём цикле.
package events

import "sync"

// Name имя события.
type Name string

// События шины.
const (
	AppNavigate      Name = "app-navigate"
	FooterNavigate   Name = "footerNavigate"
	EmailNotVerified Name = "email-not-verified"
	EmailVerified    Name = "email-verified"
)

// Event событие с полями detail.
type Event struct {
	Name   Name   `json:"name"`
	Path   string `json:"path,omitempty"`
	Page   string `json:"page,omitempty"`
	Email  string `json:"email,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// Bus очередь событий. Безопасна для использования из нескольких горутин.
type Bus struct {
	mu    sync.Mutex
	queue []Event
}

// Publish ставит событие в очередь.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()
}

// Navigate публикует app-navigate.
func (b *Bus) Navigate(path string) {
	b.Publish(Event{Name: AppNavigate, Path: path})
}

// Drain забирает все накопленные события в порядке публикации.
func (b *Bus) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}
