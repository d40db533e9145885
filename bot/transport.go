package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gopkg.in/telebot.v3"
)

// Transport is the long-lived messaging connection owned by the Manager.
type Transport interface {
	// Probe is a lightweight "who am I" call used to detect a stale
	// connection. It must respect ctx cancellation.
	Probe(ctx context.Context) error
	StartPolling()
	StopPolling()
	// Polling reports whether the instance is currently long polling.
	Polling() bool
	Send(chatID int64, text string) error
}

// EventKind classifies transport-emitted error events.
type EventKind int

const (
	EventTransportError EventKind = iota
	EventPollingError
)

// Event is a transport/polling failure surfaced to the Manager. The
// generation ties the event to the transport instance that emitted it.
type Event struct {
	Kind       EventKind
	Generation uint64
	Err        error
}

// telegramTransport adapts a telebot bot to the Transport interface.
// Polling runs on its own goroutine; Stop blocks until the poller exits.
type telegramTransport struct {
	bot *telebot.Bot

	mu      sync.Mutex
	polling bool
}

func newTelegramTransport(b *telebot.Bot) *telegramTransport {
	return &telegramTransport{bot: b}
}

func (t *telegramTransport) StartPolling() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.polling {
		return
	}
	t.polling = true
	go t.bot.Start()
}

func (t *telegramTransport) Polling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polling
}

func (t *telegramTransport) StopPolling() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.polling {
		return
	}
	t.polling = false
	t.bot.Stop()
}

// Probe issues a raw getMe bounded by ctx. The underlying call has no
// context support, so a timed-out probe is abandoned rather than
// interrupted.
func (t *telegramTransport) Probe(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Raw("getMe", nil)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("getMe: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *telegramTransport) Send(chatID int64, text string) error {
	_, err := t.bot.Send(&telebot.User{ID: chatID}, text)
	return err
}

// longPollTimeout matches the poller timeout used for the Telegram long
// poll itself, distinct from the manager's probe timeout.
const longPollTimeout = 10 * time.Second
