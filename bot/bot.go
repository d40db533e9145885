package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/telebot.v3"

	"financeflow-bot/ingest"
)

// MessageHandler turns one inbound message into a reply.
type MessageHandler interface {
	Handle(ctx context.Context, in ingest.Inbound) string
}

// handleTimeout bounds the processing of a single inbound message.
const handleTimeout = 30 * time.Second

// Bot wires the Telegram transport to the ingestion pipeline and hands
// instance ownership to the connection manager.
type Bot struct {
	Manager  *Manager
	pipeline MessageHandler
	log      zerolog.Logger
}

// New builds the bot around a transport factory for the given token. The
// manager owns the only transport handle; nothing else holds one.
func New(token string, pipeline MessageHandler, opts Options, log zerolog.Logger) *Bot {
	b := &Bot{
		pipeline: pipeline,
		log:      log.With().Str("component", "bot").Logger(),
	}
	b.Manager = NewManager(b.factory(token), opts, log)
	return b
}

// factory builds one transport generation: a telebot long poller with the
// message handlers registered and error events forwarded to the manager
// tagged with this generation.
func (b *Bot) factory(token string) Factory {
	return func(gen uint64, report func(Event)) (Transport, error) {
		pref := telebot.Settings{
			Token:  token,
			Poller: &telebot.LongPoller{Timeout: longPollTimeout},
			OnError: func(err error, _ telebot.Context) {
				report(Event{Kind: EventPollingError, Generation: gen, Err: err})
			},
		}

		tb, err := telebot.NewBot(pref)
		if err != nil {
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}

		tb.Handle("/start", b.handleStart)
		tb.Handle(telebot.OnText, b.handleText)

		return newTelegramTransport(tb), nil
	}
}

func (b *Bot) handleStart(c telebot.Context) error {
	username := ""
	if c.Sender() != nil {
		username = c.Sender().Username
	}
	return c.Send(startMessage(username))
}

func (b *Bot) handleText(c telebot.Context) error {
	if c.Sender() == nil || c.Chat() == nil {
		return nil
	}
	in := ingest.Inbound{
		ChatID:   c.Chat().ID,
		SenderID: c.Sender().ID,
		Username: c.Sender().Username,
		Text:     strings.TrimSpace(c.Text()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	reply := b.pipeline.Handle(ctx, in)
	b.log.Debug().Int64("chat_id", in.ChatID).Msg("sending reply")
	return c.Send(reply)
}

func startMessage(username string) string {
	return fmt.Sprintf(`Welcome to FinanceFlow Bot!
To link your account, please:
1. Go to the FinanceFlow web app
2. Navigate to Settings
3. Click "Link Telegram Account"
4. Enter your Telegram username: @%s
5. Send the verification code here`, username)
}
