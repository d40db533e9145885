package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"financeflow-bot/model"
	"financeflow-bot/parser"
	"financeflow-bot/store"
)

// Inbound is one user message delivered by the transport.
type Inbound struct {
	ChatID   int64
	SenderID int64
	Username string
	Text     string
}

// Reply texts sent back over the transport.
const (
	replyInvalidFormat = "Invalid message format. Please try again."
	replyUnavailable   = "Service temporarily unavailable. Please try again later."
	replyVerified      = "Your account has been verified! You can now send transactions in the format: title, category, amount, type"
	replyBadCode       = "Invalid or expired verification code. Please generate a new code from the website."
	replyNotVerified   = "Your account is not verified. Please link and verify your account first."
	replyRelink        = "Error: Account linking issue detected. Please relink your account from the website."
)

// verifyReadTimeout bounds the log-only post-write consistency read.
const verifyReadTimeout = 5 * time.Second

// LinkIntegrityError means a resolved account link failed internal
// consistency checks; nothing is persisted for the message.
type LinkIntegrityError struct {
	AccountID string
	Reason    string
}

func (e *LinkIntegrityError) Error() string {
	return fmt.Sprintf("link integrity check failed for account %q: %s", e.AccountID, e.Reason)
}

// Pipeline processes inbound messages: verification codes mutate the
// account link, everything else is validated and appended as a
// transaction. Exactly one store write and one reply per message.
type Pipeline struct {
	links  store.LinkStore
	txs    store.TransactionStore
	health *store.Health
	parser *parser.Parser
	log    zerolog.Logger
}

func New(links store.LinkStore, txs store.TransactionStore, health *store.Health, p *parser.Parser, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		links:  links,
		txs:    txs,
		health: health,
		parser: p,
		log:    log.With().Str("component", "ingest").Logger(),
	}
}

// Handle processes one message to completion and returns the reply text.
// Per-message failures are terminal: reported to the sender, logged, and
// swallowed. They are never retried and never fatal to the process.
func (p *Pipeline) Handle(ctx context.Context, in Inbound) string {
	if in.Text == "" || in.Username == "" {
		p.log.Debug().Int64("chat_id", in.ChatID).Msg("rejecting message with empty text or username")
		return replyInvalidFormat
	}

	if err := p.health.Verify(ctx); err != nil {
		p.log.Warn().Err(err).Int64("chat_id", in.ChatID).Msg("store unavailable, dropping message")
		return replyUnavailable
	}

	if parser.IsVerificationCode(in.Text) {
		return p.handleVerification(ctx, in)
	}
	return p.handleTransaction(ctx, in)
}

func (p *Pipeline) handleVerification(ctx context.Context, in Inbound) string {
	link, err := p.links.PendingByCode(ctx, in.Username, in.Text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return replyBadCode
		}
		p.log.Error().Err(err).Str("username", in.Username).Msg("pending link lookup failed")
		return replyUnavailable
	}

	if err := p.links.MarkVerified(ctx, link.AccountID, in.SenderID); err != nil {
		p.log.Error().Err(err).Str("account_id", link.AccountID).Msg("marking link verified failed")
		return replyUnavailable
	}

	p.log.Info().Str("account_id", link.AccountID).Str("username", in.Username).Msg("account link verified")
	return replyVerified
}

func (p *Pipeline) handleTransaction(ctx context.Context, in Inbound) string {
	link, err := p.links.VerifiedByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return replyNotVerified
		}
		p.log.Error().Err(err).Str("username", in.Username).Msg("verified link lookup failed")
		return replyUnavailable
	}

	if err := checkLinkIntegrity(link, in); err != nil {
		p.log.Error().Err(err).Int64("chat_id", in.ChatID).Msg("rejecting message on corrupted link")
		return replyRelink
	}

	cand, err := p.parser.Parse(in.Text)
	if err != nil {
		var verr *parser.ValidationError
		if errors.As(err, &verr) {
			p.log.Debug().Err(err).Str("account_id", link.AccountID).Msg("message failed validation")
			return verr.UserMessage()
		}
		p.log.Error().Err(err).Msg("unexpected parse failure")
		return replyInvalidFormat
	}

	now := time.Now()
	record := &model.Transaction{
		ID:            uuid.NewString(),
		AccountID:     link.AccountID,
		Title:         cand.Title,
		Description:   cand.Title,
		Category:      cand.Category,
		Amount:        cand.Amount,
		Type:          cand.Type,
		Timestamp:     now,
		Source:        model.SourceTelegram,
		ChatID:        in.ChatID,
		Username:      in.Username,
		ProcessedAt:   now,
		LinkAccountID: link.AccountID,
	}

	if err := p.txs.Append(ctx, record); err != nil {
		p.log.Error().Err(err).Str("account_id", link.AccountID).Msg("persisting transaction failed")
		return fmt.Sprintf("Failed to save transaction.\nError: %v\nPlease try again with format: title, category, amount, type", err)
	}

	p.log.Info().
		Str("id", record.ID).
		Str("account_id", record.AccountID).
		Str("category", record.Category).
		Str("amount", record.Amount.String()).
		Msg("transaction saved")

	// Consistency check only; the success reply never waits on it.
	go p.verifyWrite(record)

	return fmt.Sprintf("Transaction saved successfully!\n\nDetails:\n- Title: %s\n- Category: %s\n- Amount: %s\n- Type: %s",
		record.Title, record.Category, record.Amount.String(), record.Type)
}

// checkLinkIntegrity guards against a corrupted link silently attributing
// transactions to the wrong account: the backing identifier must look like
// a real account id and must not be the raw chat or sender identifier.
func checkLinkIntegrity(link *model.AccountLink, in Inbound) error {
	if !model.ValidAccountID(link.AccountID) {
		return &LinkIntegrityError{AccountID: link.AccountID, Reason: "malformed account identifier"}
	}
	if link.AccountID == strconv.FormatInt(in.ChatID, 10) {
		return &LinkIntegrityError{AccountID: link.AccountID, Reason: "account identifier equals chat id"}
	}
	if link.AccountID == strconv.FormatInt(in.SenderID, 10) {
		return &LinkIntegrityError{AccountID: link.AccountID, Reason: "account identifier equals sender id"}
	}
	return nil
}

func (p *Pipeline) verifyWrite(record *model.Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), verifyReadTimeout)
	defer cancel()

	got, err := p.txs.LastByAccount(ctx, record.AccountID)
	if err != nil {
		p.log.Warn().Err(err).Str("id", record.ID).Msg("post-write verification read failed")
		return
	}
	if got.ID != record.ID {
		p.log.Warn().
			Str("expected", record.ID).
			Str("got", got.ID).
			Msg("post-write verification read returned a different record")
		return
	}
	p.log.Debug().Str("id", record.ID).Msg("post-write verification read confirmed")
}
