// Package bot is the dispatch layer: it maps chat events (commands, free
// text, button taps) onto the conversation state machine and the library
// client, and turns every outcome, success or failure, into exactly one
// user-visible reply. All handling for a chat runs under that chat's session
// lock, so events for the same conversation never interleave.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/walktheearth/bookdlbot/internal/metrics"
	"github.com/walktheearth/bookdlbot/internal/results"
	"github.com/walktheearth/bookdlbot/internal/session"
	"github.com/walktheearth/bookdlbot/internal/zlibrary"
)

// DefaultPageSize is how many search hits are presented per query.
const DefaultPageSize = 5

// DefaultRepoURL is where /opensource points.
const DefaultRepoURL = "https://github.com/walktheearth/bookdlbot"

// Button payload actions. The payload format is "<action>_<index>".
const (
	actionDescribe = "book"
	actionDownload = "dl"
)

// Bot routes chat events to the right handler based on the session's dialogue
// state and replies through the Messenger.
type Bot struct {
	messenger Messenger
	sessions  *session.Store
	results   *results.Cache
	connect   func() session.Library
	logger    *zap.Logger
	metrics   *metrics.Metrics
	pageSize  int
	repoURL   string
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bot) {
		b.logger = logger
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bot) {
		b.metrics = m
	}
}

// WithPageSize sets how many results each search presents.
func WithPageSize(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithRepoURL sets the URL the /opensource command advertises.
func WithRepoURL(url string) Option {
	return func(b *Bot) {
		if url != "" {
			b.repoURL = url
		}
	}
}

// New creates a Bot. connect is invoked lazily, once per session, to build
// that session's library handle.
func New(messenger Messenger, sessions *session.Store, cache *results.Cache, connect func() session.Library, opts ...Option) *Bot {
	b := &Bot{
		messenger: messenger,
		sessions:  sessions,
		results:   cache,
		connect:   connect,
		logger:    zap.NewNop(),
		pageSize:  DefaultPageSize,
		repoURL:   DefaultRepoURL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HandleCommand processes a slash command. Commands interrupt whatever the
// session was waiting for: the pending intent is discarded before the command
// takes effect.
func (b *Bot) HandleCommand(ctx context.Context, chatID, name string) {
	sess := b.sessions.GetOrCreate(chatID)
	sess.Lock()
	defer sess.Unlock()

	b.metrics.RecordEvent("command")
	b.logger.Debug("command received",
		zap.String("chat_id", chatID),
		zap.String("command", name),
		zap.Stringer("state", sess.State()))

	switch name {
	case "start":
		b.send(ctx, Reply{ChatID: chatID, Text: msgWelcome})
	case "opensource":
		b.send(ctx, Reply{ChatID: chatID, Text: fmt.Sprintf(msgOpenSource, b.repoURL)})
	case "search":
		b.await(ctx, sess, session.StateAwaitingSearchQuery, msgSearchPrompt)
	case "download":
		b.await(ctx, sess, session.StateAwaitingDownloadQuery, msgDownloadPrompt)
	case "cancel":
		sess.Reset()
		b.send(ctx, Reply{ChatID: chatID, Text: msgCancelled})
	default:
		b.send(ctx, Reply{ChatID: chatID, Text: msgUnknownCommand})
	}
}

// await moves the session into a query-awaiting state and prompts for input.
func (b *Bot) await(ctx context.Context, sess *session.Session, to session.State, prompt string) {
	sess.Reset()
	if err := sess.Transition(to); err != nil {
		b.logger.Error("state transition rejected",
			zap.String("chat_id", sess.ID()),
			zap.Stringer("to", to),
			zap.Error(err))
		return
	}
	b.send(ctx, Reply{ChatID: sess.ID(), Text: prompt})
}

// HandleText processes free text. Text is only meaningful as the answer to a
// pending /search or /download prompt; in the idle state it is ignored.
func (b *Bot) HandleText(ctx context.Context, chatID, text string) {
	sess := b.sessions.GetOrCreate(chatID)
	sess.Lock()
	defer sess.Unlock()

	b.metrics.RecordEvent("text")

	switch sess.State() {
	case session.StateAwaitingSearchQuery:
		sess.Reset()
		b.searchAndPresent(ctx, sess, text, actionDescribe)
	case session.StateAwaitingDownloadQuery:
		sess.Reset()
		b.searchAndPresent(ctx, sess, text, actionDownload)
	default:
		b.logger.Debug("ignoring text outside a query prompt", zap.String("chat_id", chatID))
	}
}

// searchAndPresent runs one search and publishes the results as buttons. The
// session is already back in the idle state; a failure here only produces a
// message, never a stuck conversation.
func (b *Bot) searchAndPresent(ctx context.Context, sess *session.Session, query, action string) {
	chatID := sess.ID()
	b.send(ctx, Reply{ChatID: chatID, Text: fmt.Sprintf(msgSearching, query)})

	lib := sess.Library(b.connect)
	records, err := lib.Search(ctx, query, b.pageSize)
	if err != nil {
		msg, class := failureMessage(err)
		b.metrics.RecordSearch("error")
		b.metrics.RecordRemoteFailure(class)
		b.logger.Warn("search failed",
			zap.String("chat_id", chatID),
			zap.String("query", query),
			zap.Error(err))
		b.send(ctx, Reply{ChatID: chatID, Text: msg})
		return
	}
	if len(records) == 0 {
		b.metrics.RecordSearch("empty")
		b.send(ctx, Reply{ChatID: chatID, Text: msgNoResults})
		return
	}

	b.metrics.RecordSearch("ok")
	b.results.Put(chatID, records)
	b.send(ctx, Reply{
		ChatID:  chatID,
		Text:    fmt.Sprintf(msgFoundResults, len(records)),
		Buttons: resultButtons(records, action),
	})
}

// HandleButton processes a button tap carrying an "<action>_<index>" payload.
// The index resolves against the chat's current ResultSet; a tap on a button
// from a superseded or expired search is answered, never acted on.
func (b *Bot) HandleButton(ctx context.Context, chatID, payload string) {
	sess := b.sessions.GetOrCreate(chatID)
	sess.Lock()
	defer sess.Unlock()

	b.metrics.RecordEvent("button")

	action, index, err := parseSelection(payload)
	if err != nil {
		b.logger.Debug("malformed button payload",
			zap.String("chat_id", chatID),
			zap.String("payload", payload))
		b.send(ctx, Reply{ChatID: chatID, Text: msgInvalidSelection})
		return
	}

	rec, err := b.results.Select(chatID, index)
	if err != nil {
		msg := msgInvalidSelection
		if err == results.ErrSessionExpired {
			msg = msgResultsExpired
		}
		b.send(ctx, Reply{ChatID: chatID, Text: msg})
		return
	}

	switch action {
	case actionDescribe:
		b.describe(ctx, chatID, rec)
	case actionDownload:
		b.download(ctx, sess, rec)
	}
}

// describe replies with the record's details, as a photo caption when the
// record carries a cover image.
func (b *Bot) describe(ctx context.Context, chatID string, rec zlibrary.Record) {
	reply := Reply{ChatID: chatID, Text: renderRecord(rec), HTML: true}
	if rec.HasCover() {
		reply.PhotoURL = rec.CoverURL
	}
	b.send(ctx, reply)
}

// download resolves the record to its downloadable form and replies with the
// link.
func (b *Bot) download(ctx context.Context, sess *session.Session, rec zlibrary.Record) {
	chatID := sess.ID()
	b.send(ctx, Reply{ChatID: chatID, Text: fmt.Sprintf(msgPreparingDownload, rec.Title)})

	lib := sess.Library(b.connect)
	full, err := lib.FetchFull(ctx, rec)
	if err != nil {
		msg, class := failureMessage(err)
		b.metrics.RecordRemoteFailure(class)
		b.logger.Warn("fetch full record failed",
			zap.String("chat_id", chatID),
			zap.String("record_id", rec.ID),
			zap.Error(err))
		b.send(ctx, Reply{ChatID: chatID, Text: msg})
		return
	}

	b.send(ctx, Reply{ChatID: chatID, Text: renderDownload(full), HTML: true})
}

// parseSelection splits an "<action>_<index>" payload.
func parseSelection(payload string) (action string, index int, err error) {
	sep := strings.LastIndexByte(payload, '_')
	if sep <= 0 || sep == len(payload)-1 {
		return "", 0, fmt.Errorf("malformed selection payload %q", payload)
	}
	action = payload[:sep]
	if action != actionDescribe && action != actionDownload {
		return "", 0, fmt.Errorf("unknown selection action %q", action)
	}
	index, err = strconv.Atoi(payload[sep+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed selection index in %q", payload)
	}
	return action, index, nil
}

func (b *Bot) send(ctx context.Context, reply Reply) {
	if err := b.messenger.Send(ctx, reply); err != nil {
		b.logger.Warn("send reply failed",
			zap.String("chat_id", reply.ChatID),
			zap.Error(err))
	}
}
