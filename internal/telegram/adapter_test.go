package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walktheearth/bookdlbot/internal/bot"
)

// fakeAPI records what the adapter sends and scripts failures.
type fakeAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErrs []error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	ch := make(chan tgbotapi.Update)
	close(ch)
	return ch
}

func (f *fakeAPI) StopReceivingUpdates() {}

// recordingDispatcher captures dispatched events.
type recordingDispatcher struct {
	commands []string
	texts    []string
	buttons  []string
	chatIDs  []string
}

func (d *recordingDispatcher) HandleCommand(_ context.Context, chatID, name string) {
	d.chatIDs = append(d.chatIDs, chatID)
	d.commands = append(d.commands, name)
}

func (d *recordingDispatcher) HandleText(_ context.Context, chatID, text string) {
	d.chatIDs = append(d.chatIDs, chatID)
	d.texts = append(d.texts, text)
}

func (d *recordingDispatcher) HandleButton(_ context.Context, chatID, payload string) {
	d.chatIDs = append(d.chatIDs, chatID)
	d.buttons = append(d.buttons, payload)
}

func chatUpdate(chatID int64, text string, entities []tgbotapi.MessageEntity) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: entities,
	}}
}

func TestHandleUpdate_Command(t *testing.T) {
	api := &fakeAPI{}
	dispatcher := &recordingDispatcher{}
	a := NewWithAPI(api, nil)
	a.SetDispatcher(dispatcher)

	a.handleUpdate(context.Background(), chatUpdate(42, "/search", []tgbotapi.MessageEntity{
		{Type: "bot_command", Offset: 0, Length: 7},
	}))

	require.Equal(t, []string{"search"}, dispatcher.commands)
	assert.Equal(t, []string{"42"}, dispatcher.chatIDs)
}

func TestHandleUpdate_Text(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	a := NewWithAPI(&fakeAPI{}, nil)
	a.SetDispatcher(dispatcher)

	a.handleUpdate(context.Background(), chatUpdate(7, "dune", nil))

	assert.Equal(t, []string{"dune"}, dispatcher.texts)
	assert.Empty(t, dispatcher.commands)
}

func TestHandleUpdate_CallbackAcksAndDispatches(t *testing.T) {
	api := &fakeAPI{}
	dispatcher := &recordingDispatcher{}
	a := NewWithAPI(api, nil)
	a.SetDispatcher(dispatcher)

	a.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    "book_0",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 9}},
	}})

	assert.Equal(t, []string{"book_0"}, dispatcher.buttons)
	assert.Equal(t, []string{"9"}, dispatcher.chatIDs)
	assert.Len(t, api.requests, 1, "callback must be acked")
}

func TestHandleUpdate_NonTextMessageIgnored(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	a := NewWithAPI(&fakeAPI{}, nil)
	a.SetDispatcher(dispatcher)

	a.handleUpdate(context.Background(), chatUpdate(7, "", nil))

	assert.Empty(t, dispatcher.texts)
	assert.Empty(t, dispatcher.commands)
}

func TestSend_TextWithButtons(t *testing.T) {
	api := &fakeAPI{}
	a := NewWithAPI(api, nil)

	err := a.Send(context.Background(), bot.Reply{
		ChatID: "42",
		Text:   "Found 2 results:",
		Buttons: []bot.Button{
			{Label: "1. Dune (1965)", Data: "book_0"},
			{Label: "2. Dune Messiah (1969)", Data: "book_1"},
		},
	})
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Empty(t, msg.ParseMode)

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "book_0", *kb.InlineKeyboard[0][0].CallbackData)
}

func TestSend_HTML(t *testing.T) {
	api := &fakeAPI{}
	a := NewWithAPI(api, nil)

	err := a.Send(context.Background(), bot.Reply{ChatID: "42", Text: "<b>Dune</b>", HTML: true})
	require.NoError(t, err)

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
}

func TestSend_PhotoWithCaption(t *testing.T) {
	api := &fakeAPI{}
	a := NewWithAPI(api, nil)

	err := a.Send(context.Background(), bot.Reply{
		ChatID:   "42",
		Text:     "<b>Dune</b>",
		HTML:     true,
		PhotoURL: "https://covers.example.com/dune.jpg",
	})
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	photo, ok := api.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, "<b>Dune</b>", photo.Caption)
	assert.Equal(t, tgbotapi.ModeHTML, photo.ParseMode)
}

func TestSend_PhotoFailureFallsBackToText(t *testing.T) {
	api := &fakeAPI{sendErrs: []error{errors.New("upload rejected")}}
	a := NewWithAPI(api, nil)

	err := a.Send(context.Background(), bot.Reply{
		ChatID:   "42",
		Text:     "Dune",
		PhotoURL: "https://covers.example.com/dune.jpg",
	})
	require.NoError(t, err)

	require.Len(t, api.sent, 2)
	_, ok := api.sent[1].(tgbotapi.MessageConfig)
	assert.True(t, ok, "second send is the plain text fallback")
}

func TestSend_BadChatID(t *testing.T) {
	a := NewWithAPI(&fakeAPI{}, nil)

	err := a.Send(context.Background(), bot.Reply{ChatID: "not-a-number", Text: "x"})
	assert.Error(t, err)
}
