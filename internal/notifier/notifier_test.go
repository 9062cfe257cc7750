package notifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chanwatch-bot/internal/database"
	"chanwatch-bot/internal/database/models"
	"chanwatch-bot/internal/locales"
)

func TestMain(m *testing.M) {
	locales.Init("en")
	os.Exit(m.Run())
}

// MockBot implements telegoapi.BotAPI for assertions on sent payloads.
type MockBot struct {
	mock.Mock
}

func (m *MockBot) GetMe(ctx context.Context) (*telego.User, error) {
	args := m.Called(ctx)
	user, _ := args.Get(0).(*telego.User)
	return user, args.Error(1)
}

func (m *MockBot) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*telego.Message)
	return msg, args.Error(1)
}

func (m *MockBot) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*telego.Message)
	return msg, args.Error(1)
}

func (m *MockBot) SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*telego.Message)
	return msg, args.Error(1)
}

func (m *MockBot) SendMediaGroup(ctx context.Context, params *telego.SendMediaGroupParams) ([]telego.Message, error) {
	args := m.Called(ctx, params)
	msgs, _ := args.Get(0).([]telego.Message)
	return msgs, args.Error(1)
}

func (m *MockBot) AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func testChannels(t *testing.T) database.ChannelRepository {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := database.NewGormChannelRepository(db)
	require.NoError(t, repo.Upsert(context.Background(), &models.Channel{
		ChannelID: -100111, Title: "Tech & News", IsActive: true,
	}))
	return repo
}

func TestNotifier_TextPostCarriesKeyboardAndEscapedText(t *testing.T) {
	bot := new(MockBot)
	n := NewTelegramNotifier(bot, testChannels(t), 555, "en")

	var sent *telego.SendMessageParams
	bot.On("SendMessage", mock.Anything, mock.AnythingOfType("*telego.SendMessageParams")).
		Run(func(args mock.Arguments) {
			sent = args.Get(1).(*telego.SendMessageParams)
		}).
		Return(&telego.Message{MessageID: 1}, nil)

	post := &models.Post{
		ID:           7,
		ChannelID:    -100111,
		MessageID:    42,
		OriginalText: "a < b & c",
		SourceLink:   "https://t.me/source/42",
		Status:       models.StatusPending,
	}
	require.NoError(t, n.NotifyNewPost(context.Background(), post))

	require.NotNil(t, sent)
	assert.Equal(t, int64(555), sent.ChatID.ID)
	assert.Contains(t, sent.Text, "Tech &amp; News")
	assert.Contains(t, sent.Text, "a &lt; b &amp; c")
	assert.Contains(t, sent.Text, "https://t.me/source/42")

	keyboard, ok := sent.ReplyMarkup.(*telego.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.InlineKeyboard, 2)
	assert.Equal(t, "mod_approve:7", keyboard.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "mod_reject:7", keyboard.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "mod_restyle:7", keyboard.InlineKeyboard[1][0].CallbackData)
}

func TestNotifier_PhotoPostFallsBackToTextWhenFileMissing(t *testing.T) {
	bot := new(MockBot)
	n := NewTelegramNotifier(bot, testChannels(t), 555, "en")

	bot.On("SendMessage", mock.Anything, mock.Anything).
		Return(&telego.Message{MessageID: 1}, nil)

	post := &models.Post{
		ID:         3,
		ChannelID:  -100111,
		MediaItems: models.MediaItems{{Type: models.MediaTypePhoto, Path: "/nonexistent/photo.jpg"}},
	}
	require.NoError(t, n.NotifyNewPost(context.Background(), post))

	// The photo could not be opened, so no SendPhoto happened.
	bot.AssertNotCalled(t, "SendPhoto", mock.Anything, mock.Anything)
	bot.AssertCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestNotifier_AlbumSendsGroupThenControlMessage(t *testing.T) {
	bot := new(MockBot)
	n := NewTelegramNotifier(bot, testChannels(t), 555, "en")

	dir := t.TempDir()
	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, "item"+string(rune('a'+i))+".jpg")
		require.NoError(t, os.WriteFile(paths[i], []byte("jpeg"), 0o644))
	}

	var group *telego.SendMediaGroupParams
	bot.On("SendMediaGroup", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			group = args.Get(1).(*telego.SendMediaGroupParams)
		}).
		Return([]telego.Message{}, nil)

	var control *telego.SendMessageParams
	bot.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			control = args.Get(1).(*telego.SendMessageParams)
		}).
		Return(&telego.Message{MessageID: 2}, nil)

	post := &models.Post{
		ID:        9,
		ChannelID: -100111,
		MediaItems: models.MediaItems{
			{Type: models.MediaTypePhoto, Path: paths[0], Position: 0},
			{Type: models.MediaTypePhoto, Path: paths[1], Position: 1},
			{Type: models.MediaTypeVideo, Path: paths[2], Position: 2},
		},
	}
	require.NoError(t, n.NotifyNewAlbum(context.Background(), post))

	require.NotNil(t, group)
	assert.Len(t, group.Media, 3)
	require.NotNil(t, control)
	assert.Contains(t, control.Text, "#9")
	_, ok := control.ReplyMarkup.(*telego.InlineKeyboardMarkup)
	assert.True(t, ok)
}

func TestNotifier_AlbumWithOneReadableItemDegradesToSinglePost(t *testing.T) {
	bot := new(MockBot)
	n := NewTelegramNotifier(bot, testChannels(t), 555, "en")

	dir := t.TempDir()
	existing := filepath.Join(dir, "only.jpg")
	require.NoError(t, os.WriteFile(existing, []byte("jpeg"), 0o644))

	bot.On("SendPhoto", mock.Anything, mock.Anything).
		Return(&telego.Message{MessageID: 1}, nil)

	post := &models.Post{
		ID:        4,
		ChannelID: -100111,
		MediaItems: models.MediaItems{
			{Type: models.MediaTypePhoto, Path: existing, Position: 0},
			{Type: models.MediaTypePhoto, Path: filepath.Join(dir, "gone.jpg"), Position: 1},
		},
	}
	require.NoError(t, n.NotifyNewAlbum(context.Background(), post))

	bot.AssertNotCalled(t, "SendMediaGroup", mock.Anything, mock.Anything)
	bot.AssertCalled(t, "SendPhoto", mock.Anything, mock.Anything)
}

func TestParseCallback(t *testing.T) {
	action, id, ok := ParseCallback("mod_approve:15")
	require.True(t, ok)
	assert.Equal(t, CallbackApprove, action)
	assert.Equal(t, uint(15), id)

	_, _, ok = ParseCallback("suggest:15")
	assert.False(t, ok)
	_, _, ok = ParseCallback("mod_approve:abc")
	assert.False(t, ok)
	_, _, ok = ParseCallback("plaintext")
	assert.False(t, ok)
}
