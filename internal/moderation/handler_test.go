package moderation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chanwatch-bot/internal/analysis"
	"chanwatch-bot/internal/database"
	"chanwatch-bot/internal/database/models"
	"chanwatch-bot/internal/locales"
)

const ownerID int64 = 555

func TestMain(m *testing.M) {
	locales.Init("en")
	os.Exit(m.Run())
}

// MockBot implements telegoapi.BotAPI.
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

type fakePublisher struct {
	published []uint
	statuses  []models.PostStatus
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, post *models.Post) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, post.ID)
	f.statuses = append(f.statuses, post.Status)
	return nil
}

type fakeAnalyzer struct {
	result *analysis.Result
	err    error
}

func (f *fakeAnalyzer) CanRewrite() bool { return true }
func (f *fakeAnalyzer) Analyze(context.Context, string) (*analysis.Result, error) {
	return f.result, f.err
}

type fakePreviews struct {
	resent []uint
}

func (f *fakePreviews) NotifyNewPost(_ context.Context, post *models.Post) error {
	f.resent = append(f.resent, post.ID)
	return nil
}

type fixture struct {
	handler   *Handler
	bot       *MockBot
	posts     database.PostRepository
	channels  database.ChannelRepository
	publisher *fakePublisher
	analyzer  *fakeAnalyzer
	previews  *fakePreviews
	postID    uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	posts := database.NewGormPostRepository(db)
	channels := database.NewGormChannelRepository(db)
	ctx := context.Background()
	require.NoError(t, channels.Upsert(ctx, &models.Channel{ChannelID: -100111, Title: "Source", IsActive: true}))

	post, err := posts.InsertIfAbsent(ctx, &models.Post{
		ChannelID:    -100111,
		MessageID:    42,
		OriginalText: "original text",
		Status:       models.StatusPending,
	})
	require.NoError(t, err)
	require.NotNil(t, post)

	bot := new(MockBot)
	bot.On("AnswerCallbackQuery", mock.Anything, mock.Anything).Return(nil)

	publisher := &fakePublisher{}
	analyzer := &fakeAnalyzer{result: &analysis.Result{
		Rewritten: "rewritten text", Relevance: 0.6, Sentiment: "positive", Details: "{}",
	}}
	previews := &fakePreviews{}

	return &fixture{
		handler:   NewHandler(bot, posts, channels, publisher, analyzer, previews, ownerID, "en"),
		bot:       bot,
		posts:     posts,
		channels:  channels,
		publisher: publisher,
		analyzer:  analyzer,
		previews:  previews,
		postID:    post.ID,
	}
}

func callback(userID int64, data string) telego.CallbackQuery {
	return telego.CallbackQuery{
		ID:   "cb1",
		From: telego.User{ID: userID},
		Data: data,
	}
}

func TestHandler_ApprovePublishesAndCounts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	claimed := fx.handler.HandleCallbackQuery(ctx, callback(ownerID, "mod_approve:1"))
	require.True(t, claimed)

	assert.Equal(t, []uint{fx.postID}, fx.publisher.published)
	// The decision is on record before the publisher runs, so a crash
	// mid-publish cannot lose it.
	assert.Equal(t, []models.PostStatus{models.StatusApproved}, fx.publisher.statuses)

	post, err := fx.posts.GetByID(ctx, fx.postID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, post.Status)

	ch, err := fx.channels.GetByChannelID(ctx, -100111)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ch.PostsApproved)
}

func TestHandler_RejectUpdatesStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.True(t, fx.handler.HandleCallbackQuery(ctx, callback(ownerID, "mod_reject:1")))

	post, err := fx.posts.GetByID(ctx, fx.postID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, post.Status)

	ch, err := fx.channels.GetByChannelID(ctx, -100111)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ch.PostsRejected)
}

func TestHandler_RestyleStoresRewriteAndResendsPreview(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.True(t, fx.handler.HandleCallbackQuery(ctx, callback(ownerID, "mod_restyle:1")))

	post, err := fx.posts.GetByID(ctx, fx.postID)
	require.NoError(t, err)
	assert.Equal(t, "rewritten text", post.GeneratedText)
	assert.Equal(t, "rewritten text", post.Text())
	assert.InDelta(t, 0.6, post.RelevanceScore, 1e-9)
	assert.Equal(t, []uint{fx.postID}, fx.previews.resent)
}

func TestHandler_NonOwnerIsDenied(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var answered *telego.AnswerCallbackQueryParams
	fx.bot.ExpectedCalls = nil
	fx.bot.On("AnswerCallbackQuery", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			answered = args.Get(1).(*telego.AnswerCallbackQueryParams)
		}).
		Return(nil)

	require.True(t, fx.handler.HandleCallbackQuery(ctx, callback(999, "mod_approve:1")))

	assert.Empty(t, fx.publisher.published)
	require.NotNil(t, answered)
	assert.True(t, answered.ShowAlert)
}

func TestHandler_ForeignCallbackIsNotClaimed(t *testing.T) {
	fx := newFixture(t)
	assert.False(t, fx.handler.HandleCallbackQuery(context.Background(), callback(ownerID, "other_feature:1")))
}

func TestHandler_PublishFailureReportedToOwner(t *testing.T) {
	fx := newFixture(t)
	fx.publisher.err = errors.New("channel unreachable")
	ctx := context.Background()

	var answered *telego.AnswerCallbackQueryParams
	fx.bot.ExpectedCalls = nil
	fx.bot.On("AnswerCallbackQuery", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			answered = args.Get(1).(*telego.AnswerCallbackQueryParams)
		}).
		Return(nil)

	require.True(t, fx.handler.HandleCallbackQuery(ctx, callback(ownerID, "mod_approve:1")))

	require.NotNil(t, answered)
	assert.Contains(t, answered.Text, "channel unreachable")

	ch, err := fx.channels.GetByChannelID(ctx, -100111)
	require.NoError(t, err)
	assert.Zero(t, ch.PostsApproved)
}
