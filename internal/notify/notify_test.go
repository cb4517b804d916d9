package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// --- Gate ---

func TestShouldNotify(t *testing.T) {
	tests := []struct {
		name  string
		items int
		in    domain.Intent
		want  bool
	}{
		{"confident direct", 3, domain.Intent{Type: domain.IntentDirectSearch, Confidence: 0.9}, true},
		{"threshold inclusive", 1, domain.Intent{Type: domain.IntentContextual, Confidence: 0.6}, true},
		{"below threshold", 5, domain.Intent{Type: domain.IntentDirectSearch, Confidence: 0.59}, false},
		{"no items", 0, domain.Intent{Type: domain.IntentDirectSearch, Confidence: 1}, false},
		{"off topic", 5, domain.Intent{Type: domain.IntentOffTopic, Confidence: 1}, false},
		{"fallback confidence", 4, domain.Intent{Type: domain.IntentDirectSearch, Confidence: 0.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldNotify(tt.items, tt.in))
		})
	}
}

func TestShouldNotifyAt_CustomThreshold(t *testing.T) {
	in := domain.Intent{Type: domain.IntentDirectSearch, Confidence: 0.5}
	assert.True(t, ShouldNotifyAt(1, in, 0.5))
	assert.False(t, ShouldNotifyAt(1, in, 0.8))
}

// --- Compose ---

func cards(n int) []domain.ProductCard {
	out := make([]domain.ProductCard, n)
	for i := range out {
		out[i] = domain.ProductCard{ProductID: string(rune('a' + i)), Title: "Item " + string(rune('A'+i)), Price: 10}
	}
	return out
}

func TestCompose_Direct(t *testing.T) {
	items := cards(2)
	items[0].Brand = domain.Str("Northline")
	items[0].ImageURL = domain.Str("https://img/1.jpg")
	items[0].Rationale = "Available in Black"
	res := domain.WorkflowResult{
		ResponseText: "I found 2 products matching your search!",
		Items:        items,
		Intent:       domain.Intent{Type: domain.IntentDirectSearch},
		Plan:         &domain.SearchPlan{Entries: []domain.PlanEntry{{Query: "black shirt"}}},
	}

	n := Compose(res, "black shirt")
	assert.Equal(t, "We Found Perfect Products For You!", n.Subject)
	assert.Equal(t, 2, n.Items)
	assert.Contains(t, n.Body, "Based on your search for black shirt,")
	assert.Contains(t, n.Body, "I found 2 products matching your search!")
	assert.Contains(t, n.Body, "1. Item A\n   Price: $10.00\n   Available in Black\n   Brand: Northline\n   View: https://img/1.jpg")
	assert.Contains(t, n.Body, "2. Item B\n   Price: $10.00\n   Perfect for your needs")
}

func TestCompose_ContextualTopSix(t *testing.T) {
	res := domain.WorkflowResult{
		Items:  cards(8),
		Intent: domain.Intent{Type: domain.IntentContextual},
		Plan:   &domain.SearchPlan{UserContext: "a rainy trip to Seattle"},
	}
	n := Compose(res, "rain")
	assert.Equal(t, 6, n.Items)
	assert.Contains(t, n.Body, "Based on a rainy trip to Seattle,")
	assert.Contains(t, n.Body, "6. Item F")
	assert.NotContains(t, n.Body, "7. Item G")
}

// --- Dispatcher ---

type fakeSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []domain.Notification
	to   []domain.Destination
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Notify(_ context.Context, to domain.Destination, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	f.to = append(f.to, to)
	return f.err
}

func TestDispatcher_DeliverReportsEachSink(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: errors.New("401")}
	var mu sync.Mutex
	observed := map[string]error{}
	var records []domain.NotificationRecord

	d := NewDispatcher(DispatcherConfig{
		Sinks:  []domain.Notifier{ok, bad},
		Logger: quiet(),
		Observe: func(sink string, err error) {
			mu.Lock()
			observed[sink] = err
			mu.Unlock()
		},
		Record: func(_ context.Context, rec domain.NotificationRecord) {
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
		},
	})

	out := d.Deliver(context.Background(), "turn-1", domain.Destination{ConversationID: "c1"}, domain.Notification{Subject: "s"})
	require.Len(t, out, 2)
	assert.NoError(t, out[0].Err)
	assert.Error(t, out[1].Err)
	assert.Nil(t, observed["ok"])
	assert.Error(t, observed["bad"])
	require.Len(t, records, 2)
	assert.True(t, records[0].Delivered)
	assert.False(t, records[1].Delivered)
	assert.Equal(t, "401", records[1].Error)
	assert.Equal(t, "turn-1", records[1].TurnID)
	assert.Equal(t, []string{"ok", "bad"}, d.Sinks())
}

func TestDispatcher_DispatchOutlivesCancelledTurn(t *testing.T) {
	sink := &fakeSink{name: "s"}
	d := NewDispatcher(DispatcherConfig{Sinks: []domain.Notifier{sink}, Logger: quiet()})

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, "t", domain.Destination{}, domain.Notification{Subject: "x"})
	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, d.Wait(waitCtx))
	assert.Len(t, sink.got, 1)
}

func TestDispatcher_NoSinks(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	d.Dispatch(context.Background(), "t", domain.Destination{}, domain.Notification{})
	assert.NoError(t, d.Wait(context.Background()))
}

// --- Sinks ---

type fakeSender struct {
	conv, text string
}

func (f *fakeSender) SendMessage(_ context.Context, conv, text string) error {
	f.conv, f.text = conv, text
	return nil
}

func TestKapsoSink(t *testing.T) {
	s := &fakeSender{}
	k := NewKapso(s)
	require.NoError(t, k.Notify(context.Background(), domain.Destination{ConversationID: "c9"}, domain.Notification{Subject: "Hi", Body: "b"}))
	assert.Equal(t, "c9", s.conv)
	assert.Equal(t, "*Hi*\nb", s.text)

	assert.Error(t, k.Notify(context.Background(), domain.Destination{}, domain.Notification{}))
}

type fakeBot struct {
	errs []error
	sent []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramSink_MarkdownFallback(t *testing.T) {
	bot := &fakeBot{errs: []error{errors.New("Bad Request: can't parse entities")}}
	tg := newTelegramWithBot(bot, 42, quiet())
	tg.sleep = func(time.Duration) {}

	require.NoError(t, tg.Notify(context.Background(), domain.Destination{}, domain.Notification{Subject: "S", Body: "a_b"}))
	require.Len(t, bot.sent, 2)
	assert.Equal(t, tgbotapi.ModeMarkdown, bot.sent[0].ParseMode)
	assert.Empty(t, bot.sent[1].ParseMode)
	assert.Equal(t, int64(42), bot.sent[1].ChatID)
}

func TestTelegramSink_GivesUp(t *testing.T) {
	boom := errors.New("network down")
	bot := &fakeBot{errs: []error{boom, boom, boom, boom}}
	tg := newTelegramWithBot(bot, 1, quiet())
	tg.sleep = func(time.Duration) {}

	err := tg.Notify(context.Background(), domain.Destination{}, domain.Notification{Subject: "S"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, bot.sent, telegramMaxSendRetries+1)
}

type fakeSlack struct{ channels []string }

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.channels = append(f.channels, channelID)
	return channelID, "ts", nil
}

func TestSlackSink_Chunks(t *testing.T) {
	fs := &fakeSlack{}
	s := &Slack{client: fs, channel: "#deals"}
	body := strings.Repeat("line of text\n", 600)
	require.NoError(t, s.Notify(context.Background(), domain.Destination{}, domain.Notification{Subject: "S", Body: body}))
	assert.Greater(t, len(fs.channels), 1)
	assert.Equal(t, "#deals", fs.channels[0])
}

type fakeDiscord struct{ content []string }

func (f *fakeDiscord) ChannelMessageSend(_ string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.content = append(f.content, content)
	return &discordgo.Message{}, nil
}

func TestDiscordSink(t *testing.T) {
	fd := &fakeDiscord{}
	d := &Discord{session: fd, channelID: "123"}
	require.NoError(t, d.Notify(context.Background(), domain.Destination{}, domain.Notification{Subject: "S", Body: "b"}))
	assert.Equal(t, []string{"**S**\nb"}, fd.content)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	chunks := splitMessage("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc"}, chunks)
}

func TestBuildSinks(t *testing.T) {
	sinks := BuildSinks(config.NotifyConfig{Sinks: []string{"log", "kapso", "slack", "carrier-pigeon"}}, nil, quiet())
	require.Len(t, sinks, 1)
	assert.Equal(t, "log", sinks[0].Name())

	sinks = BuildSinks(config.NotifyConfig{
		Sinks: []string{"kapso", "slack"},
		Slack: config.SlackConfig{BotToken: "xoxb-1", Channel: "#c"},
	}, &fakeSender{}, quiet())
	require.Len(t, sinks, 2)
	assert.Equal(t, "slack", sinks[1].Name())
}
