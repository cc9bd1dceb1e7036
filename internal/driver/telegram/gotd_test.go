package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"memoria/pkg/memoria"

	"github.com/gotd/td/tg"
)

func TestGotdUpdateChannelUpdatesNilContext(t *testing.T) {
	t.Parallel()

	channel, err := NewGotdUpdateChannel(1)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}
	if _, err := channel.Updates(nil); err == nil {
		t.Fatal("expected nil context error")
	}
}

func TestFlattenGotdUpdates(t *testing.T) {
	t.Parallel()

	newMessage := &tg.UpdateNewMessage{Message: &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 7}}}
	tests := []struct {
		name      string
		updates   tg.UpdatesClass
		wantCount int
		wantErr   bool
	}{
		{
			name: "batch keeps new messages only",
			updates: &tg.Updates{
				Updates: []tg.UpdateClass{
					newMessage,
					&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 2, PeerID: &tg.PeerChannel{ChannelID: 9}}},
					&tg.UpdateDeleteMessages{Messages: []int{1}},
					&tg.UpdateEditMessage{Message: &tg.Message{ID: 1}},
				},
				Date: 1700000000,
			},
			wantCount: 2,
		},
		{name: "short", updates: &tg.UpdateShort{Update: newMessage, Date: 1700000000}, wantCount: 1},
		{name: "short message", updates: &tg.UpdateShortMessage{ID: 3, UserID: 7, Message: "hallo"}, wantCount: 1},
		{name: "short chat message", updates: &tg.UpdateShortChatMessage{ID: 4, FromID: 7, ChatID: 8}, wantCount: 1},
		{name: "too long", updates: &tg.UpdatesTooLong{}, wantCount: 0},
		{name: "nil", updates: nil, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			batch, err := flattenGotdUpdates(testCase.updates)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("flatten failed: %v", err)
			}
			if len(batch) != testCase.wantCount {
				t.Fatalf("batch = %d, want %d", len(batch), testCase.wantCount)
			}
		})
	}
}

func TestGotdUpdateChannelHandle(t *testing.T) {
	t.Parallel()

	channel, err := NewGotdUpdateChannel(4)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}
	if err := channel.Handle(context.Background(), &tg.UpdateShortMessage{ID: 3, UserID: 7, Message: "hallo"}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	stream, err := channel.Updates(context.Background())
	if err != nil {
		t.Fatalf("updates failed: %v", err)
	}
	select {
	case raw := <-stream:
		envelope, ok := raw.(gotdUpdateEnvelope)
		if !ok {
			t.Fatalf("raw = %T, want envelope", raw)
		}
		if _, ok := envelope.update.(*tg.UpdateNewMessage); !ok {
			t.Fatalf("update = %T, want *tg.UpdateNewMessage", envelope.update)
		}
	default:
		t.Fatal("expected one buffered update")
	}
}

func TestDefaultGotdUpdateMapperMapsVoiceMessage(t *testing.T) {
	t.Parallel()

	peers := NewPeerCache()
	documents := NewDocumentCache(4)
	mapper := NewDefaultGotdUpdateMapper(WithPeerCache(peers), WithDocumentCache(documents))

	user := &tg.User{ID: 42, AccessHash: 777, FirstName: "Anna", LastName: "Berg", Username: "anna"}
	envelope := gotdUpdateEnvelope{
		update: &tg.UpdateNewMessage{Message: &tg.Message{
			ID:     7,
			PeerID: &tg.PeerUser{UserID: 42},
			FromID: &tg.PeerUser{UserID: 42},
			Date:   1700000000,
			Media: &tg.MessageMediaDocument{Document: &tg.Document{
				ID:            99,
				AccessHash:    5,
				FileReference: []byte{1, 2},
				MimeType:      "audio/ogg",
				Size:          2048,
				Attributes: []tg.DocumentAttributeClass{
					&tg.DocumentAttributeAudio{Voice: true, Duration: 12},
				},
			}},
		}},
		usersByID:   map[int64]*tg.User{42: user},
		updateClass: "updateNewMessage",
	}

	update, accepted, err := mapper.Map(context.Background(), envelope)
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if !accepted {
		t.Fatal("expected accepted update")
	}
	if update.ID != "tg:42:7" {
		t.Fatalf("update id = %q, want tg:42:7", update.ID)
	}
	if update.Chat.Type != memoria.ConversationTypePrivate || update.Chat.ID != "42" {
		t.Fatalf("chat = %+v, want private 42", update.Chat)
	}
	if update.Actor.DisplayName != "Anna Berg" || update.Actor.Username != "anna" {
		t.Fatalf("actor = %+v, want Anna Berg/anna", update.Actor)
	}
	if !update.OccurredAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("occurred at = %s", update.OccurredAt)
	}
	if len(update.Message.Media) != 1 {
		t.Fatalf("media = %d, want 1", len(update.Message.Media))
	}
	media := update.Message.Media[0]
	if media.Type != memoria.MediaTypeVoice || media.Duration != 12*time.Second || media.SizeBytes != 2048 {
		t.Fatalf("media = %+v, want voice 12s 2048 bytes", media)
	}

	location, ok := documents.Location("99")
	if !ok {
		t.Fatal("expected remembered document location")
	}
	if location.AccessHash != 5 || len(location.FileReference) != 2 {
		t.Fatalf("location = %+v", location)
	}
	peer, err := peers.Resolve(memoria.Conversation{ID: "42", Type: memoria.ConversationTypePrivate})
	if err != nil {
		t.Fatalf("resolve peer failed: %v", err)
	}
	if typed, ok := peer.(*tg.InputPeerUser); !ok || typed.AccessHash != 777 {
		t.Fatalf("peer = %#v, want user peer with access hash", peer)
	}
}

func TestDefaultGotdUpdateMapperSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  any
	}{
		{name: "outgoing", raw: &tg.UpdateNewMessage{Message: &tg.Message{ID: 1, Out: true, PeerID: &tg.PeerUser{UserID: 1}}}},
		{name: "service message", raw: &tg.UpdateNewMessage{Message: &tg.MessageService{ID: 1}}},
		{name: "edit", raw: &tg.UpdateEditMessage{Message: &tg.Message{ID: 1}}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, accepted, err := NewDefaultGotdUpdateMapper().Map(context.Background(), testCase.raw)
			if err != nil {
				t.Fatalf("map failed: %v", err)
			}
			if accepted {
				t.Fatal("expected update to be skipped")
			}
		})
	}
}

func TestDefaultGotdUpdateMapperMapsSupergroupText(t *testing.T) {
	t.Parallel()

	envelope := gotdUpdateEnvelope{
		update: &tg.UpdateNewChannelMessage{Message: &tg.Message{
			ID:      5,
			PeerID:  &tg.PeerChannel{ChannelID: 100},
			FromID:  &tg.PeerUser{UserID: 1},
			Message: "hallo",
		}},
		occurredAt: time.Unix(1700000000, 0).UTC(),
		chatsByID: indexGotdChats([]tg.ChatClass{
			&tg.Channel{ID: 100, AccessHash: 3, Title: "Familie", Megagroup: true},
		}),
	}

	update, accepted, err := NewDefaultGotdUpdateMapper().Map(context.Background(), envelope)
	if err != nil || !accepted {
		t.Fatalf("map = accepted %v err %v, want accepted", accepted, err)
	}
	if update.Chat.Type != memoria.ConversationTypeGroup || update.Chat.Title != "Familie" {
		t.Fatalf("chat = %+v, want group Familie", update.Chat)
	}
	if update.Actor.ID != "1" {
		t.Fatalf("actor id = %q, want 1", update.Actor.ID)
	}
	if !update.OccurredAt.Equal(envelope.occurredAt) {
		t.Fatalf("occurred at = %s, want envelope time", update.OccurredAt)
	}
}

func TestDefaultGotdUpdateMapperMapContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewDefaultGotdUpdateMapper().Map(ctx, &tg.UpdateNewMessage{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestMediaTypeFromDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mimeType     string
		attributes   []tg.DocumentAttributeClass
		wantType     memoria.MediaType
		wantDuration time.Duration
	}{
		{
			name:         "voice",
			mimeType:     "audio/ogg",
			attributes:   []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true, Duration: 3}},
			wantType:     memoria.MediaTypeVoice,
			wantDuration: 3 * time.Second,
		},
		{
			name:         "music",
			mimeType:     "audio/mpeg",
			attributes:   []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Duration: 200}},
			wantType:     memoria.MediaTypeAudio,
			wantDuration: 200 * time.Second,
		},
		{name: "image by mime", mimeType: "image/png", wantType: memoria.MediaTypePhoto},
		{name: "plain document", mimeType: "application/pdf", wantType: memoria.MediaTypeDocument},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			gotType, gotDuration := mediaTypeFromDocument(testCase.mimeType, testCase.attributes)
			if gotType != testCase.wantType || gotDuration != testCase.wantDuration {
				t.Fatalf("media = %s/%s, want %s/%s", gotType, gotDuration, testCase.wantType, testCase.wantDuration)
			}
		})
	}
}

func TestGotdBotSourceConsume(t *testing.T) {
	t.Parallel()

	stream := make(chan any, 3)
	stream <- "not an update"
	stream <- &tg.UpdateEditMessage{}
	stream <- gotdUpdateEnvelope{
		update: &tg.UpdateNewMessage{Message: &tg.Message{ID: 8, PeerID: &tg.PeerUser{UserID: 3}, Message: "x"}},
	}
	close(stream)

	var mapErrors int
	source, err := NewGotdBotSource(
		runClientStub{},
		rawStreamStub{updates: stream},
		NewDefaultGotdUpdateMapper(),
		WithMapErrorHandler(func(context.Context, error) { mapErrors++ }),
	)
	if err != nil {
		t.Fatalf("new gotd bot source failed: %v", err)
	}

	var received []Update
	err = source.Consume(context.Background(), func(_ context.Context, update Update) error {
		received = append(received, update)
		return nil
	})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if mapErrors != 1 {
		t.Fatalf("map errors = %d, want 1", mapErrors)
	}
	if len(received) != 1 || received[0].Message.ID != "8" {
		t.Fatalf("received = %+v, want message 8", received)
	}
}

type runClientStub struct{}

func (runClientStub) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return fn(ctx)
}

type rawStreamStub struct {
	updates chan any
}

func (s rawStreamStub) Updates(context.Context) (<-chan any, error) {
	return s.updates, nil
}
