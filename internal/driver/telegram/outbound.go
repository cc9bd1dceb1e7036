package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"memoria/pkg/memoria"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

const defaultOutboundTimeout = 10 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// SinkDispatcher adapts memoria outbound operations to Telegram RPC calls.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
}

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{rpcTimeout: defaultOutboundTimeout}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{cfg: cfg, peers: peers, telegram: rpc}, nil
}

// SendMessage publishes a text message to a Telegram conversation.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request memoria.SendMessageRequest,
) (*memoria.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message resolve peer: %w", err)
	}
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return nil, fmt.Errorf("send message map entities: %w", err)
	}
	replyTo := 0
	if request.ReplyToMessageID != "" {
		replyTo, err = parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return nil, fmt.Errorf("send message parse reply id %s: %w", request.ReplyToMessageID, err)
		}
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	id, err := d.telegram.SendText(rpcCtx, peer, outboundText{
		text:      request.Text,
		entities:  entities,
		noWebpage: request.DisableLinkPreview,
		replyTo:   replyTo,
	})
	if err != nil {
		return nil, mapTelegramError("send message to "+request.Target.Conversation.ID, err)
	}

	d.logOutbound(ctx, "send_message",
		"conversation_id", request.Target.Conversation.ID,
		"message_id", id,
	)

	return &memoria.OutboundMessage{ID: strconv.Itoa(id), Target: request.Target}, nil
}

// EditMessage updates text for an existing Telegram message. Editing to the
// current text is treated as success.
func (d *SinkDispatcher) EditMessage(ctx context.Context, request memoria.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("edit message resolve peer: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("edit message parse id %s: %w", request.MessageID, err)
	}
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return fmt.Errorf("edit message map entities: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	err = d.telegram.EditText(rpcCtx, peer, messageID, outboundText{
		text:      request.Text,
		entities:  entities,
		noWebpage: request.DisableLinkPreview,
	})
	if err != nil && !tgerr.Is(err, rpcErrorMessageNotModified) {
		return mapTelegramError("edit message "+request.MessageID, err)
	}

	d.logOutbound(ctx, "edit_message",
		"conversation_id", request.Target.Conversation.ID,
		"message_id", request.MessageID,
	)

	return nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

func (d *SinkDispatcher) resolvePeer(target memoria.OutboundTarget) (tg.InputPeerClass, error) {
	if target.Platform != "" && target.Platform != DriverPlatform {
		return nil, fmt.Errorf("%w: platform %s", memoria.ErrOutboundUnsupported, target.Platform)
	}

	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation %s: %w", target.Conversation.ID, err)
	}

	return peer, nil
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation string, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 4+len(attrs))
	values = append(values, "operation", operation, "platform", DriverPlatform)
	values = append(values, attrs...)
	d.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", memoria.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", memoria.ErrInvalidOutboundRequest)
	}

	return value, nil
}

// mapOutboundTextEntities converts code point ranges into the UTF-16 ranges
// Telegram expects.
func mapOutboundTextEntities(text string, entities []memoria.TextEntity) ([]tg.MessageEntityClass, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	utf16Offsets := buildUTF16Offsets(text)
	converted := make([]tg.MessageEntityClass, 0, len(entities))
	for index, entity := range entities {
		start := entity.Offset
		end := entity.Offset + entity.Length
		if start < 0 || end <= start || end >= len(utf16Offsets) {
			return nil, fmt.Errorf("%w: entity[%d] invalid range [%d,%d) for text runes %d",
				memoria.ErrInvalidOutboundRequest, index, start, end, len(utf16Offsets)-1)
		}

		offset := utf16Offsets[start]
		length := utf16Offsets[end] - offset
		switch entity.Type {
		case memoria.TextEntityTypeBold:
			converted = append(converted, &tg.MessageEntityBold{Offset: offset, Length: length})
		case memoria.TextEntityTypeItalic:
			converted = append(converted, &tg.MessageEntityItalic{Offset: offset, Length: length})
		default:
			return nil, fmt.Errorf("%w: unsupported text entity type %q", memoria.ErrOutboundUnsupported, entity.Type)
		}
	}

	return converted, nil
}

func buildUTF16Offsets(text string) []int {
	offsets := make([]int, 1, len(text)+1)
	current := 0
	for _, value := range text {
		current += utf16RuneLength(value)
		offsets = append(offsets, current)
	}

	return offsets
}

func utf16RuneLength(value rune) int {
	if value >= 0x10000 && value <= 0x10FFFF {
		return 2
	}

	return 1
}

type outboundText struct {
	text      string
	entities  []tg.MessageEntityClass
	noWebpage bool
	replyTo   int
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, message outboundText) (int, error)
	EditText(ctx context.Context, peer tg.InputPeerClass, messageID int, message outboundText) error
}

type gotdOutboundRPC struct {
	raw  *tg.Client
	rand io.Reader
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	return gotdOutboundRPC{raw: client.API(), rand: crypto.DefaultRand()}
}

func (r gotdOutboundRPC) SendText(ctx context.Context, peer tg.InputPeerClass, message outboundText) (int, error) {
	request := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   message.text,
		NoWebpage: message.noWebpage,
		Entities:  message.entities,
	}
	if message.replyTo > 0 {
		request.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: message.replyTo}
	}

	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	request.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditText(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	message outboundText,
) error {
	_, err := r.raw.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:      peer,
		ID:        messageID,
		Message:   message.text,
		NoWebpage: message.noWebpage,
		Entities:  message.entities,
	})
	if err != nil {
		return fmt.Errorf("edit text: %w", err)
	}

	return nil
}

var _ memoria.SinkDispatcher = (*SinkDispatcher)(nil)
