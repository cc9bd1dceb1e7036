package progress

import (
	"context"
	"errors"
	"testing"

	"memoria/pkg/memoria"
)

func TestMessageLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		sendErr   error
		editErr   error
		wantSends int
		wantEdits int
		wantErr   bool
	}{
		{name: "edits in place", wantSends: 1, wantEdits: 2},
		{name: "report falls back to new message", editErr: errors.New("not found"), wantSends: 2},
		{name: "unreachable chat", sendErr: errors.New("blocked"), wantSends: 2, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			dispatcher := &dispatcherStub{sendErr: testCase.sendErr, editErr: testCase.editErr}
			target := memoria.OutboundTarget{
				Platform:     memoria.PlatformTelegram,
				Conversation: memoria.Conversation{ID: "1", Type: memoria.ConversationTypePrivate},
			}
			status := New(dispatcher, target, "10", nil)

			ctx := context.Background()
			startErr := status.Start(ctx, "start")
			if (startErr != nil) != (testCase.sendErr != nil) {
				t.Fatalf("Start error = %v", startErr)
			}
			status.Step(ctx, "step")
			err := status.Report(ctx, Plain("done"))
			if (err != nil) != testCase.wantErr {
				t.Fatalf("Report error = %v, wantErr %v", err, testCase.wantErr)
			}

			if dispatcher.sends != testCase.wantSends {
				t.Fatalf("sends = %d, want %d", dispatcher.sends, testCase.wantSends)
			}
			if dispatcher.edits != testCase.wantEdits {
				t.Fatalf("edits = %d, want %d", dispatcher.edits, testCase.wantEdits)
			}
			if dispatcher.lastReplyTo != "10" {
				t.Fatalf("reply to = %q, want 10", dispatcher.lastReplyTo)
			}
		})
	}
}

type dispatcherStub struct {
	sendErr     error
	editErr     error
	sends       int
	edits       int
	lastReplyTo string
}

func (d *dispatcherStub) SendMessage(
	_ context.Context,
	request memoria.SendMessageRequest,
) (*memoria.OutboundMessage, error) {
	d.sends++
	d.lastReplyTo = request.ReplyToMessageID
	if d.sendErr != nil {
		return nil, d.sendErr
	}

	return &memoria.OutboundMessage{ID: "status-1", Target: request.Target}, nil
}

func (d *dispatcherStub) EditMessage(_ context.Context, request memoria.EditMessageRequest) error {
	if request.MessageID != "status-1" {
		return errors.New("unexpected message id")
	}
	if d.editErr != nil {
		return d.editErr
	}
	d.edits++

	return nil
}
