package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memoria/modules/internal/progress"
	"memoria/pkg/memoria"
)

const (
	stageDownloading  = "downloading"
	stageTranscribing = "transcribing"
	stageRefining     = "refining"
	stagePersisting   = "persisting"

	defaultVoiceMIMEType = "audio/ogg"
	defaultVoiceFileName = "voice_message.ogg"
)

// durationChecker is implemented by transcribers that bound the accepted
// voice length, so oversized messages are refused before download.
type durationChecker interface {
	CheckDuration(duration time.Duration) error
}

// handleVoice runs one pipeline to a terminal report. Every failure is
// reported to the user and logged; the handler itself never fails the worker.
func (m *Module) handleVoice(ctx context.Context, event *memoria.Event) error {
	voice, ok := event.Voice()
	if !ok {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("journal handle voice: outbound dispatcher not configured")
	}
	target, err := memoria.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("journal derive outbound target: %w", err)
	}

	logger := m.logger.With(
		"conversation_id", event.Conversation.ID,
		"message_id", event.Message.ID,
	)
	status := progress.New(m.dispatcher, target, event.Message.ID, logger)

	logger.InfoContext(ctx, "voice message received",
		"duration", voice.Duration,
		"size_bytes", voice.SizeBytes,
	)
	outcome, err := recoverPipeline(func() (string, error) {
		return m.process(ctx, event, voice, status, logger)
	})
	if err != nil {
		outcome = memoria.OutcomeFailure
		logger.ErrorContext(ctx, "voice pipeline failed", "outcome", outcome, "error", err)
		if reportErr := status.Report(ctx, progress.Plain(textFailure)); reportErr != nil {
			logger.ErrorContext(ctx, "failure report not delivered", "error", reportErr)
		}
	} else {
		logger.InfoContext(ctx, "voice pipeline finished", "outcome", outcome)
	}
	if m.metrics != nil {
		m.metrics.ObserveOutcome(outcome)
	}

	return nil
}

// process advances through the pipeline stages. A returned error means the
// generic failure report; every other terminal state is reported here.
func (m *Module) process(
	ctx context.Context,
	event *memoria.Event,
	voice memoria.MediaAttachment,
	status *progress.Message,
	logger *slog.Logger,
) (string, error) {
	if err := status.Start(ctx, textProcessing); err != nil {
		return "", err
	}

	if checker, ok := m.transcriber.(durationChecker); ok {
		if err := checker.CheckDuration(voice.Duration); err != nil {
			return m.finish(ctx, status, memoria.OutcomeTooLong, progress.Plain(textTooLong))
		}
	}

	status.Step(ctx, textDownloading)
	var audio []byte
	err := m.timeStage(stageDownloading, func() (err error) {
		audio, err = m.downloader.DownloadMedia(ctx, memoria.MediaDownloadRequest{
			Platform:     event.Platform,
			Conversation: event.Conversation,
			MessageID:    event.Message.ID,
			Media:        voice,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("download voice message: %w", err)
	}

	status.Step(ctx, textTranscribing)
	var transcript memoria.TranscriptionResult
	err = m.timeStage(stageTranscribing, func() (err error) {
		transcript, err = m.transcriber.Transcribe(ctx, memoria.TranscriptionRequest{
			Audio:    audio,
			MIMEType: valueOr(voice.MIMEType, defaultVoiceMIMEType),
			FileName: valueOr(voice.FileName, defaultVoiceFileName),
			Duration: voice.Duration,
		})
		return err
	})
	switch {
	case errors.Is(err, memoria.ErrNoSpeech):
		logger.InfoContext(ctx, "no usable speech", "error", err)
		return m.finish(ctx, status, memoria.OutcomeNoSpeech, progress.Plain(textNoSpeech))
	case errors.Is(err, memoria.ErrAudioTooLong):
		return m.finish(ctx, status, memoria.OutcomeTooLong, progress.Plain(textTooLong))
	case err != nil:
		return "", fmt.Errorf("transcribe voice message: %w", err)
	}

	status.Step(ctx, textRefining)
	var enhanced string
	_ = m.timeStage(stageRefining, func() error {
		enhanced = m.refiner.Refine(ctx, transcript.Text)
		return nil
	})

	record, err := memoria.NewMemoryRecord(
		m.clock.Now(),
		m.clock.Location(),
		event.Actor.Name(),
		transcript.Text,
		enhanced,
	)
	if err != nil {
		return "", fmt.Errorf("build memory record: %w", err)
	}

	status.Step(ctx, textSaving)
	err = m.timeStage(stagePersisting, func() error {
		return m.store.Append(ctx, record)
	})
	if err != nil {
		logger.WarnContext(ctx, "memory record not stored", "error", err)
		return m.finish(ctx, status, memoria.OutcomePartialFailure, renderPartialFailure(record))
	}

	return m.finish(ctx, status, memoria.OutcomeSuccess, renderSuccess(record))
}

// finish delivers a terminal report for outcome.
func (m *Module) finish(
	ctx context.Context,
	status *progress.Message,
	outcome string,
	body *memoria.RichText,
) (string, error) {
	if err := status.Report(ctx, body); err != nil {
		return "", fmt.Errorf("report %s: %w", outcome, err)
	}

	return outcome, nil
}

func (m *Module) timeStage(stage string, fn func() error) error {
	started := m.now()
	err := fn()
	if m.metrics != nil {
		m.metrics.ObserveStage(stage, m.now().Sub(started))
	}

	return err
}

// recoverPipeline converts a panic inside fn into an error.
func recoverPipeline(fn func() (string, error)) (outcome string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = ""
			err = fmt.Errorf("voice pipeline: panic recovered: %v", recovered)
		}
	}()

	return fn()
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
