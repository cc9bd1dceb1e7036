package help

import (
	"context"
	"fmt"

	"memoria/pkg/memoria"
)

const (
	startCommandName = "start"
	helpCommandName  = "help"
)

// Module answers /start with a welcome text and /help with the usage guide.
type Module struct {
	dispatcher memoria.SinkDispatcher
}

// New creates a help module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Capabilities declares interest in the start and help commands.
func (m *Module) Capabilities() []memoria.Capability {
	return []memoria.Capability{
		{
			Name:        "help-command-handler",
			Description: "renders the welcome and usage texts for /start and /help",
			Interest:    commandInterest(),
			RequiredServices: []string{
				memoria.ServiceSinkDispatcher,
			},
		},
	}
}

// OnRegister resolves dependencies and subscribes to command events.
func (m *Module) OnRegister(ctx context.Context, runtime memoria.ModuleRuntime) error {
	dispatcher, err := memoria.ResolveAs[memoria.SinkDispatcher](
		runtime.Services(),
		memoria.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	if _, err := runtime.Subscribe(ctx, memoria.SubscriptionSpec{
		Name:   "help-commands",
		Filter: commandInterest(),
	}, m.handleCommand); err != nil {
		return fmt.Errorf("help subscribe: %w", err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func commandInterest() memoria.InterestSet {
	return memoria.InterestSet{
		Kinds:    []memoria.EventKind{memoria.EventKindMessageCreated},
		Commands: []string{startCommandName, helpCommandName},
	}
}

func (m *Module) handleCommand(ctx context.Context, event *memoria.Event) error {
	command, ok := memoria.CommandFromEvent(event)
	if !ok {
		return nil
	}

	var body *memoria.RichText
	switch command.Name {
	case startCommandName:
		body = renderStart()
	case helpCommandName:
		body = renderHelp()
	default:
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("help handle command: outbound dispatcher not configured")
	}

	target, err := memoria.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, memoria.SendMessageRequest{
		Target:             target,
		Text:               body.String(),
		Entities:           body.Entities(),
		ReplyToMessageID:   event.Message.ID,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("help send %s message: %w", command.Name, err)
	}

	return nil
}

func renderStart() *memoria.RichText {
	var text memoria.RichText
	text.Plain("🎉 Willkommen beim Tochter-Erinnerungen Bot! 🎉\n\n").
		Plain("Dieser Bot hilft dir dabei, die schönsten und lustigsten Momente mit deiner Tochter festzuhalten.\n\n").
		Bold("📝 So funktioniert's:").
		Plain("\n• Sende mir eine Sprachnachricht mit einer Erinnerung\n").
		Plain("• Ich transkribiere sie und mache sie schöner\n").
		Plain("• Alles wird automatisch mit Datum gespeichert\n\n").
		Bold("📊 Verfügbare Befehle:").
		Plain("\n/help - Diese Hilfe anzeigen\n").
		Plain("/monats_zusammenfassung - Zusammenfassung des aktuellen Monats\n").
		Plain("/jahres_zusammenfassung - Zusammenfassung des aktuellen Jahres\n\n").
		Plain("Sende einfach eine Sprachnachricht, um zu beginnen! 🎤")

	return &text
}

func renderHelp() *memoria.RichText {
	var text memoria.RichText
	text.Bold("📖 Hilfe - Tochter-Erinnerungen Bot").
		Plain("\n\n").
		Bold("🎤 Sprachnachrichten senden:").
		Plain("\nSende einfach eine Sprachnachricht mit einer Erinnerung an deine Tochter. Der Bot wird:\n").
		Plain("1. Die Nachricht transkribieren\n").
		Plain("2. Den Text stilistisch verbessern\n").
		Plain("3. Mit Datum in der Google-Tabelle speichern\n\n").
		Bold("📊 Verfügbare Befehle:").
		Plain("\n• /start - Bot starten und Willkommensnachricht\n").
		Plain("• /help - Diese Hilfe anzeigen\n").
		Plain("• /monats_zusammenfassung [JJJJ-MM] - Zusammenfassung eines Monats, ohne Angabe der aktuelle\n").
		Plain("• /jahres_zusammenfassung [JJJJ] - Zusammenfassung eines Jahres, ohne Angabe das aktuelle\n\n").
		Bold("💡 Tipps:").
		Plain("\n• Sprich deutlich für bessere Transkription\n").
		Plain("• Erzähle ruhig Details - der Bot macht daraus schöne Erinnerungen\n").
		Plain("• Sprachnachrichten dürfen höchstens 5 Minuten lang sein\n\n").
		Plain("Bei Problemen wende dich an den Administrator.")

	return &text
}

var _ memoria.Module = (*Module)(nil)
