package journal

import (
	"memoria/pkg/memoria"
)

const (
	textProcessing   = "🎤 Verarbeite deine Sprachnachricht..."
	textDownloading  = "📥 Lade Sprachnachricht herunter..."
	textTranscribing = "🎯 Transkribiere Sprachnachricht..."
	textRefining     = "✨ Bereite Text auf..."
	textSaving       = "💾 Speichere Erinnerung..."

	textTooLong = "❌ Sprachnachricht zu lang! Bitte sende maximal 5 Minuten."

	textNoSpeech = "❌ Entschuldigung, ich konnte die Sprachnachricht nicht verstehen.\n\n" +
		"💡 Tipps:\n" +
		"• Sprich deutlich und nicht zu schnell\n" +
		"• Vermeide Hintergrundgeräusche\n" +
		"• Sprich mindestens 2-3 Sekunden"

	textFailure = "❌ Ein unerwarteter Fehler ist aufgetreten.\n\n" +
		"🔧 Bitte versuche es in ein paar Minuten erneut.\n" +
		"📞 Falls das Problem weiterhin besteht, wende dich an den Administrator."

	textVoiceOnly = "📝 Ich verstehe nur Sprachnachrichten! 🎤\n\n" +
		"Bitte sende mir eine Sprachnachricht mit deiner Erinnerung."

	savedAtLayout = "02.01.2006 um 15:04 Uhr"
)

func renderSuccess(record memoria.MemoryRecord) *memoria.RichText {
	var text memoria.RichText
	text.Bold("✅ Erinnerung erfolgreich gespeichert!").Plain("\n\n")
	writeTexts(&text, record)
	text.Plain("\n\n").
		Bold("📅 Gespeichert am:").
		Plain(" " + record.Timestamp.Format(savedAtLayout) + "\n\n").
		Plain("💝 Eine weitere schöne Erinnerung für deine Tochter!")

	return &text
}

func renderPartialFailure(record memoria.MemoryRecord) *memoria.RichText {
	var text memoria.RichText
	text.Bold("⚠️ Transkription erfolgreich, aber Speichern fehlgeschlagen").Plain("\n\n")
	writeTexts(&text, record)
	text.Plain("\n\n").
		Bold("❌ Hinweis:").
		Plain(" Die Erinnerung konnte nicht gespeichert werden.\n\n").
		Bold("💡 Tipp:").
		Plain(" Kopiere dir den Text als Backup!")

	return &text
}

func writeTexts(text *memoria.RichText, record memoria.MemoryRecord) {
	text.Bold("📝 Original-Transkript:").
		Plain("\n").
		Italic(record.OriginalText).
		Plain("\n\n").
		Bold("✨ Aufbereitete Version:").
		Plain("\n" + record.EnhancedText)
}
