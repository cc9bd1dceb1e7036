package summary

import (
	"fmt"
	"strings"

	"memoria/pkg/memoria"
)

const (
	listingLimit         = 10
	monthlyListingRunes  = 80
	fallbackListingRunes = 100
	yearlyHighlightRunes = 150
)

const monthlyPromptTemplate = `Du bist ein liebevoller Assistent, der dabei hilft, Erinnerungen an eine Tochter zusammenzufassen.

AUFGABE: Erstelle eine wunderschöne, emotionale Monats-Zusammenfassung für %s %d.

ERINNERUNGEN:
%s

REGELN:
- Schreibe in der Du-Form (als würdest du zu den Eltern sprechen)
- Sei warm, liebevoll und emotional
- Hebe besondere Momente hervor
- Verwende schöne, poetische Sprache
- Strukturiere die Zusammenfassung in Absätze
- Beginne mit einer schönen Einleitung
- Ende mit einem herzlichen Abschluss
- Erwähne konkrete Details aus den Erinnerungen
- Maximal 500 Wörter

ZUSAMMENFASSUNG:`

const yearlyPromptTemplate = `Du bist ein liebevoller Assistent, der dabei hilft, ein ganzes Jahr voller Erinnerungen an eine Tochter zusammenzufassen.

AUFGABE: Erstelle eine wunderschöne, emotionale Jahres-Zusammenfassung für %d.

HIGHLIGHTS AUS JEDEM MONAT:
%s

STATISTIKEN:
- Insgesamt %d Erinnerungen gesammelt
- Aktive Monate: %d

REGELN:
- Schreibe in der Du-Form (als würdest du zu den Eltern sprechen)
- Sei warm, liebevoll und emotional
- Reflektiere über das Wachstum und die Entwicklung
- Verwende poetische, herzliche Sprache
- Strukturiere in Absätze
- Beginne mit einer schönen Einleitung über das Jahr
- Ende mit einem hoffnungsvollen Ausblick
- Erwähne die Reise durch die Monate
- Maximal 600 Wörter

JAHRES-ZUSAMMENFASSUNG:`

const emptyMonthTemplate = `📅 **Monats-Zusammenfassung %s %d**

📝 **Noch keine Erinnerungen gesammelt**

💡 **Tipp:** Sende Sprachnachrichten über die schönen Momente mit deiner Tochter, um diesen Monat mit Leben zu füllen!

🎤 Erzähle von:
• Lustigen Sprüchen oder Reaktionen
• Besonderen Momenten im Alltag
• Neuen Fähigkeiten oder Entwicklungen
• Gemeinsamen Erlebnissen und Abenteuern

💝 Jede kleine Erinnerung ist wertvoll!`

const emptyYearTemplate = `📅 **Jahres-Zusammenfassung %d**

📝 **Noch keine Erinnerungen gesammelt**

🌟 **Ein neues Jahr voller Möglichkeiten!**

Dieses Jahr ist wie ein leeres Buch, das darauf wartet, mit wundervollen Erinnerungen an deine Tochter gefüllt zu werden.

💡 **Starte jetzt:**
• Sende täglich kleine Sprachnachrichten
• Halte besondere Momente fest
• Sammle lustige Sprüche und süße Reaktionen
• Dokumentiere Entwicklungsschritte

💝 Am Ende des Jahres wirst du ein wunderschönes Erinnerungsbuch haben!`

// EmptyMonth renders the digest of a month without records.
func EmptyMonth(year, month int) string {
	return fmt.Sprintf(emptyMonthTemplate, MonthName(month), year)
}

// EmptyYear renders the digest of a year without records.
func EmptyYear(year int) string {
	return fmt.Sprintf(emptyYearTemplate, year)
}

func monthlyPrompt(year, month int, lines []string) string {
	return fmt.Sprintf(monthlyPromptTemplate, MonthName(month), year, strings.Join(lines, "\n"))
}

func yearlyPrompt(year int, highlights []string, total, activeMonths int) string {
	return fmt.Sprintf(yearlyPromptTemplate, year, strings.Join(highlights, "\n"), total, activeMonths)
}

func renderMonthly(year, month int, records []memoria.MemoryRecord, narrative string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Monats-Zusammenfassung %s %d**\n\n", MonthName(month), year)
	fmt.Fprintf(&b, "📝 **%d wundervolle Erinnerungen gesammelt**\n\n", len(records))
	b.WriteString("✨ **Dein Monat im Rückblick:**\n\n")
	b.WriteString(narrative)
	b.WriteString("\n\n📅 **Alle Erinnerungen:**\n")
	writeListing(&b, records, monthlyListingRunes)
	if len(records) > listingLimit {
		fmt.Fprintf(&b, "\n... und %d weitere kostbare Momente\n", len(records)-listingLimit)
	}
	b.WriteString("\n💝 Was für ein besonderer Monat mit deiner Tochter!")

	return b.String()
}

func renderYearly(year int, total int, groups []monthGroup, narrative string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Jahres-Zusammenfassung %d**\n\n", year)
	fmt.Fprintf(&b, "📝 **%d kostbare Erinnerungen gesammelt**\n", total)
	fmt.Fprintf(&b, "📅 **%d aktive Monate**\n\n", len(groups))
	b.WriteString("✨ **Dein Jahr im Rückblick:**\n\n")
	b.WriteString(narrative)
	b.WriteString("\n\n📈 **Erinnerungen pro Monat:**\n")
	for _, group := range groups {
		fmt.Fprintf(&b, "• %s: %d Erinnerungen\n", MonthAbbreviation(group.month), len(group.records))
	}
	b.WriteString("\n🌟 Ein ganzes Jahr voller Liebe, Lachen und unvergesslicher Momente mit deiner Tochter!")

	return b.String()
}

// FallbackMonth renders the provider-free monthly digest.
func FallbackMonth(year, month int, records []memoria.MemoryRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Monats-Zusammenfassung %s %d**\n\n", MonthName(month), year)
	fmt.Fprintf(&b, "📝 **%d Erinnerungen gesammelt**\n\n", len(records))
	b.WriteString("📅 **Deine Erinnerungen:**\n")
	writeListing(&b, records, fallbackListingRunes)
	if len(records) > listingLimit {
		fmt.Fprintf(&b, "\n... und %d weitere Erinnerungen\n", len(records)-listingLimit)
	}
	b.WriteString("\n💝 Was für ein wundervoller Monat mit deiner Tochter!")

	return b.String()
}

// FallbackYear renders the provider-free yearly digest.
func FallbackYear(year int, records []memoria.MemoryRecord) string {
	groups := groupByMonth(records)

	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Jahres-Zusammenfassung %d**\n\n", year)
	fmt.Fprintf(&b, "📝 **%d Erinnerungen gesammelt**\n", len(records))
	fmt.Fprintf(&b, "📅 **%d aktive Monate**\n\n", len(groups))
	b.WriteString("📈 **Erinnerungen pro Monat:**\n")
	for _, group := range groups {
		fmt.Fprintf(&b, "• %s: %d Erinnerungen\n", group.label, len(group.records))
	}
	b.WriteString("\n💝 Ein ganzes Jahr voller wundervoller Momente mit deiner Tochter!")

	return b.String()
}

func writeListing(b *strings.Builder, records []memoria.MemoryRecord, limit int) {
	for index, record := range records {
		if index == listingLimit {
			break
		}
		fmt.Fprintf(b, "%d. [%s] %s\n", index+1, record.Date(), truncate(record.EnhancedText, limit))
	}
}
