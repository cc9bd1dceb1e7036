package summary

import "strconv"

var monthNames = [...]string{
	"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember",
}

var monthAbbreviations = [...]string{
	"Jan", "Feb", "Mär", "Apr", "Mai", "Jun",
	"Jul", "Aug", "Sep", "Okt", "Nov", "Dez",
}

// MonthName returns the German month name, or the number itself outside 1..12.
func MonthName(month int) string {
	return lookup(monthNames, month)
}

// MonthAbbreviation returns the short German month name, or the number itself outside 1..12.
func MonthAbbreviation(month int) string {
	return lookup(monthAbbreviations, month)
}

func lookup(table [12]string, month int) string {
	if month < 1 || month > len(table) {
		return strconv.Itoa(month)
	}

	return table[month-1]
}

// truncate keeps the first limit runes and, when more than limit-3 remain,
// cuts to limit-3 runes followed by an ellipsis.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	if len(runes) > limit-3 {
		return string(runes[:limit-3]) + "..."
	}

	return string(runes)
}
