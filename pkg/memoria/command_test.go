package memoria

import "testing"

// TestParseCommand verifies command name, mention and argument extraction.
func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		want   Command
		wantOK bool
	}{
		{name: "bare command", text: "/start", want: Command{Name: "start"}, wantOK: true},
		{name: "mention suffix", text: "/help@memoria_bot", want: Command{Name: "help", Mention: "memoria_bot"}, wantOK: true},
		{
			name:   "arguments are trimmed",
			text:   "  /monats_zusammenfassung   2024-03 ",
			want:   Command{Name: "monats_zusammenfassung", Args: "2024-03"},
			wantOK: true,
		},
		{name: "newline separates arguments", text: "/jahres_zusammenfassung\n2023", want: Command{Name: "jahres_zusammenfassung", Args: "2023"}, wantOK: true},
		{name: "name is lowercased", text: "/HELP", want: Command{Name: "help"}, wantOK: true},
		{name: "plain text", text: "hello", wantOK: false},
		{name: "prefix only", text: "/", wantOK: false},
		{name: "path is not a command", text: "/usr/bin", wantOK: false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ParseCommand(testCase.text)
			if ok != testCase.wantOK {
				t.Fatalf("ok = %v, want %v", ok, testCase.wantOK)
			}
			if got != testCase.want {
				t.Fatalf("command = %+v, want %+v", got, testCase.want)
			}
		})
	}
}
