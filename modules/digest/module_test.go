package digest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"memoria/internal/summary"
	"memoria/pkg/memoria"
)

func TestHandleCommand(t *testing.T) {
	records := []memoria.MemoryRecord{
		newRecord(t, time.Date(2022, 5, 2, 9, 0, 0, 0, time.UTC), "Sie hat heute laufen gelernt."),
		newRecord(t, time.Date(2022, 7, 9, 18, 0, 0, 0, time.UTC), "Am See hat sie zum ersten Mal Enten gefüttert."),
	}

	tests := []struct {
		name        string
		text        string
		records     []memoria.MemoryRecord
		queryErr    error
		wantQuery   string
		wantFinal   string
		wantSummary []string
	}{
		{
			name:        "empty current month",
			text:        "/monats_zusammenfassung",
			wantQuery:   "month:2024-03",
			wantFinal:   markupText(summary.EmptyMonth(2024, 3)),
			wantSummary: []string{"month:success"},
		},
		{
			name:        "explicit month",
			text:        "/monats_zusammenfassung 2023-12",
			wantQuery:   "month:2023-12",
			wantFinal:   markupText(summary.EmptyMonth(2023, 12)),
			wantSummary: []string{"month:success"},
		},
		{
			name:        "current year",
			text:        "/jahres_zusammenfassung",
			wantQuery:   "year:2024",
			wantFinal:   markupText(summary.EmptyYear(2024)),
			wantSummary: []string{"year:success"},
		},
		{
			name:        "explicit year with records",
			text:        "/jahres_zusammenfassung@memoria_bot 2022",
			records:     records,
			wantQuery:   "year:2022",
			wantFinal:   markupText(summary.FallbackYear(2022, records)),
			wantSummary: []string{"year:success"},
		},
		{
			name:        "store failure is generic",
			text:        "/jahres_zusammenfassung",
			queryErr:    memoria.ErrTransient,
			wantQuery:   "year:2024",
			wantFinal:   "❌ Fehler beim Erstellen der Jahres-Zusammenfassung.",
			wantSummary: []string{"year:failure"},
		},
		{
			name:      "invalid month",
			text:      "/monats_zusammenfassung 2024-13",
			wantFinal: "⚠️ Ungültiger Monat. Beispiel: /monats_zusammenfassung 2024-03",
		},
		{
			name:      "invalid year",
			text:      "/jahres_zusammenfassung zwanzig",
			wantFinal: "⚠️ Ungültiges Jahr. Beispiel: /jahres_zusammenfassung 2024",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fixture := newFixture(summary.New(nil, summary.Settings{}))
			fixture.store.records = testCase.records
			fixture.store.err = testCase.queryErr

			if err := fixture.module.handleCommand(context.Background(), newCommandEvent(testCase.text)); err != nil {
				t.Fatalf("handleCommand failed: %v", err)
			}

			if got := strings.Join(fixture.store.queried(), ","); got != testCase.wantQuery {
				t.Fatalf("queries = %q, want %q", got, testCase.wantQuery)
			}
			if got := fixture.dispatcher.finalText(); got != testCase.wantFinal {
				t.Fatalf("final text = %q, want %q", got, testCase.wantFinal)
			}
			if got := fixture.metrics.summaries(); strings.Join(got, ",") != strings.Join(testCase.wantSummary, ",") {
				t.Fatalf("summaries = %v, want %v", got, testCase.wantSummary)
			}
		})
	}
}

// TestHandleCommandProgressSteps verifies the status message walks through
// fetching and summarizing before the digest replaces it.
func TestHandleCommandProgressSteps(t *testing.T) {
	t.Parallel()

	fixture := newFixture(summary.New(nil, summary.Settings{}))
	if err := fixture.module.handleCommand(context.Background(), newCommandEvent("/monats_zusammenfassung")); err != nil {
		t.Fatalf("handleCommand failed: %v", err)
	}

	sent := fixture.dispatcher.sentTexts()
	if len(sent) != 1 || sent[0] != requests[monthCommandName].started {
		t.Fatalf("sent = %q, want status message only", sent)
	}
	edits := fixture.dispatcher.editTexts()
	if len(edits) != 3 {
		t.Fatalf("edits = %d, want 3", len(edits))
	}
	if edits[0] != requests[monthCommandName].fetching || edits[1] != requests[monthCommandName].summarizing {
		t.Fatalf("edits = %q", edits[:2])
	}
	if len(fixture.dispatcher.lastEditEntities()) == 0 {
		t.Fatal("digest entities = none, want bold headings")
	}
}

func TestHandleCommandSplitsLongDigest(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("Erinnerung ", 20) + "\n"
	long := strings.Repeat(line, 30)
	fixture := newFixture(summarizerFunc(func(context.Context, []memoria.MemoryRecord, memoria.Period) string {
		return long
	}))

	if err := fixture.module.handleCommand(context.Background(), newCommandEvent("/monats_zusammenfassung")); err != nil {
		t.Fatalf("handleCommand failed: %v", err)
	}

	sent := fixture.dispatcher.sentTexts()
	edits := fixture.dispatcher.editTexts()
	parts := append([]string{edits[len(edits)-1]}, sent[1:]...)
	if len(parts) < 2 {
		t.Fatalf("parts = %d, want the digest split", len(parts))
	}
	for index, part := range parts {
		if utf8.RuneCountInString(part) > maxMessageRunes {
			t.Fatalf("part %d has %d runes, want <= %d", index, utf8.RuneCountInString(part), maxMessageRunes)
		}
	}
	if joined := strings.Join(parts, "\n"); joined != strings.TrimRight(long, "\n") {
		t.Fatalf("joined parts differ from digest")
	}
}

func TestHandleCommandRecoversPanics(t *testing.T) {
	t.Parallel()

	fixture := newFixture(summarizerFunc(func(context.Context, []memoria.MemoryRecord, memoria.Period) string {
		panic("summarizer exploded")
	}))

	if err := fixture.module.handleCommand(context.Background(), newCommandEvent("/monats_zusammenfassung")); err != nil {
		t.Fatalf("handleCommand failed: %v", err)
	}
	if got := fixture.dispatcher.finalText(); got != requests[monthCommandName].failed {
		t.Fatalf("final text = %q, want failure text", got)
	}
	if got := fixture.metrics.summaries(); len(got) != 1 || got[0] != "month:failure" {
		t.Fatalf("summaries = %v, want [month:failure]", got)
	}
}

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "short", text: "a\nb", limit: 10, want: []string{"a\nb"}},
		{name: "line boundaries", text: "aaaa\nbbbb\ncccc", limit: 10, want: []string{"aaaa\nbbbb", "cccc"}},
		{name: "long line cut", text: "abcdefgh\nx", limit: 3, want: []string{"abc", "def", "gh", "x"}},
		{name: "runes not bytes", text: "ääää\nöööö", limit: 5, want: []string{"ääää", "öööö"}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := splitMessage(testCase.text, testCase.limit)
			if strings.Join(got, "|") != strings.Join(testCase.want, "|") {
				t.Fatalf("splitMessage = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestParsePeriods(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		parse   func(string, time.Time) (memoria.Period, error)
		args    string
		want    memoria.Period
		wantErr bool
	}{
		{name: "month default", parse: parseMonthPeriod, want: memoria.Period{Year: 2024, Month: 3}},
		{name: "month explicit", parse: parseMonthPeriod, args: " 2021-11 ", want: memoria.Period{Year: 2021, Month: 11}},
		{name: "month unpadded", parse: parseMonthPeriod, args: "2021-1", wantErr: true},
		{name: "month out of range", parse: parseMonthPeriod, args: "2021-00", wantErr: true},
		{name: "year default", parse: parseYearPeriod, want: memoria.Period{Year: 2024}},
		{name: "year explicit", parse: parseYearPeriod, args: "2019", want: memoria.Period{Year: 2019}},
		{name: "year too small", parse: parseYearPeriod, args: "19", wantErr: true},
		{name: "year words", parse: parseYearPeriod, args: "letztes", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := testCase.parse(testCase.args, now)
			if testCase.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("period = %+v, want %+v", got, testCase.want)
			}
		})
	}
}

func TestOnRegister(t *testing.T) {
	t.Parallel()

	services := map[string]any{
		memoria.ServiceSinkDispatcher: &dispatcherStub{},
		memoria.ServiceMemoryStore:    &storeStub{},
		memoria.ServiceSummarizer:     summary.New(nil, summary.Settings{}),
		memoria.ServiceClock:          memoria.NewZoneClock(time.UTC),
	}
	runtime := &runtimeStub{registry: registryStub{values: services}}
	module := New()
	if err := module.OnRegister(context.Background(), runtime); err != nil {
		t.Fatalf("OnRegister failed: %v", err)
	}
	if len(runtime.specs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(runtime.specs))
	}
	if !module.Capabilities()[0].Interest.Allows(runtime.specs[0].Filter) {
		t.Fatal("subscription filter not covered by capability")
	}

	delete(services, memoria.ServiceSummarizer)
	err := New().OnRegister(context.Background(), &runtimeStub{registry: registryStub{values: services}})
	if err == nil || !strings.Contains(err.Error(), "digest resolve summarizer") {
		t.Fatalf("error = %v, want missing summarizer", err)
	}
}

type fixture struct {
	module     *Module
	dispatcher *dispatcherStub
	store      *storeStub
	metrics    *metricsStub
}

func newFixture(summarizer memoria.Summarizer) *fixture {
	f := &fixture{
		dispatcher: &dispatcherStub{},
		store:      &storeStub{},
		metrics:    &metricsStub{},
	}
	f.module = New()
	f.module.dispatcher = f.dispatcher
	f.module.store = f.store
	f.module.summarizer = summarizer
	f.module.clock = fixedClock{at: time.Date(2024, 3, 15, 13, 30, 0, 0, time.UTC)}
	f.module.metrics = f.metrics

	return f
}

func newCommandEvent(text string) *memoria.Event {
	return &memoria.Event{
		ID:         "tg:1:20",
		Kind:       memoria.EventKindMessageCreated,
		OccurredAt: time.Unix(1, 0).UTC(),
		Platform:   memoria.PlatformTelegram,
		Conversation: memoria.Conversation{
			ID:   "1",
			Type: memoria.ConversationTypePrivate,
		},
		Actor:   memoria.Actor{ID: "7", DisplayName: "Anna"},
		Message: &memoria.Message{ID: "20", Text: text},
	}
}

func newRecord(t *testing.T, at time.Time, text string) memoria.MemoryRecord {
	t.Helper()

	record, err := memoria.NewMemoryRecord(at, time.UTC, "Anna", text, text)
	if err != nil {
		t.Fatalf("NewMemoryRecord failed: %v", err)
	}

	return record
}

func markupText(markup string) string {
	text, _ := memoria.Markup(markup)

	return text
}

type summarizerFunc func(context.Context, []memoria.MemoryRecord, memoria.Period) string

func (f summarizerFunc) SummarizePeriod(
	ctx context.Context,
	records []memoria.MemoryRecord,
	period memoria.Period,
) string {
	return f(ctx, records, period)
}

type dispatcherStub struct {
	mu    sync.Mutex
	sends []memoria.SendMessageRequest
	edits []memoria.EditMessageRequest
}

func (d *dispatcherStub) SendMessage(
	_ context.Context,
	request memoria.SendMessageRequest,
) (*memoria.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := request.Validate(); err != nil {
		return nil, err
	}
	d.sends = append(d.sends, request)

	return &memoria.OutboundMessage{ID: "status-1", Target: request.Target}, nil
}

func (d *dispatcherStub) EditMessage(_ context.Context, request memoria.EditMessageRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := request.Validate(); err != nil {
		return err
	}
	d.edits = append(d.edits, request)

	return nil
}

func (d *dispatcherStub) sentTexts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	texts := make([]string, 0, len(d.sends))
	for _, request := range d.sends {
		texts = append(texts, request.Text)
	}

	return texts
}

func (d *dispatcherStub) editTexts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	texts := make([]string, 0, len(d.edits))
	for _, request := range d.edits {
		texts = append(texts, request.Text)
	}

	return texts
}

func (d *dispatcherStub) lastEditEntities() []memoria.TextEntity {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.edits) == 0 {
		return nil
	}

	return d.edits[len(d.edits)-1].Entities
}

// finalText returns the last text the user sees: a trailing new message wins
// over edits of the status message.
func (d *dispatcherStub) finalText() string {
	sent := d.sentTexts()
	if len(sent) > 1 || len(d.editTexts()) == 0 {
		if len(sent) == 0 {
			return ""
		}
		return sent[len(sent)-1]
	}
	edits := d.editTexts()

	return edits[len(edits)-1]
}

type storeStub struct {
	mu      sync.Mutex
	records []memoria.MemoryRecord
	err     error
	queries []string
}

func (s *storeStub) Append(context.Context, memoria.MemoryRecord) error {
	return errors.New("append not expected")
}

func (s *storeStub) QueryByMonth(_ context.Context, year int, month int) ([]memoria.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, "month:"+memoria.FormatMonthKey(year, month))

	return s.records, s.err
}

func (s *storeStub) QueryByYear(_ context.Context, year int) ([]memoria.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, "year:"+memoria.Period{Year: year}.YearKey())

	return s.records, s.err
}

func (s *storeStub) Close(context.Context) error {
	return nil
}

func (s *storeStub) queried() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.queries...)
}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time {
	return c.at
}

func (c fixedClock) Location() *time.Location {
	return time.UTC
}

type metricsStub struct {
	mu      sync.Mutex
	summary []string
}

func (m *metricsStub) ObserveOutcome(string) {}

func (m *metricsStub) ObserveStage(string, time.Duration) {}

func (m *metricsStub) ObserveSummary(period string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = append(m.summary, period+":"+outcome)
}

func (m *metricsStub) summaries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.summary...)
}

type registryStub struct {
	values map[string]any
}

func (s registryStub) Register(string, any) error {
	return nil
}

func (s registryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, memoria.ErrServiceNotFound
	}

	return value, nil
}

type runtimeStub struct {
	registry memoria.ServiceRegistry
	specs    []memoria.SubscriptionSpec
}

func (r *runtimeStub) Services() memoria.ServiceRegistry {
	return r.registry
}

func (r *runtimeStub) Subscribe(
	_ context.Context,
	spec memoria.SubscriptionSpec,
	_ memoria.EventHandler,
) (memoria.Subscription, error) {
	r.specs = append(r.specs, spec)

	return subscriptionStub(spec.Name), nil
}

type subscriptionStub string

func (s subscriptionStub) Name() string {
	return string(s)
}

func (s subscriptionStub) Close(context.Context) error {
	return nil
}
