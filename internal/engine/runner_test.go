package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vibecore-ai/vibecore/internal/backoff"
	"github.com/vibecore-ai/vibecore/internal/provider"
	"github.com/vibecore-ai/vibecore/internal/session"
	"github.com/vibecore-ai/vibecore/internal/tools"
)

var fastRetryPolicy = backoff.Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}

// scriptedClient replays canned chunk sequences, one per Stream call. A nil
// chunk in a script blocks until the context is cancelled and then emits the
// cancellation as a stream error.
type scriptedClient struct {
	mu       sync.Mutex
	scripts  [][]*provider.Chunk
	requests []*provider.Request
	delay    time.Duration
}

func (c *scriptedClient) Stream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	c.mu.Lock()
	if len(c.scripts) == 0 {
		c.mu.Unlock()
		return nil, errors.New("no script left")
	}
	script := c.scripts[0]
	c.scripts = c.scripts[1:]
	c.requests = append(c.requests, req)
	delay := c.delay
	c.mu.Unlock()

	out := make(chan *provider.Chunk)
	go func() {
		defer close(out)
		if delay > 0 {
			time.Sleep(delay)
		}
		for _, chunk := range script {
			if chunk == nil {
				<-ctx.Done()
				out <- &provider.Chunk{Error: ctx.Err()}
				return
			}
			out <- chunk
		}
	}()
	return out, nil
}

func (c *scriptedClient) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// collector is a thread-safe event sink.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) sink(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) kinds() []EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventKind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func (c *collector) count(kind EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (c *collector) first(kind EventKind) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

// stubTool is a scriptable registry tool.
type stubTool struct {
	name   string
	schema tools.Schema
	fn     func(ctx context.Context, raw json.RawMessage) (*tools.Result, error)
}

func (t *stubTool) Name() string         { return t.name }
func (t *stubTool) Description() string  { return "test tool" }
func (t *stubTool) Schema() tools.Schema { return t.schema }
func (t *stubTool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	return t.fn(ctx, raw)
}

func stringArgSchema(field string) tools.Schema {
	return tools.Schema{
		Properties: map[string]any{field: map[string]any{"type": "string"}},
		Required:   []string{field},
	}
}

func singleAgent() map[string]*Agent {
	return map[string]*Agent{
		"main": {Name: "main", Instructions: "You are helpful.", Model: "claude-test", MaxTokens: 1024},
	}
}

func newTestRunner(t *testing.T, client provider.Client, registry *tools.Registry, store ItemStore, agents map[string]*Agent, opts ...RunnerOption) *Runner {
	t.Helper()
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if agents == nil {
		agents = singleAgent()
	}
	opts = append([]RunnerOption{WithRetryPolicy(fastRetryPolicy)}, opts...)
	r, err := NewRunner(client, registry, store, agents, "main", opts...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func itemKinds(t *testing.T, store ItemStore) []session.ItemKind {
	t.Helper()
	items, err := store.GetItems(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	out := make([]session.ItemKind, len(items))
	for i, it := range items {
		out[i] = it.Kind
	}
	return out
}

func TestPlainTextTurn(t *testing.T) {
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{{Text: "Hel"}, {Text: "lo!"}, {Done: true, InputTokens: 10, OutputTokens: 3}},
	}}
	store := session.NewMemoryStore()
	c := &collector{}
	r := newTestRunner(t, client, nil, store, nil)

	if err := r.RunTurn(context.Background(), "hi", c.sink); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	want := []EventKind{EventUserText, EventTextDelta, EventTextDelta, EventMessageCompleted, EventTurnFinished}
	if got := c.kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	finished, _ := c.first(EventTurnFinished)
	if finished.Text != "Hello!" {
		t.Errorf("final text = %q", finished.Text)
	}
	if finished.Usage == nil || finished.Usage.InputTokens != 10 || finished.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", finished.Usage)
	}

	kinds := itemKinds(t, store)
	if fmt.Sprint(kinds) != fmt.Sprint([]session.ItemKind{session.KindUserText, session.KindAssistant}) {
		t.Errorf("items = %v", kinds)
	}
}

func TestToolCallTurn(t *testing.T) {
	registry := tools.NewRegistry()
	readTool := &stubTool{
		name:   "read",
		schema: stringArgSchema("file_path"),
		fn: func(_ context.Context, raw json.RawMessage) (*tools.Result, error) {
			var args struct {
				FilePath string `json:"file_path"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, err
			}
			return &tools.Result{Content: "contents of " + args.FilePath}, nil
		},
	}
	if err := registry.Register(readTool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{
			{ToolUse: &provider.ToolUse{ID: "call_1", Name: "read", Input: json.RawMessage(`{"file_path":"/tmp/notes.txt"}`)}},
			{Done: true},
		},
		{{Text: "done"}, {Done: true}},
	}}
	store := session.NewMemoryStore()
	c := &collector{}
	r := newTestRunner(t, client, registry, store, nil)

	if err := r.RunTurn(context.Background(), "read my notes", c.sink); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	kinds := itemKinds(t, store)
	want := []session.ItemKind{session.KindUserText, session.KindToolCall, session.KindToolOutput, session.KindAssistant}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("item order = %v, want %v", kinds, want)
	}

	started, ok := c.first(EventToolCallStarted)
	if !ok || started.ToolCall.CallID != "call_1" || started.ToolCall.Name != "read" {
		t.Errorf("tool call started = %+v", started.ToolCall)
	}
	completed, ok := c.first(EventToolCallCompleted)
	if !ok || completed.ToolOutput.Output != "contents of /tmp/notes.txt" || completed.ToolOutput.IsError {
		t.Errorf("tool call completed = %+v", completed.ToolOutput)
	}

	items, _ := store.GetItems(context.Background(), 0)
	if items[1].ToolCall.Arguments != `{"file_path":"/tmp/notes.txt"}` {
		t.Errorf("stored arguments = %q", items[1].ToolCall.Arguments)
	}
	if items[2].ToolOutput.CallID != "call_1" {
		t.Errorf("output call id = %q", items[2].ToolOutput.CallID)
	}
}

func TestToolErrorContinuesTurn(t *testing.T) {
	registry := tools.NewRegistry()
	readTool := &stubTool{
		name:   "read",
		schema: stringArgSchema("file_path"),
		fn: func(context.Context, json.RawMessage) (*tools.Result, error) {
			return tools.Errorf(`Error: Path "/etc/passwd" is outside the allowed directories`), nil
		},
	}
	if err := registry.Register(readTool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{
			{ToolUse: &provider.ToolUse{ID: "call_1", Name: "read", Input: json.RawMessage(`{"file_path":"/etc/passwd"}`)}},
			{Done: true},
		},
		{{Text: "I cannot read that file."}, {Done: true}},
	}}
	store := session.NewMemoryStore()
	c := &collector{}
	r := newTestRunner(t, client, registry, store, nil)

	if err := r.RunTurn(context.Background(), "read /etc/passwd", c.sink); err != nil {
		t.Fatalf("violation must not abort the turn: %v", err)
	}

	completed, _ := c.first(EventToolCallCompleted)
	if !completed.ToolOutput.IsError || !strings.HasPrefix(completed.ToolOutput.Output, "Error: Path") {
		t.Errorf("violation output = %+v", completed.ToolOutput)
	}
	if _, ok := c.first(EventTurnFinished); !ok {
		t.Error("turn did not finish after tool error")
	}

	items, _ := store.GetItems(context.Background(), 0)
	if !strings.HasPrefix(items[2].ToolOutput.Output, "Error: Path") {
		t.Errorf("stored output = %q", items[2].ToolOutput.Output)
	}
}

func TestCancellationDropsPartialMessage(t *testing.T) {
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{{Text: "partial "}, nil},
	}}
	store := session.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	sink := func(ev Event) {
		c.sink(ev)
		if ev.Kind == EventTextDelta {
			cancel()
		}
	}

	r := newTestRunner(t, client, nil, store, nil)
	err := r.RunTurn(ctx, "hi", sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunTurn = %v, want context.Canceled", err)
	}

	if _, ok := c.first(EventMessageCompleted); ok {
		t.Error("cancelled turn must not emit MessageCompleted")
	}
	if _, ok := c.first(EventError); ok {
		t.Error("cancellation must not surface as an Error event")
	}

	kinds := itemKinds(t, store)
	if fmt.Sprint(kinds) != fmt.Sprint([]session.ItemKind{session.KindUserText}) {
		t.Errorf("items after cancel = %v, want only the user item", kinds)
	}
}

func TestCancelDuringToolKeepsCompletedPairs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	registry := tools.NewRegistry()
	fast := &stubTool{
		name:   "fast",
		schema: tools.Schema{Properties: map[string]any{}},
		fn: func(context.Context, json.RawMessage) (*tools.Result, error) {
			return &tools.Result{Content: "fast done"}, nil
		},
	}
	slow := &stubTool{
		name:   "slow",
		schema: tools.Schema{Properties: map[string]any{}},
		fn: func(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	for _, tool := range []tools.Tool{fast, slow} {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{
			{ToolUse: &provider.ToolUse{ID: "call_1", Name: "fast", Input: json.RawMessage(`{}`)}},
			{ToolUse: &provider.ToolUse{ID: "call_2", Name: "slow", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
	}}
	store := session.NewMemoryStore()

	c := &collector{}
	sink := func(ev Event) {
		c.sink(ev)
		if ev.Kind == EventToolCallCompleted && ev.ToolOutput.CallID == "call_1" {
			cancel()
		}
	}

	r := newTestRunner(t, client, registry, store, nil)
	err := r.RunTurn(ctx, "go", sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunTurn = %v, want context.Canceled", err)
	}

	kinds := itemKinds(t, store)
	want := []session.ItemKind{session.KindUserText, session.KindToolCall, session.KindToolOutput}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("items = %v, want completed pair preserved and nothing else", kinds)
	}
	items, _ := store.GetItems(context.Background(), 0)
	if items[1].ToolCall.CallID != "call_1" || items[2].ToolOutput.CallID != "call_1" {
		t.Errorf("preserved pair = %+v / %+v", items[1].ToolCall, items[2].ToolOutput)
	}
}

func TestTurnCapExceeded(t *testing.T) {
	registry := tools.NewRegistry()
	loop := &stubTool{
		name:   "loop",
		schema: tools.Schema{Properties: map[string]any{}},
		fn: func(context.Context, json.RawMessage) (*tools.Result, error) {
			return &tools.Result{Content: "again"}, nil
		},
	}
	if err := registry.Register(loop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	iteration := []*provider.Chunk{
		{ToolUse: &provider.ToolUse{ID: "call_x", Name: "loop", Input: json.RawMessage(`{}`)}},
		{Done: true},
	}
	client := &scriptedClient{scripts: [][]*provider.Chunk{iteration, iteration, iteration, iteration}}
	c := &collector{}
	r := newTestRunner(t, client, registry, session.NewMemoryStore(), nil, WithMaxTurns(3))

	err := r.RunTurn(context.Background(), "loop forever", c.sink)
	if !errors.Is(err, ErrTurnCapExceeded) {
		t.Fatalf("RunTurn = %v, want ErrTurnCapExceeded", err)
	}
	if n := client.requestCount(); n != 3 {
		t.Errorf("model requests = %d, want exactly the cap", n)
	}
	ev, ok := c.first(EventError)
	if !ok || ev.Err.Kind != "TurnCapExceeded" {
		t.Errorf("error event = %+v", ev.Err)
	}
}

func TestHandoffSwitchesAgent(t *testing.T) {
	agents := map[string]*Agent{
		"main":  {Name: "main", Instructions: "triage", Model: "claude-test", MaxTokens: 1024, Handoffs: []string{"coder"}},
		"coder": {Name: "coder", Instructions: "write code", Model: "claude-test", MaxTokens: 1024},
	}
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{
			{ToolUse: &provider.ToolUse{ID: "call_1", Name: HandoffToolName, Input: json.RawMessage(`{"agent":"coder"}`)}},
			{Done: true},
		},
		{{Text: "coder here"}, {Done: true}},
	}}
	store := session.NewMemoryStore()
	c := &collector{}
	r := newTestRunner(t, client, nil, store, agents)

	if err := r.RunTurn(context.Background(), "fix the bug", c.sink); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if got := r.CurrentAgent().Name; got != "coder" {
		t.Errorf("current agent = %q, want coder", got)
	}
	ev, ok := c.first(EventAgentHandoff)
	if !ok || ev.Handoff != "coder" {
		t.Errorf("handoff event = %+v", ev)
	}

	client.mu.Lock()
	second := client.requests[1]
	client.mu.Unlock()
	if second.System != "write code" {
		t.Errorf("post-handoff system = %q", second.System)
	}

	items, _ := store.GetItems(context.Background(), 0)
	if items[1].ToolCall.Name != HandoffToolName || !strings.Contains(items[2].ToolOutput.Output, "coder") {
		t.Errorf("handoff pair = %+v / %+v", items[1].ToolCall, items[2].ToolOutput)
	}
}

func TestHandoffToUnlistedAgentIsToolError(t *testing.T) {
	agents := map[string]*Agent{
		"main":  {Name: "main", Instructions: "triage", Model: "claude-test", MaxTokens: 1024, Handoffs: []string{"coder"}},
		"coder": {Name: "coder", Instructions: "write code", Model: "claude-test", MaxTokens: 1024},
		"other": {Name: "other", Instructions: "other", Model: "claude-test", MaxTokens: 1024},
	}
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{
			{ToolUse: &provider.ToolUse{ID: "call_1", Name: HandoffToolName, Input: json.RawMessage(`{"agent":"other"}`)}},
			{Done: true},
		},
		{{Text: "staying put"}, {Done: true}},
	}}
	c := &collector{}
	r := newTestRunner(t, client, nil, session.NewMemoryStore(), agents)

	if err := r.RunTurn(context.Background(), "go", c.sink); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got := r.CurrentAgent().Name; got != "main" {
		t.Errorf("agent switched to %q on refused handoff", got)
	}
	completed, _ := c.first(EventToolCallCompleted)
	if !completed.ToolOutput.IsError {
		t.Error("refused handoff should be an error output")
	}
}

func TestRetryTransientBeforeContent(t *testing.T) {
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{{Error: fmt.Errorf("%w: overloaded", provider.ErrModelTransient)}},
		{{Text: "recovered"}, {Done: true}},
	}}
	c := &collector{}
	r := newTestRunner(t, client, nil, session.NewMemoryStore(), nil)

	if err := r.RunTurn(context.Background(), "hi", c.sink); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if n := client.requestCount(); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
	finished, _ := c.first(EventTurnFinished)
	if finished.Text != "recovered" {
		t.Errorf("final = %q", finished.Text)
	}
}

func TestNoRetryAfterContent(t *testing.T) {
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{{Text: "part"}, {Error: fmt.Errorf("%w: dropped", provider.ErrModelTransient)}},
		{{Text: "never used"}, {Done: true}},
	}}
	c := &collector{}
	r := newTestRunner(t, client, nil, session.NewMemoryStore(), nil)

	err := r.RunTurn(context.Background(), "hi", c.sink)
	if !errors.Is(err, provider.ErrModelTransient) {
		t.Fatalf("RunTurn = %v", err)
	}
	if n := client.requestCount(); n != 1 {
		t.Errorf("requests = %d, want 1 once content reached the UI", n)
	}
	ev, ok := c.first(EventError)
	if !ok || ev.Err.Kind != "ModelTransient" {
		t.Errorf("error event = %+v", ev.Err)
	}
}

func TestFatalErrorNotRetried(t *testing.T) {
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{{Error: fmt.Errorf("%w: bad request", provider.ErrModelFatal)}},
		{{Text: "never used"}, {Done: true}},
	}}
	c := &collector{}
	r := newTestRunner(t, client, nil, session.NewMemoryStore(), nil)

	err := r.RunTurn(context.Background(), "hi", c.sink)
	if !errors.Is(err, provider.ErrModelFatal) {
		t.Fatalf("RunTurn = %v", err)
	}
	if n := client.requestCount(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestReasoningPersistedBeforeText(t *testing.T) {
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{
			{ThinkingStart: true},
			{Thinking: "let me"},
			{Thinking: " think"},
			{ThinkingDone: true, ThinkingSummary: "let me think"},
			{Text: "answer"},
			{Done: true},
		},
	}}
	store := session.NewMemoryStore()
	c := &collector{}
	r := newTestRunner(t, client, nil, store, nil)

	if err := r.RunTurn(context.Background(), "hard question", c.sink); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	kinds := itemKinds(t, store)
	want := []session.ItemKind{session.KindUserText, session.KindReasoning, session.KindAssistant}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("items = %v, want %v", kinds, want)
	}
	items, _ := store.GetItems(context.Background(), 0)
	if items[1].Reasoning.Summary[0] != "let me think" {
		t.Errorf("summary = %v", items[1].Reasoning.Summary)
	}
	ev, ok := c.first(EventReasoningCompleted)
	if !ok || ev.Text != "let me think" {
		t.Errorf("reasoning event = %+v", ev)
	}
}

func TestEmptyReasoningSummaryNotPersisted(t *testing.T) {
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{
			{ThinkingStart: true},
			{ThinkingDone: true, ThinkingSummary: ""},
			{Text: "answer"},
			{Done: true},
		},
	}}
	store := session.NewMemoryStore()
	r := newTestRunner(t, client, nil, store, nil)

	if err := r.RunTurn(context.Background(), "q", func(Event) {}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	kinds := itemKinds(t, store)
	if fmt.Sprint(kinds) != fmt.Sprint([]session.ItemKind{session.KindUserText, session.KindAssistant}) {
		t.Errorf("items = %v, empty summaries must be dropped", kinds)
	}
}

func TestHandoffDefinitionOnlyWhenTargetsExist(t *testing.T) {
	agents := map[string]*Agent{
		"main": {Name: "main", Instructions: "x", Model: "claude-test", MaxTokens: 64},
	}
	client := &scriptedClient{scripts: [][]*provider.Chunk{
		{{Text: "ok"}, {Done: true}},
	}}
	r := newTestRunner(t, client, nil, session.NewMemoryStore(), agents)

	if err := r.RunTurn(context.Background(), "hi", func(Event) {}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	for _, def := range client.requests[0].Tools {
		if def.Name == HandoffToolName {
			t.Error("handoff tool offered to an agent with no targets")
		}
	}
}
