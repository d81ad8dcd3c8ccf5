package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/mama/internal/llm"
	"github.com/haasonsaas/mama/internal/memory/retrieval"
	"github.com/haasonsaas/mama/internal/sandbox"
	"github.com/haasonsaas/mama/internal/workingmemory"
	"github.com/haasonsaas/mama/pkg/types"
)

// fakeProvider is a scripted llm.Provider: each call pops the next response
// (or error) off its queue.
type fakeProvider struct {
	name      string
	responses []llm.CompletionResponse
	errs      []error
	calls     int
}

func (f *fakeProvider) Name() string                            { return f.name }
func (f *fakeProvider) IsAvailable(ctx context.Context) bool     { return true }
func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	i := f.calls
	f.calls++
	var resp llm.CompletionResponse
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func newTestRouter(provider llm.Provider) *llm.Router {
	providers := map[string]llm.Provider{"test": provider}
	routes := map[llm.TaskType]string{}
	return llm.New(providers, routes, "test", "test", nil)
}

type fakeEpisodes struct {
	stored []types.NewEpisode
}

func (f *fakeEpisodes) StoreEpisode(ctx context.Context, in types.NewEpisode) (*types.Episode, error) {
	f.stored = append(f.stored, in)
	return &types.Episode{}, nil
}

type fakeRetrieval struct {
	result retrieval.Result
	err    error
}

func (f *fakeRetrieval) Retrieve(ctx context.Context, query string, tokenBudget int) (retrieval.Result, error) {
	return f.result, f.err
}

func newLoopMemory() *workingmemory.Buffer {
	return workingmemory.New(workingmemory.DefaultConfig(4000))
}

func TestRunReactivePathNoToolCalls(t *testing.T) {
	provider := &fakeProvider{name: "test", responses: []llm.CompletionResponse{
		{Content: "hello there", Model: "m", Provider: "test"},
	}}
	episodes := &fakeEpisodes{}
	l := New(Config{
		Router:   newTestRouter(provider),
		Registry: NewToolRegistry(),
		Memory:   newLoopMemory(),
		Episodes: episodes,
	}, types.ChannelTerminal, "session-1")

	resp, err := l.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("Content = %q", resp.Content)
	}
	if resp.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", resp.Iterations)
	}
	if len(episodes.stored) != 2 { // user message + assistant reply
		t.Fatalf("expected 2 stored episodes, got %d", len(episodes.stored))
	}
}

func TestRunReactivePathWithoutSandboxExplainsToolCalls(t *testing.T) {
	provider := &fakeProvider{name: "test", responses: []llm.CompletionResponse{
		{Content: "", ToolCalls: []types.ToolCall{{ID: "1", Name: "read_file", Input: json.RawMessage(`{}`)}}},
	}}
	l := New(Config{
		Router:   newTestRouter(provider),
		Registry: NewToolRegistry(),
		Memory:   newLoopMemory(),
	}, types.ChannelTerminal, "session-1")

	resp, err := l.Run(context.Background(), "read a file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content == "" {
		t.Fatal("expected an explanatory response when no sandbox is configured")
	}
}

func TestRunReactivePathExecutesToolsThenFinishes(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&stubTool{name: "read_file", result: &ToolResult{Content: "file contents"}})

	provider := &fakeProvider{name: "test", responses: []llm.CompletionResponse{
		{ToolCalls: []types.ToolCall{{ID: "1", Name: "read_file", Input: json.RawMessage(`{}`)}}},
		{Content: "done reading"},
	}}

	l := New(Config{
		Router:   newTestRouter(provider),
		Registry: reg,
		Memory:   newLoopMemory(),
		Sandbox:  sandbox.New(nil),
	}, types.ChannelTerminal, "session-1")

	resp, err := l.Run(context.Background(), "please read the file for me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "done reading" {
		t.Fatalf("Content = %q", resp.Content)
	}
	if resp.ToolCallsExecuted != 1 {
		t.Fatalf("ToolCallsExecuted = %d, want 1", resp.ToolCallsExecuted)
	}
	if resp.Iterations != 2 {
		t.Fatalf("Iterations = %d, want 2", resp.Iterations)
	}
}

func TestRetrieveFormatsMemoryInjection(t *testing.T) {
	l := New(Config{
		Router:    newTestRouter(&fakeProvider{name: "test"}),
		Registry:  NewToolRegistry(),
		Memory:    newLoopMemory(),
		Retrieval: &fakeRetrieval{result: retrieval.Result{Formatted: "fact one\nfact two\n"}},
	}, types.ChannelTerminal, "session-1")

	entries := l.retrieve(context.Background(), "query")
	if len(entries) != 2 || entries[0] != "fact one" || entries[1] != "fact two" {
		t.Fatalf("entries = %v", entries)
	}
}

func TestRetrieveReturnsNilOnError(t *testing.T) {
	l := New(Config{
		Router:    newTestRouter(&fakeProvider{name: "test"}),
		Registry:  NewToolRegistry(),
		Memory:    newLoopMemory(),
		Retrieval: &fakeRetrieval{err: errBoom},
	}, types.ChannelTerminal, "session-1")

	if entries := l.retrieve(context.Background(), "query"); entries != nil {
		t.Fatalf("expected nil entries on retrieval error, got %v", entries)
	}
}

func TestMatchesPlanHeuristic(t *testing.T) {
	cases := map[string]bool{
		"first read the file then summarize it": true,
		"create a report and then send it":      true,
		"what time is it":                        false,
		"multi-step task please":                 true,
	}
	for input, want := range cases {
		if got := matchesPlanHeuristic(input); got != want {
			t.Errorf("matchesPlanHeuristic(%q) = %v, want %v", input, got, want)
		}
	}
}
