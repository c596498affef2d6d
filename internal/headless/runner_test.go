package headless

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/provider"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/session"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/wire"
	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// replyTransport answers the n-th model call with replies[n], repeating the
// last one. An empty reply blocks until the call is cancelled.
type replyTransport struct {
	mu      sync.Mutex
	replies []string
	calls   int
	err     error
}

func (t *replyTransport) Stream(ctx context.Context, _ provider.Endpoint, _ *wire.ChatRequest) (io.ReadCloser, error) {
	t.mu.Lock()
	idx := t.calls
	t.calls++
	t.mu.Unlock()

	if t.err != nil {
		return nil, t.err
	}
	if idx >= len(t.replies) {
		idx = len(t.replies) - 1
	}
	text := t.replies[idx]
	if text == "" {
		pr, pw := io.Pipe()
		go func() {
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	}

	content, _ := json.Marshal(text)
	body := fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\n\n"+
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2}}\n\n"+
		"data: [DONE]\n\n", content)
	return io.NopCloser(strings.NewReader(body)), nil
}

func newService(t *testing.T, tr provider.Transport) *session.Service {
	t.Helper()
	svc := session.NewService(session.ServiceOptions{
		Config: types.Config{
			Model: "test-model",
			Emit:  types.EmitConfig{IntervalMs: types.IntPtr(0)},
			Retry: types.RetryConfig{MaxRetries: types.IntPtr(0)},
		},
		Transport: tr,
	})
	t.Cleanup(func() { svc.Close() })
	return svc
}

func run(t *testing.T, svc *session.Service, cfg *Config) (*Result, string, error) {
	t.Helper()
	var out bytes.Buffer
	result, err := NewRunner(cfg, svc).Run(context.Background(), &out)
	require.NotNil(t, result)
	return result, out.String(), err
}

func TestRun_TextOutput(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{"hello there"}})

	result, out, err := run(t, svc, &Config{Prompt: "hi", OutputFormat: OutputText})
	require.NoError(t, err)

	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "[done]")
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, ExitSuccess, result.ExitCode)
	assert.Equal(t, "hello there", result.FinalMessage)
	assert.Equal(t, 1, result.Steps)
	assert.Equal(t, "test-model", result.Model)
	assert.NotEmpty(t, result.ConversationID)
}

func TestRun_QuietPrintsOnlyText(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{"only this"}})

	_, out, err := run(t, svc, &Config{Prompt: "hi", OutputFormat: OutputText, Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, "only this", out)
}

func TestRun_JSONOutput(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{"answer"}})

	_, out, err := run(t, svc, &Config{Prompt: "question", OutputFormat: OutputJSON})
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "answer", result.FinalMessage)
	require.NotNil(t, result.Tokens)
	assert.Equal(t, types.TokenUsage{Input: 3, Output: 2}, *result.Tokens)
}

func TestRun_JSONLOutput(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{"streamed"}})

	_, out, err := run(t, svc, &Config{Prompt: "go", OutputFormat: OutputJSONL})
	require.NoError(t, err)

	var kinds []string
	var text strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var evt struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
		kinds = append(kinds, evt.Type)
		if evt.Type == "text" {
			var delta struct {
				Delta string `json:"delta"`
			}
			require.NoError(t, json.Unmarshal(evt.Data, &delta))
			text.WriteString(delta.Delta)
		}
	}
	assert.Contains(t, kinds, "status")
	assert.Equal(t, "streamed", text.String())
	assert.Equal(t, "status", kinds[len(kinds)-1])
}

func TestRun_InvalidInput(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{"x"}})

	result, _, err := run(t, svc, &Config{Prompt: "   "})
	require.Error(t, err)
	assert.Equal(t, ExitInvalidInput, result.ExitCode)

	result, _, err = run(t, svc, &Config{Prompt: "hi", Files: []string{"/does/not/exist"}})
	require.Error(t, err)
	assert.Equal(t, ExitInvalidInput, result.ExitCode)
}

func TestRun_UnknownConversation(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{"x"}})

	result, _, err := run(t, svc, &Config{Prompt: "hi", ConversationID: "missing"})
	require.Error(t, err)
	assert.Equal(t, ExitConversationNotFound, result.ExitCode)
}

func TestRun_ContinueConversation(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{"first reply", "second reply"}})

	first, _, err := run(t, svc, &Config{Prompt: "one", OutputFormat: OutputText})
	require.NoError(t, err)

	second, out, err := run(t, svc, &Config{Prompt: "two", OutputFormat: OutputText, ConversationID: first.ConversationID})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Contains(t, out, "second reply")
	assert.NotContains(t, out, "first reply")
	assert.Equal(t, 1, second.Steps)
}

func TestRun_ProviderError(t *testing.T) {
	svc := newService(t, &replyTransport{err: &provider.StatusError{StatusCode: 401, Status: "401 Unauthorized"}})

	result, out, err := run(t, svc, &Config{Prompt: "hi", OutputFormat: OutputText})
	require.Error(t, err)
	assert.Equal(t, ExitError, result.ExitCode)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, "401")
	assert.Contains(t, out, "[error]")
}

func TestRun_Timeout(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{""}})

	result, _, err := run(t, svc, &Config{Prompt: "hi", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, ExitTimeout, result.ExitCode)
	assert.Equal(t, StatusTimeout, result.Status)

	conv, getErr := svc.Get(context.Background(), result.ConversationID)
	require.NoError(t, getErr)
	assert.False(t, conv.IsProcessing())
}

func TestRun_StdinAndFiles(t *testing.T) {
	svc := newService(t, &replyTransport{replies: []string{"ok"}})
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("file body"), 0o644))

	result, _, err := run(t, svc, &Config{
		Prompt: "summarize",
		Stdin:  strings.NewReader("from stdin\n"),
		Files:  []string{file},
	})
	require.NoError(t, err)

	conv, err := svc.Get(context.Background(), result.ConversationID)
	require.NoError(t, err)
	user := conv.Messages()[0]
	assert.Equal(t, "summarize\n\nfrom stdin", user.Text())
	contexts := user.ContextParts()
	require.Len(t, contexts, 1)
	assert.Equal(t, file, contexts[0].Label)
	assert.Equal(t, "file body", contexts[0].Value)
}

func TestParseOutputFormat(t *testing.T) {
	f, ok := ParseOutputFormat("jsonl")
	assert.True(t, ok)
	assert.Equal(t, OutputJSONL, f)

	_, ok = ParseOutputFormat("yaml")
	assert.False(t, ok)
}
