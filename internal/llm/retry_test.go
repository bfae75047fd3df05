package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClient scripts a sequence of responses.
type fakeClient struct {
	calls     int
	responses []func() (Message, error)
	tools     []ToolSpec
}

func (f *fakeClient) Complete(_ context.Context, _ []Message) (Message, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx]()
}

func (f *fakeClient) WithTools(tools []ToolSpec) Client {
	f.tools = tools
	return f
}

func ok(content string) func() (Message, error) {
	return func() (Message, error) {
		return Message{Role: RoleAssistant, Content: content}, nil
	}
}

func rateLimited() func() (Message, error) {
	return func() (Message, error) {
		return Message{}, &RateLimitError{}
	}
}

func TestRetryClientPassesThroughSuccess(t *testing.T) {
	inner := &fakeClient{responses: []func() (Message, error){ok("hello")}}
	rc := NewRetryClientWithPolicy(inner, 3, time.Millisecond, 10*time.Millisecond, zap.NewNop())

	msg, err := rc.Complete(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryClientRetriesRateLimit(t *testing.T) {
	inner := &fakeClient{responses: []func() (Message, error){
		rateLimited(),
		rateLimited(),
		ok("recovered"),
	}}
	rc := NewRetryClientWithPolicy(inner, 3, time.Millisecond, 10*time.Millisecond, zap.NewNop())

	msg, err := rc.Complete(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "recovered", msg.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryClientExhaustsAttempts(t *testing.T) {
	inner := &fakeClient{responses: []func() (Message, error){rateLimited()}}
	rc := NewRetryClientWithPolicy(inner, 3, time.Millisecond, 10*time.Millisecond, zap.NewNop())

	_, err := rc.Complete(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)
	var rateErr *RateLimitError
	assert.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryClientDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("model not found")
	inner := &fakeClient{responses: []func() (Message, error){
		func() (Message, error) { return Message{}, boom },
	}}
	rc := NewRetryClientWithPolicy(inner, 3, time.Millisecond, 10*time.Millisecond, zap.NewNop())

	_, err := rc.Complete(context.Background(), []Message{UserMessage("hi")})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryClientHonorsContextCancellation(t *testing.T) {
	inner := &fakeClient{responses: []func() (Message, error){rateLimited()}}
	rc := NewRetryClientWithPolicy(inner, 3, time.Hour, time.Hour, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := rc.Complete(ctx, []Message{UserMessage("hi")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryClientBackoffSchedule(t *testing.T) {
	rc := NewRetryClient(&fakeClient{responses: []func() (Message, error){ok("x")}}, zap.NewNop())

	assert.Equal(t, 5*time.Second, rc.backoff(1, nil))
	assert.Equal(t, 10*time.Second, rc.backoff(2, nil))
	assert.Equal(t, 20*time.Second, rc.backoff(3, nil))
	assert.Equal(t, 120*time.Second, rc.backoff(10, nil))

	// Server-provided Retry-After wins when longer.
	assert.Equal(t, 30*time.Second, rc.backoff(1, &RateLimitError{RetryAfter: 30}))
}

func TestRetryClientWithToolsKeepsPolicy(t *testing.T) {
	inner := &fakeClient{responses: []func() (Message, error){
		rateLimited(),
		ok("bound"),
	}}
	rc := NewRetryClientWithPolicy(inner, 3, time.Millisecond, 10*time.Millisecond, zap.NewNop())

	bound := rc.WithTools([]ToolSpec{{Name: "query_prometheus"}})
	msg, err := bound.Complete(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "bound", msg.Content)
	assert.Len(t, inner.tools, 1)
	assert.Equal(t, 2, inner.calls)
}
