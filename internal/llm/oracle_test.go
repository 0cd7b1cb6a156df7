package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/dompet/internal/common"
)

func TestOracle_RetriesTransientFailures(t *testing.T) {
	transient := &common.RetryableError{Err: common.ErrOracle, Retryable: true}
	script := NewScriptedClient(Fail(transient), Reply("hello"))

	oracle := NewOracle(script, Config{MaxRetries: 3, RetryDelay: time.Millisecond}, nil)
	defer oracle.Close()

	resp, err := oracle.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Len(t, script.Requests(), 2)
}

func TestOracle_DoesNotRetryPermanentFailures(t *testing.T) {
	permanent := errors.New("bad request")
	script := NewScriptedClient(Fail(permanent), Reply("never"))

	oracle := NewOracle(script, Config{MaxRetries: 3, RetryDelay: time.Millisecond}, nil)
	defer oracle.Close()

	_, err := oracle.Chat(context.Background(), ChatRequest{})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, script.Remaining())
}

func TestOracle_GivesUpAfterMaxRetries(t *testing.T) {
	transient := &common.RetryableError{Err: common.ErrOracle, Retryable: true}
	script := NewScriptedClient(Fail(transient), Fail(transient))

	oracle := NewOracle(script, Config{MaxRetries: 2, RetryDelay: time.Millisecond}, nil)
	defer oracle.Close()

	_, err := oracle.Chat(context.Background(), ChatRequest{})
	require.ErrorIs(t, err, common.ErrMaxRetries)
	require.ErrorIs(t, err, common.ErrOracle)
}

func TestScriptedClient(t *testing.T) {
	script := NewScriptedClient(CallTool("c1", "get_balance", map[string]any{"tenant_id": 1}))
	script.Then(Reply("done"))
	ctx := context.Background()

	resp, err := script.Chat(ctx, ChatRequest{System: "first"})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "c1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"tenant_id":1}`, string(resp.ToolCalls[0].Arguments))

	resp, err = script.Chat(ctx, ChatRequest{System: "second"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)

	_, err = script.Chat(ctx, ChatRequest{})
	require.ErrorIs(t, err, common.ErrOracle)

	requests := script.Requests()
	require.Len(t, requests, 3)
	assert.Equal(t, "first", requests[0].System)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewScriptedClient(Reply("x")).Chat(cancelled, ChatRequest{})
	require.ErrorIs(t, err, context.Canceled)
}
