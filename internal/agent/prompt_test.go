package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptBuilder_Build(t *testing.T) {
	pb, err := NewPromptBuilder()
	require.NoError(t, err)

	zone := time.FixedZone("UTC+7", 7*3600)
	prompt, err := pb.Build(PromptData{
		Now:      time.Date(2025, time.May, 1, 8, 30, 0, 0, zone),
		Currency: "IDR",
		Tools:    ToolNames(),
		TenantID: 42,
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "TODAY_DATE = 2025-05-01")
	assert.Contains(t, prompt, "TODAY_DATETIME = 2025-05-01T08:30:00+07:00")
	assert.Contains(t, prompt, "tenant_id = 42")
	assert.Contains(t, prompt, "Good morning!")
	assert.Contains(t, prompt, "Rupiah")
	assert.Contains(t, prompt, "search_transactions, insert_transaction, update_transaction, get_balance")
	assert.Contains(t, prompt, "never mention ids")
}

func TestPromptBuilder_OtherCurrency(t *testing.T) {
	pb, err := NewPromptBuilder()
	require.NoError(t, err)

	prompt, err := pb.Build(PromptData{Now: time.Date(2025, time.May, 1, 23, 0, 0, 0, time.UTC), Currency: "USD", TenantID: 1})
	require.NoError(t, err)
	assert.NotContains(t, prompt, "Rupiah")
	assert.Contains(t, prompt, "CURRENCY = USD")
	assert.Contains(t, prompt, `"Hello!"`)
}

func TestGreeting(t *testing.T) {
	tests := []struct {
		want string
		hour int
	}{
		{hour: 4, want: "Hello!"},
		{hour: 5, want: "Good morning!"},
		{hour: 11, want: "Good morning!"},
		{hour: 12, want: "Good afternoon!"},
		{hour: 16, want: "Good afternoon!"},
		{hour: 17, want: "Good evening!"},
		{hour: 21, want: "Good evening!"},
		{hour: 22, want: "Hello!"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, greeting(tt.hour), "hour %d", tt.hour)
	}
}
