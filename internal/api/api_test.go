package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/dompet/internal/agent"
	"github.com/Veraticus/dompet/internal/llm"
	"github.com/Veraticus/dompet/internal/memory"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/testutil"
)

var today = model.MustParseDate("2025-05-01")

type fixture struct {
	db     *testutil.TestDB
	oracle *llm.ScriptedClient
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	mem := memory.NewMemoryStore(time.Hour)
	t.Cleanup(mem.Stop)
	oracle := llm.NewScriptedClient()

	runner, err := agent.NewRunner(agent.Deps{
		Oracle:      oracle,
		Ledger:      db.Store,
		Transcripts: db.Store,
		Memory:      mem,
	}, agent.Config{})
	require.NoError(t, err)

	server := New(Deps{
		Ledger:      db.Store,
		Transcripts: db.Store,
		Runner:      runner,
		Health:      db.Store,
		Today:       func() model.Date { return today },
	}, Options{})

	return &fixture{db: db, oracle: oracle, server: server}
}

func (f *fixture) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestTransactions_EndToEnd(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/transactions", map[string]any{
		"tenant_id":   1,
		"kind":        "income",
		"amount":      5000000,
		"description": "Gaji Bulanan",
		"category":    "Gaji",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created model.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, int64(1), created.TenantID)
	assert.Equal(t, "2025-05-01", created.OccurredOn.String())

	w = f.do(t, http.MethodGet, "/transactions?tenant_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []model.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, created.ID, rows[0].ID)
	assert.Equal(t, model.KindIncome, rows[0].Kind)
	assert.Equal(t, int64(5000000), rows[0].Amount)
	assert.Equal(t, "Gaji Bulanan", rows[0].Description)
	assert.Equal(t, "Gaji", rows[0].Category)

	w = f.do(t, http.MethodDelete, fmt.Sprintf("/transactions/%d?tenant_id=1", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/transactions?tenant_id=1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, fmt.Sprintf("/transactions/%d?tenant_id=1", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTransaction_Inputs(t *testing.T) {
	tests := []struct {
		body       any
		name       string
		wantFields []string
		wantStatus int
	}{
		{
			name:       "type alias and RFC3339 date",
			body:       `{"tenant_id":1,"type":"expense","amount":-20,"description":"refund","category":"misc","date":"2025-04-02T10:00:00+07:00"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing tenant",
			body:       `{"kind":"expense","amount":20,"description":"a","category":"b"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad kind and missing amount",
			body:       `{"tenant_id":1,"kind":"gift","description":"a","category":"b"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantFields: []string{"kind", "amount"},
		},
		{
			name:       "empty description",
			body:       `{"tenant_id":1,"kind":"expense","amount":20,"description":" ","category":"b"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantFields: []string{"description"},
		},
		{
			name:       "amount is not a number",
			body:       `{"tenant_id":1,"kind":"expense","amount":"20","description":"a","category":"b"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "bad date",
			body:       `{"tenant_id":1,"kind":"expense","amount":20,"description":"a","category":"b","date":"01/02/2025"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, http.MethodPost, "/transactions", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if len(tt.wantFields) > 0 {
				var body struct {
					Fields []struct {
						Field string `json:"field"`
					} `json:"fields"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				var got []string
				for _, fe := range body.Fields {
					got = append(got, fe.Field)
				}
				assert.Equal(t, tt.wantFields, got)
			}
		})
	}
}

func TestCreateTransaction_StoresRFC3339DateAsDay(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/transactions",
		`{"tenant_id":1,"type":"expense","amount":-20,"description":"refund","category":"misc","date":"2025-04-02T10:00:00+07:00"}`)
	require.Equal(t, http.StatusOK, w.Code)

	rows := f.db.MustList(1)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-04-02", rows[0].OccurredOn.String())
	assert.Equal(t, model.KindExpense, rows[0].Kind)
	assert.Equal(t, int64(-20), rows[0].Amount)
}

func TestTenantIsRequired(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/transactions",
		"/transactions?tenant_id=0",
		"/transactions?tenant_id=abc",
		"/transactions/balance",
		"/agent/sessions",
	} {
		w := f.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestDeleteTransaction_OtherTenantIsNotFound(t *testing.T) {
	f := newFixture(t)
	row := f.db.MustCreate(1, model.NewTransaction{
		Kind: model.KindExpense, Amount: 10, Description: "Tea", Category: "Food", OccurredOn: today,
	})

	w := f.do(t, http.MethodDelete, fmt.Sprintf("/transactions/%d?tenant_id=2", row.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, f.db.MustList(1), 1)

	w = f.do(t, http.MethodDelete, "/transactions/abc?tenant_id=1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDeleteTransaction_NonPositiveIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.db.MustCreate(1, model.NewTransaction{
		Kind: model.KindExpense, Amount: 10, Description: "Tea", Category: "Food", OccurredOn: today,
	})

	for _, id := range []string{"0", "-1"} {
		t.Run(id, func(t *testing.T) {
			w := f.do(t, http.MethodDelete, "/transactions/"+id+"?tenant_id=1", nil)
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
	assert.Len(t, f.db.MustList(1), 1)
}

func TestBalanceAndSummary(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/transactions/balance?tenant_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"balance":0,"total_income":0,"total_expense":0}`, w.Body.String())

	testutil.NewLedgerBuilder(t).
		Income(100, "Salary", "Work").
		Expense(40, "Groceries", "Food").
		Build(context.Background(), f.db.Store, model.TenantScope(1))

	w = f.do(t, http.MethodGet, "/transactions/balance", nil, headerTenantID, "1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"balance":60,"total_income":100,"total_expense":40}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/transactions/summary?tenant_id=1&from=2025-05-01&to=2025-05-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var totals []model.CategoryTotal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &totals))
	assert.Len(t, totals, 2)

	w = f.do(t, http.MethodGet, "/transactions/summary?tenant_id=1&from=May", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAgentRun_JSON(t *testing.T) {
	f := newFixture(t)
	f.oracle.Then(
		llm.CallTool("c1", agent.ToolBalance, map[string]any{"tenant_id": 1}),
		llm.Reply("Your balance is 0."),
	)

	w := f.do(t, http.MethodPost, "/agent/run", map[string]any{
		"session_id": "s1",
		"message":    map[string]any{"role": "user", "parts": []map[string]any{{"text": "what's my balance?"}}},
	}, headerTenantID, "1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "s1", w.Header().Get(headerSessionID))

	var events []model.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 4)
	assert.Equal(t, "what's my balance?", events[0].Content)
	assert.Equal(t, "Your balance is 0.", events[3].Content)

	w = f.do(t, http.MethodGet, "/agent/sessions?tenant_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []model.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, 4, sessions[0].EventCount)

	w = f.do(t, http.MethodGet, "/agent/session/s1?tenant_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var transcript struct {
		Session model.Session `json:"session"`
		Events  []model.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &transcript))
	assert.Len(t, transcript.Events, 4)

	w = f.do(t, http.MethodGet, "/agent/session/s1?tenant_id=2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentRun_Streaming(t *testing.T) {
	f := newFixture(t)
	f.oracle.Then(llm.Reply("Hello!"))

	w := f.do(t, http.MethodPost, "/agent/run?tenant_id=1", `{"message":"hi","streaming":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.NotEmpty(t, w.Header().Get(headerSessionID), "a session id is assigned")

	var events []model.Event
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev model.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, model.AuthorUser, events[0].Author)
	assert.Equal(t, "Hello!", events[1].Content)
	assert.True(t, events[1].Final)
}

func TestAgentRun_Rejects(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/agent/run", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "tenant is required")

	w = f.do(t, http.MethodPost, "/agent/run?tenant_id=1", `{"message":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/agent/run?tenant_id=1", `{"message":42}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	assert.Empty(t, f.oracle.Requests())
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	f.server.deps.Health = failingPinger{}
	w = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(Deps{}, Options{AllowedOrigins: []string{"https://app.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
