package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/dompet/internal/common"
)

func ptr[T any](v T) *T { return &v }

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{input: "income", want: KindIncome},
		{input: " Expense ", want: KindExpense},
		{input: "INCOME", want: KindIncome},
		{input: "transfer", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTransactionValidate(t *testing.T) {
	valid := NewTransaction{
		OccurredOn:  NewDate(2023, time.November, 1),
		Description: "Gaji",
		Category:    "Salary",
		Kind:        KindIncome,
		Amount:      1_000_000,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		mutate func(*NewTransaction)
		name   string
		field  string
	}{
		{name: "kind", field: "kind", mutate: func(n *NewTransaction) { n.Kind = "gift" }},
		{name: "description", field: "description", mutate: func(n *NewTransaction) { n.Description = "  " }},
		{name: "category", field: "category", mutate: func(n *NewTransaction) { n.Category = "" }},
		{name: "date", field: "date", mutate: func(n *NewTransaction) { n.OccurredOn = Date{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := valid
			tt.mutate(&n)

			err := n.Validate()
			require.ErrorIs(t, err, common.ErrValidation)

			var verr *common.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestPatch(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{Amount: ptr(int64(5))}.IsEmpty())

	t.Run("merge prefers newer fields", func(t *testing.T) {
		base := Patch{Amount: ptr(int64(100)), Category: ptr("Food")}
		merged := base.Merge(Patch{Amount: ptr(int64(200)), Description: ptr("Kopi")})

		assert.Equal(t, int64(200), *merged.Amount)
		assert.Equal(t, "Food", *merged.Category)
		assert.Equal(t, "Kopi", *merged.Description)
		assert.Equal(t, int64(100), *base.Amount)
	})

	t.Run("validate", func(t *testing.T) {
		require.NoError(t, Patch{Amount: ptr(int64(0))}.Validate())
		require.ErrorIs(t, Patch{Kind: ptr(Kind("gift"))}.Validate(), common.ErrValidation)
		require.ErrorIs(t, Patch{Description: ptr(" ")}.Validate(), common.ErrValidation)
		require.ErrorIs(t, Patch{Category: ptr("")}.Validate(), common.ErrValidation)
		require.ErrorIs(t, Patch{OccurredOn: &Date{}}.Validate(), common.ErrValidation)
	})

	t.Run("apply leaves unset fields", func(t *testing.T) {
		txn := Transaction{
			ID:          3,
			TenantID:    1,
			OccurredOn:  NewDate(2023, time.November, 1),
			Description: "Makan siang",
			Category:    "Food",
			Kind:        KindExpense,
			Amount:      45_000,
		}
		next := Patch{Amount: ptr(int64(50_000)), OccurredOn: ptr(NewDate(2023, time.November, 2))}.Apply(txn)

		assert.Equal(t, int64(50_000), next.Amount)
		assert.Equal(t, "2023-11-02", next.OccurredOn.String())
		assert.Equal(t, "Makan siang", next.Description)
		assert.Equal(t, KindExpense, next.Kind)
		assert.Equal(t, int64(45_000), txn.Amount)
	})
}

func TestScope(t *testing.T) {
	require.ErrorIs(t, Scope{}.Validate(), common.ErrScopeViolation)
	require.ErrorIs(t, Scope{TenantID: -1, SessionID: "s"}.ValidateSession(), common.ErrScopeViolation)
	require.ErrorIs(t, TenantScope(4).ValidateSession(), common.ErrValidation)
	require.NoError(t, TenantScope(4).Validate())

	s := Scope{TenantID: 4, SessionID: "abc"}
	require.NoError(t, s.ValidateSession())
	assert.Equal(t, "4:abc", s.Key())
}
