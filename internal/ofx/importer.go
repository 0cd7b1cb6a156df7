package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/service"
)

// DefaultBatchSize is the number of rows written per ledger call.
const DefaultBatchSize = 50

// Summary describes a finished import.
type Summary struct {
	Accounts []string
	Imported int
	Income   int64
	Expense  int64
}

// Importer writes parsed statements into one tenant's ledger.
type Importer struct {
	ledger service.Ledger
	parser *Parser
	logger *slog.Logger

	// BatchSize bounds each CreateTransactions call.
	BatchSize int
	// Progress, when set, is called after each batch with rows written so far.
	Progress func(done, total int)
}

// NewImporter creates an importer over ledger.
func NewImporter(ledger service.Ledger, parser *Parser, logger *slog.Logger) *Importer {
	return &Importer{
		ledger:    ledger,
		parser:    parser,
		logger:    common.OrDefault(logger),
		BatchSize: DefaultBatchSize,
	}
}

// Import parses r and stores every line under the tenant of scope.
// Batches already written stay written if a later batch fails.
func (im *Importer) Import(ctx context.Context, scope model.Scope, r io.Reader) (Summary, error) {
	if err := scope.Validate(); err != nil {
		return Summary{}, err
	}

	entries, err := im.parser.Parse(ctx, r)
	if err != nil {
		return Summary{}, err
	}

	batch := im.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	var summary Summary
	accounts := make(map[string]bool)
	for start := 0; start < len(entries); start += batch {
		end := min(start+batch, len(entries))

		txns := make([]model.NewTransaction, 0, end-start)
		for _, e := range entries[start:end] {
			txns = append(txns, e.Txn)
			if !accounts[e.AccountID] {
				accounts[e.AccountID] = true
				summary.Accounts = append(summary.Accounts, e.AccountID)
			}
		}

		created, err := im.ledger.CreateTransactions(ctx, scope, txns)
		if err != nil {
			return summary, fmt.Errorf("failed to store statement lines %d-%d: %w", start+1, end, err)
		}
		for _, txn := range created {
			summary.Imported++
			if txn.Kind == model.KindIncome {
				summary.Income += txn.Amount
			} else {
				summary.Expense += txn.Amount
			}
		}
		if im.Progress != nil {
			im.Progress(summary.Imported, len(entries))
		}
	}

	im.logger.Info("imported statement",
		"tenant_id", scope.TenantID,
		"imported", summary.Imported,
		"accounts", len(summary.Accounts))

	return summary, nil
}
