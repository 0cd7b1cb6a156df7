// Package ofx imports OFX/QFX bank and credit card statements into a ledger.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

// Default categories for statement lines that carry no better hint.
const (
	CategoryIncome   = "Transfer In"
	CategoryExpense  = "Uncategorized"
	CategoryInterest = "Interest"
	CategoryFees     = "Bank Fees"
	CategoryCash     = "Cash"
)

// MaxMinorUnits bounds the amount scale accepted by the parser.
const MaxMinorUnits = 4

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Entry is one statement line converted for the ledger.
type Entry struct {
	FITID     string
	AccountID string
	Txn       model.NewTransaction
}

// Parser converts OFX/QFX statements into ledger rows.
type Parser struct {
	logger *slog.Logger
	// minorUnits is the number of decimal places kept when converting
	// statement amounts to integers (0 for IDR, 2 for USD cents).
	minorUnits int
}

// NewParser creates a parser that scales amounts by 10^minorUnits.
func NewParser(minorUnits int, logger *slog.Logger) (*Parser, error) {
	if minorUnits < 0 || minorUnits > MaxMinorUnits {
		return nil, fmt.Errorf("%w: minor units must be between 0 and %d", common.ErrValidation, MaxMinorUnits)
	}
	return &Parser{minorUnits: minorUnits, logger: common.OrDefault(logger)}, nil
}

// preprocessOFX fixes common formatting issues in OFX files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// SEVERITY must be upper case.
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// SGML files sometimes drop the closing bracket of a bare opening tag.
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// Parse reads a statement and returns its lines, skipping duplicate FITIDs.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) ([]Entry, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse OFX file: %w", common.ErrValidation, err)
	}

	var entries []Entry
	seen := make(map[string]bool)
	add := func(accountID string, list *ofxgo.TransactionList) {
		if list == nil {
			return
		}
		for _, tx := range list.Transactions {
			key := accountID + "/" + string(tx.FiTID)
			if tx.FiTID != "" && seen[key] {
				p.logger.Debug("skipping duplicate statement line", "fitid", tx.FiTID, "account", accountID)
				continue
			}
			seen[key] = true
			entry, ok := p.convert(tx, accountID)
			if !ok {
				p.logger.Warn("skipping zero-amount statement line", "fitid", tx.FiTID, "account", accountID)
				continue
			}
			entries = append(entries, entry)
		}
	}

	var bankStmts, ccStmts int
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			add(string(stmt.BankAcctFrom.AcctID), stmt.BankTranList)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			add(string(stmt.CCAcctFrom.AcctID), stmt.BankTranList)
		}
	}

	p.logger.Info("parsed OFX file",
		"entries", len(entries),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return entries, nil
}

// convert maps one statement line. Credits become income, debits expense.
func (p *Parser) convert(tx ofxgo.Transaction, accountID string) (Entry, bool) {
	amount := p.scale(tx)
	if amount == 0 {
		return Entry{}, false
	}

	kind := model.KindExpense
	if tx.TrnAmt.Sign() > 0 {
		kind = model.KindIncome
	}

	return Entry{
		FITID:     string(tx.FiTID),
		AccountID: accountID,
		Txn: model.NewTransaction{
			OccurredOn:  model.DateOf(tx.DtPosted.Time),
			Description: description(tx),
			Category:    category(tx, kind),
			Kind:        kind,
			Amount:      amount,
		},
	}, true
}

func (p *Parser) scale(tx ofxgo.Transaction) int64 {
	f, _ := tx.TrnAmt.Float64()
	return int64(math.Round(math.Abs(f) * math.Pow10(p.minorUnits)))
}

func category(tx ofxgo.Transaction, kind model.Kind) string {
	switch fmt.Sprintf("%v", tx.TrnType) {
	case "INT", "DIV":
		return CategoryInterest
	case "FEE", "SRVCHG":
		return CategoryFees
	case "ATM", "CASH":
		return CategoryCash
	}
	if kind == model.KindIncome {
		return CategoryIncome
	}
	return CategoryExpense
}

// description picks the cleanest merchant text of a statement line.
func description(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && (name == "" || isGenericDescription(name)) {
		name = strings.TrimSpace(string(tx.Memo))
	}

	prefixes := []string{
		"POS PURCHASE ",
		"PURCHASE AUTHORIZED ON ",
		"DEBIT CARD PURCHASE ",
		"ACH DEBIT ",
		"CHECK CARD ",
		"VISA PURCHASE ",
		"MC PURCHASE ",
		"DEBIT PURCHASE ",
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Leading "MM/DD " posting dates.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	if name == "" {
		return fmt.Sprintf("%v", tx.TrnType)
	}
	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}
