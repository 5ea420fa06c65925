package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	"willvault/pkg/platform/sentinel"
	txcontext "willvault/pkg/platform/tx"
)

// Postgres keeps accounts, the custodial pool and open deposits in
// PostgreSQL. Calls made while a transaction is carried in ctx join it, so an
// escrow or payout inside a will mutation commits or rolls back with the will.
//
// Amounts are NUMERIC(20,0) columns and cross the driver as decimal strings
// so the full uint64 range survives.
type Postgres struct {
	db     *sql.DB
	tx     *txcontext.SQLRunner
	logger *slog.Logger
}

func NewPostgres(db *sql.DB, timeout time.Duration, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, tx: txcontext.NewSQLRunner(db, timeout), logger: logger}
}

const creditAccountSQL = `
INSERT INTO ledger_accounts (address, balance) VALUES ($1, $2::numeric)
ON CONFLICT (address) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance
RETURNING balance::text`

func (p *Postgres) Fund(ctx context.Context, addr id.Address, amount uint64) (uint64, error) {
	var balance uint64
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		balance, err = p.credit(ctx, addr, amount)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fund %s: %w", addr, err)
	}
	return balance, nil
}

func (p *Postgres) Balance(ctx context.Context, addr id.Address) (uint64, error) {
	var raw string
	err := txcontext.Pick(ctx, p.db).QueryRowContext(ctx,
		`SELECT balance::text FROM ledger_accounts WHERE address = $1`, addr.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance %s: %w", addr, err)
	}
	return parseAmount(raw)
}

// Custody returns the total value held on behalf of all wills.
func (p *Postgres) Custody(ctx context.Context) (uint64, error) {
	var raw string
	err := txcontext.Pick(ctx, p.db).QueryRowContext(ctx,
		`SELECT balance::text FROM ledger_custody WHERE id = 1`,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read custody: %w", err)
	}
	return parseAmount(raw)
}

func (p *Postgres) Escrow(ctx context.Context, from id.Address, amount uint64) (models.Deposit, error) {
	if err := ctx.Err(); err != nil {
		return models.Deposit{}, err
	}
	deposit := models.Deposit{ObjectID: uuid.NewString(), Value: amount}
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := p.debit(ctx, from, amount); err != nil {
			return err
		}
		if err := p.creditCustody(ctx, amount); err != nil {
			return err
		}
		_, err := txcontext.Pick(ctx, p.db).ExecContext(ctx,
			`INSERT INTO ledger_deposits (object_id, owner, value, created_at) VALUES ($1, $2, $3::numeric, $4)`,
			deposit.ObjectID, from.String(), formatAmount(amount), time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("record deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Deposit{}, fmt.Errorf("escrow from %s: %w", from, err)
	}
	p.logger.DebugContext(ctx, "escrowed deposit",
		"from", from.String(),
		"object_id", deposit.ObjectID,
		"value", amount,
	)
	return deposit, nil
}

// Refund returns an open deposit to an account. A deposit whose row is gone,
// because its escrow rolled back with the will or it was already refunded, is
// ignored.
func (p *Postgres) Refund(ctx context.Context, to id.Address, deposit models.Deposit) error {
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		var raw string
		err := txcontext.Pick(ctx, p.db).QueryRowContext(ctx,
			`DELETE FROM ledger_deposits WHERE object_id = $1 RETURNING value::text`, deposit.ObjectID,
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("remove deposit: %w", err)
		}
		value, err := parseAmount(raw)
		if err != nil {
			return err
		}
		if err := p.debitCustody(ctx, value); err != nil {
			return err
		}
		_, err = p.credit(ctx, to, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("refund %s: %w", deposit.ObjectID, err)
	}
	return nil
}

func (p *Postgres) Transfer(ctx context.Context, to id.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := p.debitCustody(ctx, amount); err != nil {
			return err
		}
		_, err := p.credit(ctx, to, amount)
		return err
	})
	if err != nil {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	return nil
}

func (p *Postgres) credit(ctx context.Context, addr id.Address, amount uint64) (uint64, error) {
	var raw string
	err := txcontext.Pick(ctx, p.db).QueryRowContext(ctx, creditAccountSQL, addr.String(), formatAmount(amount)).Scan(&raw)
	if err != nil {
		return 0, fmt.Errorf("credit account: %w", err)
	}
	return parseAmount(raw)
}

func (p *Postgres) debit(ctx context.Context, addr id.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	res, err := txcontext.Pick(ctx, p.db).ExecContext(ctx,
		`UPDATE ledger_accounts SET balance = balance - $2::numeric WHERE address = $1 AND balance >= $2::numeric`,
		addr.String(), formatAmount(amount),
	)
	return checkDebit(res, err, "debit account")
}

func (p *Postgres) creditCustody(ctx context.Context, amount uint64) error {
	_, err := txcontext.Pick(ctx, p.db).ExecContext(ctx, `
INSERT INTO ledger_custody (id, balance) VALUES (1, $1::numeric)
ON CONFLICT (id) DO UPDATE SET balance = ledger_custody.balance + EXCLUDED.balance`,
		formatAmount(amount),
	)
	if err != nil {
		return fmt.Errorf("credit custody: %w", err)
	}
	return nil
}

func (p *Postgres) debitCustody(ctx context.Context, amount uint64) error {
	if amount == 0 {
		return nil
	}
	res, err := txcontext.Pick(ctx, p.db).ExecContext(ctx,
		`UPDATE ledger_custody SET balance = balance - $1::numeric WHERE id = 1 AND balance >= $1::numeric`,
		formatAmount(amount),
	)
	return checkDebit(res, err, "debit custody")
}

// checkDebit maps a conditional UPDATE that matched no row to
// ErrInsufficientFunds.
func checkDebit(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrInsufficientFunds
	}
	return nil
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return v, nil
}
