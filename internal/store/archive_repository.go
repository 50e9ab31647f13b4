/**
 * @description
 * This file implements the archive store: snapshots of blocked savings accounts
 * whose blocking window has ended, together with their transactions.
 *
 * @notes
 * - Presence in archived_comptes implies the row was removed from the primary store.
 * - Column spelling is resolved at runtime, see columns.go.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thetaf313/ges-comptes/internal/domain"
)

const (
	archivedComptesTable      = "archived_comptes"
	archivedTransactionsTable = "archived_transactions"
)

// ArchiveRepository is the PostgreSQL implementation of the archive store.
type ArchiveRepository struct {
	db *pgxpool.Pool

	mu      sync.Mutex
	columns map[string]columnMap
}

// NewArchiveRepository creates a new ArchiveRepository.
func NewArchiveRepository(db *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{db: db, columns: make(map[string]columnMap)}
}

// FindByID returns an archived savings account with its balance.
func (r *ArchiveRepository) FindByID(ctx context.Context, id string) (*domain.Compte, error) {
	return r.findOne(ctx, `SELECT * FROM archived_comptes WHERE id = $1 AND type = 'epargne'`, id)
}

// FindByNumero returns an archived savings account by numero_compte.
func (r *ArchiveRepository) FindByNumero(ctx context.Context, numero string) (*domain.Compte, error) {
	return r.findOne(ctx, `SELECT * FROM archived_comptes WHERE numero_compte = $1 AND type = 'epargne'`, numero)
}

// NumeroExists reports whether an archived account already uses numero.
func (r *ArchiveRepository) NumeroExists(ctx context.Context, numero string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM archived_comptes WHERE numero_compte = $1)`, numero).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check archived numero_compte: %w", err)
	}
	return exists, nil
}

// SaveSnapshot upserts the account and its transactions into the archive.
func (r *ArchiveRepository) SaveSnapshot(ctx context.Context, snapshot domain.CompteSnapshot, archivedAt time.Time) error {
	compteCols, err := r.columnsFor(ctx, archivedComptesTable)
	if err != nil {
		return err
	}
	txCols, err := r.columnsFor(ctx, archivedTransactionsTable)
	if err != nil {
		return err
	}

	values, err := archivedCompteValues(&snapshot.Compte, archivedAt)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query, args := buildUpsert(archivedComptesTable, compteCols, values, "id", true)
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("archive compte %s: %w", snapshot.Compte.ID, err)
	}

	for i := range snapshot.Transactions {
		t := &snapshot.Transactions[i]
		query, args := buildUpsert(archivedTransactionsTable, txCols,
			archivedTransactionValues(t, snapshot.Compte.ID, archivedAt), "id", true)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("archive transaction %s: %w", t.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListExpiredIDs returns archived savings accounts whose block has ended.
func (r *ArchiveRepository) ListExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	cols, err := r.columnsFor(ctx, archivedComptesTable)
	if err != nil {
		return nil, err
	}
	end := cols.ident("dateDeblocagePrevue")
	query := fmt.Sprintf(`
		SELECT id::text
		FROM archived_comptes
		WHERE type = 'epargne'
		  AND statut = 'bloque'
		  AND %[1]s IS NOT NULL
		  AND %[1]s <= $1
		ORDER BY %[1]s
	`, end)
	return collectIDs(r.db.Query(ctx, query, now))
}

// ReleaseExpired locks an expired archived account, hands its snapshot to
// restore and, once restore succeeded, deletes the archive rows.
func (r *ArchiveRepository) ReleaseExpired(
	ctx context.Context,
	id string,
	now time.Time,
	restore func(context.Context, domain.CompteSnapshot) error,
) error {
	cols, err := r.columnsFor(ctx, archivedComptesTable)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		SELECT *
		FROM archived_comptes
		WHERE id = $1
		  AND type = 'epargne'
		  AND statut = 'bloque'
		  AND %[1]s <= $2
		FOR UPDATE
	`, cols.ident("dateDeblocagePrevue"))
	rows, err := tx.Query(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("lock archived compte: %w", err)
	}
	raw, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotEligible
		}
		return fmt.Errorf("lock archived compte: %w", err)
	}
	compte, err := decodeArchivedCompte(raw)
	if err != nil {
		return err
	}

	txs, err := archivedTransactions(ctx, tx, id)
	if err != nil {
		return err
	}
	compte.Solde = domain.CalculerSolde(compte.SoldeInitial, txs)

	if err := restore(ctx, domain.CompteSnapshot{Compte: *compte, Transactions: txs}); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM archived_transactions WHERE compte_id = $1`, id); err != nil {
		return fmt.Errorf("delete archived transactions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM archived_comptes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete archived compte: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *ArchiveRepository) findOne(ctx context.Context, query string, arg string) (*domain.Compte, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	raw, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("query archive: %w", err)
	}

	compte, err := decodeArchivedCompte(raw)
	if err != nil {
		return nil, err
	}

	txRows, err := r.db.Query(ctx, `SELECT * FROM archived_transactions WHERE compte_id = $1`, compte.ID)
	if err != nil {
		return nil, fmt.Errorf("query archived transactions: %w", err)
	}
	txs, err := decodeTransactionRows(txRows)
	if err != nil {
		return nil, err
	}
	compte.Solde = domain.CalculerSolde(compte.SoldeInitial, txs)
	return compte, nil
}

// columnsFor introspects table once and caches its column spelling.
func (r *ArchiveRepository) columnsFor(ctx context.Context, table string) (columnMap, error) {
	r.mu.Lock()
	cached, ok := r.columns[table]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT column_name::text
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`, table)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}

	cols := make(columnMap, len(names))
	for _, name := range names {
		cols[strings.ToLower(name)] = name
	}

	if len(cols) > 0 {
		r.mu.Lock()
		r.columns[table] = cols
		r.mu.Unlock()
	}
	return cols, nil
}

func archivedTransactions(ctx context.Context, tx pgx.Tx, compteID string) ([]domain.Transaction, error) {
	rows, err := tx.Query(ctx, `SELECT * FROM archived_transactions WHERE compte_id = $1`, compteID)
	if err != nil {
		return nil, fmt.Errorf("load archived transactions: %w", err)
	}
	return decodeTransactionRows(rows)
}

func decodeTransactionRows(rows pgx.Rows) ([]domain.Transaction, error) {
	raws, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("read archived transactions: %w", err)
	}
	txs := make([]domain.Transaction, 0, len(raws))
	for _, raw := range raws {
		t, err := decodeArchivedTransaction(raw)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, nil
}
