/**
 * @description
 * This file implements the data access layer for accounts held in the primary
 * store. It covers lookups, creation with the outbox hand-off, row-locked
 * read-modify-write updates and the primary side of the archival moves.
 *
 * @notes
 * - Blocking columns are quoted camelCase identifiers ("motifBlocage", ...).
 * - The balance is always computed from the ledger, never stored.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/thetaf313/ges-comptes/internal/domain"
)

const compteColumns = `
	c.id::text, c.client_id::text, c.numero_compte, c.titulaire, c.type,
	c.solde_initial, c.devise, c.date_creation, c.statut, c.metadonnees,
	c.date_fermeture, c."motifBlocage", c."dateBlocage", c."dateDeblocagePrevue",
	c."motifDeblocage", c."dateDeblocage", c.deleted_at, c.created_at, c.updated_at`

const soldeExpr = `
	c.solde_initial + COALESCE((
		SELECT SUM(CASE
			WHEN t.type = 'depot' THEN t.montant
			WHEN t.type IN ('retrait', 'frais') THEN -t.montant
			ELSE 0 END)
		FROM transactions t
		WHERE t.compte_id = c.id AND t.statut = 'validee'
	), 0)`

const transactionColumns = `
	id::text, compte_id::text, montant, type, statut, devise, description,
	date_transaction, created_at, updated_at`

// ListFilter narrows the account listing.
type ListFilter struct {
	Type     domain.CompteType
	ClientID string
	Search   string
	Sort     string
	Order    string
	Limit    int
	Offset   int
}

var sortColumns = map[string]string{
	"created_at":    "c.created_at",
	"date_creation": "c.date_creation",
	"numero_compte": "c.numero_compte",
	"titulaire":     "c.titulaire",
}

// CompteRepository is the PostgreSQL implementation of the primary account store.
type CompteRepository struct {
	db *pgxpool.Pool
}

// NewCompteRepository creates a new instance of CompteRepository.
func NewCompteRepository(db *pgxpool.Pool) *CompteRepository {
	return &CompteRepository{db: db}
}

// FindByID returns an account with its computed balance. Closed accounts are
// soft-deleted but stay addressable by id.
func (r *CompteRepository) FindByID(ctx context.Context, id string) (*domain.Compte, error) {
	query := `SELECT ` + compteColumns + `, ` + soldeExpr + `
		FROM comptes c
		WHERE c.id = $1`
	compte, err := scanCompte(r.db.QueryRow(ctx, query, id), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find compte by id: %w", err)
	}
	return compte, nil
}

// FindByNumero returns an account by its numero_compte.
func (r *CompteRepository) FindByNumero(ctx context.Context, numero string) (*domain.Compte, error) {
	query := `SELECT ` + compteColumns + `, ` + soldeExpr + `
		FROM comptes c
		WHERE c.numero_compte = $1`
	compte, err := scanCompte(r.db.QueryRow(ctx, query, numero), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find compte by numero: %w", err)
	}
	return compte, nil
}

// NumeroExists reports whether numero is taken, soft-deleted rows included.
func (r *CompteRepository) NumeroExists(ctx context.Context, numero string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM comptes WHERE numero_compte = $1)`, numero).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check numero_compte: %w", err)
	}
	return exists, nil
}

// List returns a page of live accounts and the total number of matches.
func (r *CompteRepository) List(ctx context.Context, filter ListFilter) ([]domain.Compte, int, error) {
	conds := []string{"c.deleted_at IS NULL"}
	args := []any{}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("c.type = $%d", len(args)))
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		conds = append(conds, fmt.Sprintf("c.client_id = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("(c.numero_compte ILIKE $%d OR c.titulaire ILIKE $%d)", len(args), len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM comptes c WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count comptes: %w", err)
	}

	sortCol, ok := sortColumns[filter.Sort]
	if !ok {
		sortCol = sortColumns["created_at"]
	}
	order := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		order = "ASC"
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s, %s FROM comptes c WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		compteColumns, soldeExpr, where, sortCol, order, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list comptes: %w", err)
	}
	defer rows.Close()

	comptes := make([]domain.Compte, 0, filter.Limit)
	for rows.Next() {
		compte, err := scanCompte(rows, true)
		if err != nil {
			return nil, 0, fmt.Errorf("scan compte: %w", err)
		}
		comptes = append(comptes, *compte)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return comptes, total, nil
}

// Create inserts the account, the client when it is new, and the creation event
// in a single transaction.
func (r *CompteRepository) Create(
	ctx context.Context,
	compte *domain.Compte,
	newClient *domain.Client,
	event *domain.AccountCreatedEvent,
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if newClient != nil {
		if err := insertClientTx(ctx, tx, newClient); err != nil {
			return err
		}
	}

	if err := upsertCompteTx(ctx, tx, compte, false); err != nil {
		if isUniqueViolation(err, "numero_compte") {
			return ErrDuplicateNumero
		}
		return fmt.Errorf("insert compte: %w", err)
	}

	if event != nil {
		if err := enqueueEventTx(ctx, tx, domain.AggregateTypeCompte, compte.ID,
			domain.CompteEventsExchange, domain.RoutingKeyCompteCreated, event); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Mutate locks the live account row, applies fn and persists the result. fn sees
// the current state and may reject the change by returning an error, in which
// case nothing is written.
func (r *CompteRepository) Mutate(ctx context.Context, id string, fn func(*domain.Compte) error) (*domain.Compte, error) {
	return r.MutateWithClient(ctx, id, fn, nil)
}

// MutateWithClient is Mutate that also rewrites the owner's client row in the
// same transaction once fn has accepted the change. A nil client behaves like
// Mutate.
func (r *CompteRepository) MutateWithClient(
	ctx context.Context,
	id string,
	fn func(*domain.Compte) error,
	client *domain.Client,
) (*domain.Compte, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + compteColumns + ` FROM comptes c WHERE c.id = $1 FOR UPDATE`
	compte, err := scanCompte(tx.QueryRow(ctx, query, id), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock compte: %w", err)
	}

	if err := fn(compte); err != nil {
		return nil, err
	}

	if err := upsertCompteTx(ctx, tx, compte, true); err != nil {
		return nil, fmt.Errorf("update compte: %w", err)
	}
	if client != nil {
		if err := updateClientTx(ctx, tx, client); err != nil {
			return nil, err
		}
	}

	solde, err := soldeTx(ctx, tx, compte.ID)
	if err != nil {
		return nil, err
	}
	compte.Solde = solde

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return compte, nil
}

// ActivateScheduledBlocks flips every savings account whose scheduled block has
// started to `bloque` and returns the ids that changed.
func (r *CompteRepository) ActivateScheduledBlocks(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE comptes
		SET statut = 'bloque',
			metadonnees = jsonb_set(
				jsonb_set(
					COALESCE(metadonnees, '{}'::jsonb),
					'{version}',
					to_jsonb(GREATEST(COALESCE((metadonnees->>'version')::int, 1), 1) + 1)
				),
				'{derniere_modification}',
				to_jsonb($1::timestamptz)
			),
			updated_at = $1
		WHERE type = 'epargne'
		  AND statut = 'actif'
		  AND "dateBlocage" IS NOT NULL
		  AND "dateBlocage" <= $1
		  AND deleted_at IS NULL
		RETURNING id::text
	`
	return collectIDs(r.db.Query(ctx, query, now))
}

// ListExpiredBlockedIDs returns the blocked savings accounts whose block has ended.
func (r *CompteRepository) ListExpiredBlockedIDs(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT id::text
		FROM comptes
		WHERE type = 'epargne'
		  AND statut = 'bloque'
		  AND "dateDeblocagePrevue" IS NOT NULL
		  AND "dateDeblocagePrevue" <= $1
		  AND deleted_at IS NULL
		ORDER BY "dateDeblocagePrevue"
	`
	return collectIDs(r.db.Query(ctx, query, now))
}

// DetachForArchive locks an expired blocked account, hands its snapshot to
// archive and, once archive succeeded, removes the account and its transactions
// from the primary store. The row lock is held for the whole move.
func (r *CompteRepository) DetachForArchive(
	ctx context.Context,
	id string,
	now time.Time,
	archive func(context.Context, domain.CompteSnapshot) error,
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + compteColumns + `
		FROM comptes c
		WHERE c.id = $1
		  AND c.type = 'epargne'
		  AND c.statut = 'bloque'
		  AND c."dateDeblocagePrevue" <= $2
		  AND c.deleted_at IS NULL
		FOR UPDATE`
	compte, err := scanCompte(tx.QueryRow(ctx, query, id, now), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotEligible
		}
		return fmt.Errorf("lock compte for archive: %w", err)
	}

	txs, err := transactionsTx(ctx, tx, id)
	if err != nil {
		return err
	}
	compte.Solde = domain.CalculerSolde(compte.SoldeInitial, txs)

	if err := archive(ctx, domain.CompteSnapshot{Compte: *compte, Transactions: txs}); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE compte_id = $1`, id); err != nil {
		return fmt.Errorf("delete transactions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM comptes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete compte: %w", err)
	}
	return tx.Commit(ctx)
}

// RestoreSnapshot writes an account back into the primary store. Existing
// transactions are left untouched so a repeated restore is harmless.
func (r *CompteRepository) RestoreSnapshot(ctx context.Context, snapshot domain.CompteSnapshot) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	compte := snapshot.Compte
	if err := upsertCompteTx(ctx, tx, &compte, true); err != nil {
		return fmt.Errorf("restore compte: %w", err)
	}

	for i := range snapshot.Transactions {
		t := &snapshot.Transactions[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (id, compte_id, montant, type, statut, devise, description, date_transaction, created_at, updated_at)
			VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, t.ID, compte.ID, t.Montant.String(), string(t.Type), string(t.Statut), t.Devise, t.Description,
			t.DateTransaction, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("restore transaction %s: %w", t.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// upsertCompteTx inserts the account. With overwrite set it updates every mutable
// column on conflict; solde_initial and numero_compte are never rewritten.
func upsertCompteTx(ctx context.Context, tx pgx.Tx, c *domain.Compte, overwrite bool) error {
	meta, err := json.Marshal(c.Metadonnees)
	if err != nil {
		return fmt.Errorf("marshal metadonnees: %w", err)
	}

	query := `
		INSERT INTO comptes (
			id, client_id, numero_compte, titulaire, type, solde_initial, devise, date_creation,
			statut, metadonnees, date_fermeture, "motifBlocage", "dateBlocage", "dateDeblocagePrevue",
			"motifDeblocage", "dateDeblocage", deleted_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10::jsonb, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	if overwrite {
		query += `
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			titulaire = EXCLUDED.titulaire,
			statut = EXCLUDED.statut,
			metadonnees = EXCLUDED.metadonnees,
			date_fermeture = EXCLUDED.date_fermeture,
			"motifBlocage" = EXCLUDED."motifBlocage",
			"dateBlocage" = EXCLUDED."dateBlocage",
			"dateDeblocagePrevue" = EXCLUDED."dateDeblocagePrevue",
			"motifDeblocage" = EXCLUDED."motifDeblocage",
			"dateDeblocage" = EXCLUDED."dateDeblocage",
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at`
	}

	_, err = tx.Exec(ctx, query,
		c.ID, c.ClientID, c.NumeroCompte, c.Titulaire, string(c.Type), c.SoldeInitial.String(), c.Devise,
		c.DateCreation, string(c.Statut), string(meta), c.DateFermeture, c.MotifBlocage, c.DateBlocage,
		c.DateDeblocagePrevue, c.MotifDeblocage, c.DateDeblocage, c.DeletedAt, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func soldeTx(ctx context.Context, tx pgx.Tx, id string) (decimal.Decimal, error) {
	var n pgtype.Numeric
	query := `SELECT ` + soldeExpr + ` FROM comptes c WHERE c.id = $1`
	if err := tx.QueryRow(ctx, query, id).Scan(&n); err != nil {
		return decimal.Decimal{}, fmt.Errorf("compute solde: %w", err)
	}
	return numericToDecimal(n)
}

func transactionsTx(ctx context.Context, tx pgx.Tx, compteID string) ([]domain.Transaction, error) {
	rows, err := tx.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE compte_id = $1 ORDER BY date_transaction`, compteID)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var (
			t       domain.Transaction
			montant pgtype.Numeric
			typ     string
			statut  string
		)
		if err := rows.Scan(&t.ID, &t.CompteID, &montant, &typ, &statut, &t.Devise, &t.Description,
			&t.DateTransaction, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if t.Montant, err = numericToDecimal(montant); err != nil {
			return nil, err
		}
		t.Type = domain.TransactionType(typ)
		t.Statut = domain.TransactionStatut(statut)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanCompte(row pgx.Row, withSolde bool) (*domain.Compte, error) {
	var (
		c            domain.Compte
		typ, statut  string
		soldeInitial pgtype.Numeric
		solde        pgtype.Numeric
		meta         []byte
	)
	dest := []any{
		&c.ID, &c.ClientID, &c.NumeroCompte, &c.Titulaire, &typ,
		&soldeInitial, &c.Devise, &c.DateCreation, &statut, &meta,
		&c.DateFermeture, &c.MotifBlocage, &c.DateBlocage, &c.DateDeblocagePrevue,
		&c.MotifDeblocage, &c.DateDeblocage, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt,
	}
	if withSolde {
		dest = append(dest, &solde)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	c.Type = domain.CompteType(typ)
	c.Statut = domain.CompteStatut(statut)

	var err error
	if c.SoldeInitial, err = numericToDecimal(soldeInitial); err != nil {
		return nil, err
	}
	if withSolde {
		if c.Solde, err = numericToDecimal(solde); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadonnees); err != nil {
			return nil, fmt.Errorf("decode metadonnees: %w", err)
		}
	}
	return &c, nil
}

func collectIDs(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
