package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thetaf313/ges-comptes/internal/domain"
)

const clientColumns = `
	id::text, nom, prenom, email, telephone, adresse, cni, password,
	code_verification, code_expires_at, created_at, updated_at`

// ClientRepository handles database operations for account owners.
type ClientRepository struct {
	db *pgxpool.Pool
}

// NewClientRepository creates a new ClientRepository.
func NewClientRepository(db *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	return r.findOne(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
}

func (r *ClientRepository) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	return r.findOne(ctx, `SELECT `+clientColumns+` FROM clients WHERE LOWER(email) = LOWER($1)`, email)
}

// FindByTelephoneOrCNI matches a client on either identifier.
func (r *ClientRepository) FindByTelephoneOrCNI(ctx context.Context, telephone, cni string) (*domain.Client, error) {
	return r.findOne(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE ($1 <> '' AND telephone = $1) OR ($2 <> '' AND cni = $2)
		ORDER BY created_at
		LIMIT 1`, telephone, cni)
}

func (r *ClientRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Client, error) {
	var c domain.Client
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&c.ID, &c.Nom, &c.Prenom, &c.Email, &c.Telephone, &c.Adresse, &c.CNI, &c.PasswordHash,
		&c.VerificationCode, &c.CodeExpiresAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("find client: %w", err)
	}
	return &c, nil
}

func insertClientTx(ctx context.Context, tx pgx.Tx, c *domain.Client) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO clients (id, nom, prenom, email, telephone, adresse, cni, password,
			code_verification, code_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.Nom, c.Prenom, c.Email, c.Telephone, c.Adresse, c.CNI, c.PasswordHash,
		c.VerificationCode, c.CodeExpiresAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrDuplicateClient
		}
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// updateClientTx rewrites the mutable contact and credential fields of a client.
func updateClientTx(ctx context.Context, tx pgx.Tx, c *domain.Client) error {
	tag, err := tx.Exec(ctx, `
		UPDATE clients
		SET email = $1,
			telephone = $2,
			cni = $3,
			password = $4,
			updated_at = $5
		WHERE id = $6
	`, c.Email, c.Telephone, c.CNI, c.PasswordHash, c.UpdatedAt, c.ID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrDuplicateClient
		}
		return fmt.Errorf("update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}
