package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrAccountNotFound is returned when no live account matches the lookup.
	ErrAccountNotFound = errors.New("account not found")
	// ErrClientNotFound is returned when no client matches the lookup.
	ErrClientNotFound = errors.New("client not found")
	// ErrNotEligible is returned by the sweep moves when the locked row no longer
	// satisfies the selection criteria.
	ErrNotEligible = errors.New("account no longer eligible")
	// ErrDuplicateNumero is returned when numero_compte collides on insert.
	ErrDuplicateNumero = errors.New("numero_compte already exists")
	// ErrDuplicateClient is returned when a client's email, telephone or cni collides.
	ErrDuplicateClient = errors.New("client already exists")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraintHint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraintHint == "" || strings.Contains(pgErr.ConstraintName, constraintHint)
}
