package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType defines the kind of ledger movement.
type TransactionType string

const (
	TransactionDepot    TransactionType = "depot"
	TransactionRetrait  TransactionType = "retrait"
	TransactionVirement TransactionType = "virement"
	TransactionFrais    TransactionType = "frais"
)

// TransactionStatut defines the settlement status of a ledger movement.
type TransactionStatut string

const (
	TransactionEnAttente TransactionStatut = "en_attente"
	TransactionValidee   TransactionStatut = "validee"
	TransactionAnnulee   TransactionStatut = "annulee"
)

// Transaction is a ledger entry attached to one account.
type Transaction struct {
	ID              string            `json:"id"`
	CompteID        string            `json:"compte_id"`
	Montant         decimal.Decimal   `json:"montant"`
	Type            TransactionType   `json:"type"`
	Statut          TransactionStatut `json:"statut"`
	Devise          string            `json:"devise"`
	Description     *string           `json:"description,omitempty"`
	DateTransaction time.Time         `json:"date_transaction"`
	ArchivedAt      *time.Time        `json:"archived_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CalculerSolde returns the balance of an account from its initial balance and its
// ledger. Only validated deposits, withdrawals and fees count; transfers are ignored.
func CalculerSolde(soldeInitial decimal.Decimal, txs []Transaction) decimal.Decimal {
	solde := soldeInitial
	for _, tx := range txs {
		if tx.Statut != TransactionValidee {
			continue
		}
		switch tx.Type {
		case TransactionDepot:
			solde = solde.Add(tx.Montant)
		case TransactionRetrait, TransactionFrais:
			solde = solde.Sub(tx.Montant)
		}
	}
	return solde
}
