/**
 * @description
 * This file defines the core domain model for a Compte (bank account) and the
 * lifecycle state machine that governs its status transitions.
 *
 * @notes
 * - Archival is a storage location layered on top of the `bloque` status, it is
 *   not a status of its own.
 * - `Solde` is never persisted. Stores fill it on read from the ledger.
 */
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CompteType defines the type of an account.
type CompteType string

const (
	CompteEpargne CompteType = "epargne"
	CompteCheque  CompteType = "cheque"
)

// Valid reports whether t is a known account type.
func (t CompteType) Valid() bool {
	return t == CompteEpargne || t == CompteCheque
}

// CompteStatut defines the lifecycle status of an account.
type CompteStatut string

const (
	StatutActif  CompteStatut = "actif"
	StatutBloque CompteStatut = "bloque"
	StatutFerme  CompteStatut = "ferme"
)

// DefaultDevise is used when an account is created without a currency.
const DefaultDevise = "XOF"

// MotifDeblocageAutomatique is recorded when the unarchival sweep restores an account.
const MotifDeblocageAutomatique = "Blocage expiré automatiquement"

// BlocageInfo keeps the duration that was requested for the last block.
type BlocageInfo struct {
	Duree int       `json:"duree"`
	Unite BlockUnit `json:"unite"`
}

// Metadonnees is the versioned metadata attached to every account.
type Metadonnees struct {
	Version              int          `json:"version"`
	DerniereModification time.Time    `json:"derniere_modification"`
	Blocage              *BlocageInfo `json:"blocage,omitempty"`
}

// Compte represents a client's account.
type Compte struct {
	ID                  string          `json:"id"`
	ClientID            string          `json:"client_id"`
	NumeroCompte        string          `json:"numero_compte"`
	Titulaire           string          `json:"titulaire"`
	Type                CompteType      `json:"type"`
	SoldeInitial        decimal.Decimal `json:"solde_initial"`
	Solde               decimal.Decimal `json:"solde"`
	Devise              string          `json:"devise"`
	DateCreation        time.Time       `json:"date_creation"`
	Statut              CompteStatut    `json:"statut"`
	Metadonnees         Metadonnees     `json:"metadonnees"`
	DateFermeture       *time.Time      `json:"date_fermeture,omitempty"`
	MotifBlocage        *string         `json:"motifBlocage"`
	DateBlocage         *time.Time      `json:"dateBlocage"`
	DateDeblocagePrevue *time.Time      `json:"dateDeblocagePrevue"`
	MotifDeblocage      *string         `json:"motifDeblocage"`
	DateDeblocage       *time.Time      `json:"dateDeblocage"`
	DeletedAt           *time.Time      `json:"-"`
	Archived            bool            `json:"archived"`
	ArchivedAt          *time.Time      `json:"archived_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CompteSnapshot is an account together with all of its transactions. It is the
// unit moved between the primary and the archive store.
type CompteSnapshot struct {
	Compte       Compte
	Transactions []Transaction
}

// IsArchived reports whether the account was read from the archive store.
func (c *Compte) IsArchived() bool {
	return c.Archived || c.ArchivedAt != nil
}

// Touch bumps the metadata version and records the modification time. A record
// whose metadata was lost (version 0) restarts at 1.
func (c *Compte) Touch(now time.Time) {
	if c.Metadonnees.Version < 1 {
		c.Metadonnees.Version = 0
	}
	c.Metadonnees.Version++
	c.Metadonnees.DerniereModification = now
	c.UpdatedAt = now
}

// Block records a block request. When the requested start is not in the future the
// account becomes `bloque` immediately; otherwise the block is only scheduled and
// the archival sweep activates it later. It returns true when the block is scheduled.
func (c *Compte) Block(req BlockRequest, now time.Time) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}
	if c.Type != CompteEpargne {
		return false, NewInvalidTypeError(c.ID, c.Type)
	}
	if c.Statut != StatutActif {
		return false, NewInvalidStatusError(c.ID, c.Statut)
	}

	start := req.DateBlocage
	end, err := ComputeDateDeblocagePrevue(start, req.Duree, req.Unite)
	if err != nil {
		return false, err
	}

	motif := strings.TrimSpace(req.Motif)
	c.MotifBlocage = &motif
	c.DateBlocage = &start
	c.DateDeblocagePrevue = &end
	c.Metadonnees.Blocage = &BlocageInfo{Duree: req.Duree, Unite: req.Unite}

	scheduled := start.After(now)
	if !scheduled {
		c.Statut = StatutBloque
	}
	c.Touch(now)
	return scheduled, nil
}

// Unblock lifts a block manually.
func (c *Compte) Unblock(motif string, now time.Time) error {
	motif = strings.TrimSpace(motif)
	if motif == "" {
		return NewValidationError("Le motif de déblocage est obligatoire", map[string]any{"motif": "required"})
	}
	if len([]rune(motif)) > MaxMotifLength {
		return NewValidationError("Le motif ne peut pas dépasser 255 caractères", map[string]any{"motif": "max:255"})
	}
	if c.Statut != StatutBloque {
		return NewNotBlockedError(c.ID, c.Statut)
	}

	c.Statut = StatutActif
	c.clearBlocking()
	c.MotifDeblocage = &motif
	c.DateDeblocage = &now
	c.Touch(now)
	return nil
}

// Close moves the account to the terminal `ferme` status and soft-deletes it.
func (c *Compte) Close(now time.Time) error {
	if c.Statut == StatutFerme {
		return NewAlreadyClosedError(c.ID)
	}
	c.Statut = StatutFerme
	c.DateFermeture = &now
	c.DeletedAt = &now
	c.Touch(now)
	return nil
}

// IsBlockDue reports whether a scheduled block must now be activated.
func (c *Compte) IsBlockDue(now time.Time) bool {
	return c.Type == CompteEpargne &&
		c.Statut == StatutActif &&
		c.DeletedAt == nil &&
		c.DateBlocage != nil &&
		!c.DateBlocage.After(now)
}

// IsBlockExpired reports whether a blocked savings account has passed its end date.
func (c *Compte) IsBlockExpired(now time.Time) bool {
	return c.Type == CompteEpargne &&
		c.Statut == StatutBloque &&
		c.DateDeblocagePrevue != nil &&
		!c.DateDeblocagePrevue.After(now)
}

// ActivateBlock flips a due scheduled block to `bloque`.
func (c *Compte) ActivateBlock(now time.Time) bool {
	if !c.IsBlockDue(now) {
		return false
	}
	c.Statut = StatutBloque
	c.Touch(now)
	return true
}

// RestoreFromArchive turns an archived, expired account back into an active one.
func (c *Compte) RestoreFromArchive(now time.Time) {
	motif := MotifDeblocageAutomatique
	c.Statut = StatutActif
	c.clearBlocking()
	c.MotifDeblocage = &motif
	c.DateDeblocage = &now
	c.Archived = false
	c.ArchivedAt = nil
	c.DeletedAt = nil
	c.Touch(now)
}

func (c *Compte) clearBlocking() {
	c.MotifBlocage = nil
	c.DateBlocage = nil
	c.DateDeblocagePrevue = nil
}
