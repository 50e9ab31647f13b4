package domain

import (
	"errors"
	"fmt"
)

// ErrorKind groups error codes by how callers should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindArchived
	KindInvalidState
	KindValidation
	KindConflict
	KindDatabase
)

// Machine-readable error codes.
const (
	CodeCompteNotFound         = "COMPTE_NOT_FOUND"
	CodeClientNotFound         = "CLIENT_NOT_FOUND"
	CodeCompteArchived         = "COMPTE_ARCHIVED"
	CodeCompteTypeInvalid      = "COMPTE_TYPE_INVALID"
	CodeCompteStatutInvalid    = "COMPTE_STATUS_INVALID"
	CodeCompteNotBlocked       = "COMPTE_NOT_BLOCKED"
	CodeCompteDejaFerme        = "COMPTE_DEJA_FERME"
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidUUID            = "INVALID_UUID_FORMAT"
	CodeInvalidBlockingDuree   = "INVALID_BLOCKING_DURATION"
	CodeNumeroCompteDuplicated = "NUMERO_COMPTE_ALREADY_EXISTS"
	CodeClientAlreadyExists    = "CLIENT_ALREADY_EXISTS"
	CodeVersionConflict        = "VERSION_CONFLICT"
	CodeDatabase               = "DATABASE_ERROR"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is a typed domain error carrying a code, a message and details about the
// offending identifier.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on the error code so that errors.Is(err, domain.ErrCompteArchived) works
// for any archived-account error regardless of its details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrCompteNotFound   = &Error{Code: CodeCompteNotFound}
	ErrClientNotFound   = &Error{Code: CodeClientNotFound}
	ErrCompteArchived   = &Error{Code: CodeCompteArchived}
	ErrInvalidType      = &Error{Code: CodeCompteTypeInvalid}
	ErrInvalidStatus    = &Error{Code: CodeCompteStatutInvalid}
	ErrNotBlocked       = &Error{Code: CodeCompteNotBlocked}
	ErrAlreadyClosed    = &Error{Code: CodeCompteDejaFerme}
	ErrValidation       = &Error{Code: CodeValidation}
	ErrInvalidUUID      = &Error{Code: CodeInvalidUUID}
	ErrInvalidDuration  = &Error{Code: CodeInvalidBlockingDuree}
	ErrNumeroDuplicated = &Error{Code: CodeNumeroCompteDuplicated}
	ErrClientExists     = &Error{Code: CodeClientAlreadyExists}
	ErrVersionConflict  = &Error{Code: CodeVersionConflict}
	ErrDatabase         = &Error{Code: CodeDatabase}
)

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func NewCompteNotFoundError(identifier string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeCompteNotFound,
		Message: fmt.Sprintf("Le compte '%s' n'existe pas", identifier),
		Details: map[string]any{"compteId": identifier},
	}
}

func NewCompteNumeroNotFoundError(numero string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeCompteNotFound,
		Message: fmt.Sprintf("Le compte avec le numéro '%s' n'existe pas", numero),
		Details: map[string]any{"numero": numero},
	}
}

func NewClientNotFoundError(clientID string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeClientNotFound,
		Message: fmt.Sprintf("Le client '%s' n'existe pas", clientID),
		Details: map[string]any{"clientId": clientID},
	}
}

func NewClientIdentifierNotFoundError(identifier string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeClientNotFound,
		Message: "Aucun client trouvé avec ce numéro de téléphone ou NCI",
		Details: map[string]any{"identifier": identifier},
	}
}

func NewCompteArchivedError(compteID string) *Error {
	return &Error{
		Kind:    KindArchived,
		Code:    CodeCompteArchived,
		Message: fmt.Sprintf("Impossible de modifier le compte '%s' car il est archivé", compteID),
		Details: map[string]any{"compteId": compteID},
	}
}

func NewInvalidTypeError(compteID string, t CompteType) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Code:    CodeCompteTypeInvalid,
		Message: "Seuls les comptes épargne peuvent être bloqués",
		Details: map[string]any{"compteId": compteID, "type": string(t)},
	}
}

func NewInvalidStatusError(compteID string, s CompteStatut) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Code:    CodeCompteStatutInvalid,
		Message: "Seuls les comptes actifs peuvent être bloqués",
		Details: map[string]any{"compteId": compteID, "statut": string(s)},
	}
}

func NewNotBlockedError(compteID string, s CompteStatut) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Code:    CodeCompteNotBlocked,
		Message: "Seuls les comptes bloqués peuvent être débloqués",
		Details: map[string]any{"compteId": compteID, "statut": string(s)},
	}
}

func NewAlreadyClosedError(compteID string) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Code:    CodeCompteDejaFerme,
		Message: "Ce compte est déjà fermé",
		Details: map[string]any{"compteId": compteID, "statut": string(StatutFerme)},
	}
}

func NewValidationError(message string, details map[string]any) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: message,
		Details: details,
	}
}

func NewInvalidUUIDError(field, value string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeInvalidUUID,
		Message: fmt.Sprintf("L'identifiant '%s' n'est pas un UUID valide", value),
		Details: map[string]any{"field": field, "value": value},
	}
}

func NewInvalidDurationError(duree int) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeInvalidBlockingDuree,
		Message: fmt.Sprintf("La durée doit être comprise entre %d et %d", MinBlockDuree, MaxBlockDuree),
		Details: map[string]any{"duree": duree},
	}
}

func NewNumeroDuplicatedError(numero string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeNumeroCompteDuplicated,
		Message: fmt.Sprintf("Le numéro de compte '%s' existe déjà", numero),
		Details: map[string]any{"numero": numero},
	}
}

func NewClientExistsError(details map[string]any) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeClientAlreadyExists,
		Message: "Un client avec cet email, ce téléphone ou ce CNI existe déjà",
		Details: details,
	}
}

func NewVersionConflictError(compteID string, expected, actual int) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeVersionConflict,
		Message: "Le compte a été modifié entre-temps",
		Details: map[string]any{"compteId": compteID, "expectedVersion": expected, "currentVersion": actual},
	}
}

func NewDatabaseError(message string, err error) *Error {
	return &Error{
		Kind:    KindDatabase,
		Code:    CodeDatabase,
		Message: message,
		Err:     err,
	}
}
