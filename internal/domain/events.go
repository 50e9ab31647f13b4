package domain

import "time"

// Event routing for account notifications.
const (
	CompteEventsExchange    = "compte_events"
	RoutingKeyCompteCreated = "compte.created"
	AggregateTypeCompte     = "compte"
)

// AccountCreatedEvent is written to the outbox when an account is opened. The
// temporary password and verification code are only set when the client was
// created together with the account.
type AccountCreatedEvent struct {
	CompteID          string     `json:"compte_id"`
	NumeroCompte      string     `json:"numero_compte"`
	ClientID          string     `json:"client_id"`
	Titulaire         string     `json:"titulaire"`
	Email             string     `json:"email"`
	Telephone         string     `json:"telephone"`
	NewClient         bool       `json:"new_client"`
	TemporaryPassword string     `json:"temporary_password,omitempty"`
	VerificationCode  string     `json:"verification_code,omitempty"`
	CodeExpiresAt     *time.Time `json:"code_expires_at,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}
