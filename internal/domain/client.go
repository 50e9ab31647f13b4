package domain

import (
	"strings"
	"time"
)

// Client is the owner of one or more accounts.
type Client struct {
	ID               string     `json:"id"`
	Nom              string     `json:"nom"`
	Prenom           string     `json:"prenom"`
	Email            string     `json:"email"`
	Telephone        string     `json:"telephone"`
	Adresse          *string    `json:"adresse,omitempty"`
	CNI              string     `json:"cni"`
	PasswordHash     string     `json:"-"`
	VerificationCode *string    `json:"-"`
	CodeExpiresAt    *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// FullName returns "nom prenom", the holder name given to new accounts.
func (c *Client) FullName() string {
	return strings.TrimSpace(c.Nom + " " + c.Prenom)
}

// SplitTitulaire splits a holder name into nom (first word) and prenom (the rest).
func SplitTitulaire(titulaire string) (nom, prenom string) {
	fields := strings.Fields(titulaire)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
