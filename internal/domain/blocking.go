package domain

import (
	"fmt"
	"strings"
	"time"
)

// BlockUnit is the unit of a block duration.
type BlockUnit string

const (
	UnitMinute   BlockUnit = "minute"
	UnitMinutes  BlockUnit = "minutes"
	UnitJours    BlockUnit = "jours"
	UnitSemaines BlockUnit = "semaines"
	UnitMois     BlockUnit = "mois"
	UnitAnnees   BlockUnit = "annees"
)

const (
	MinBlockDuree  = 1
	MaxBlockDuree  = 365
	MaxMotifLength = 255
)

// BlockRequest carries the parameters of a block operation.
type BlockRequest struct {
	Motif       string
	Duree       int
	Unite       BlockUnit
	DateBlocage time.Time
}

// Valid reports whether u is an accepted unit.
func (u BlockUnit) Valid() bool {
	switch u {
	case UnitMinute, UnitMinutes, UnitJours, UnitSemaines, UnitMois, UnitAnnees:
		return true
	}
	return false
}

// Validate checks the request before any account state is inspected.
func (r BlockRequest) Validate() error {
	motif := strings.TrimSpace(r.Motif)
	if motif == "" {
		return NewValidationError("Le motif de blocage est obligatoire", map[string]any{"motif": "required"})
	}
	if len([]rune(motif)) > MaxMotifLength {
		return NewValidationError("Le motif ne peut pas dépasser 255 caractères", map[string]any{"motif": "max:255"})
	}
	if r.Duree < MinBlockDuree || r.Duree > MaxBlockDuree {
		return NewInvalidDurationError(r.Duree)
	}
	if !r.Unite.Valid() {
		return NewValidationError(
			`L'unité doit être "minute(s)", "jours", "semaines", "mois" ou "annees"`,
			map[string]any{"unite": string(r.Unite)},
		)
	}
	if r.DateBlocage.IsZero() {
		return NewValidationError("La date de début de blocage est requise", map[string]any{"dateBlocage": "required"})
	}
	return nil
}

// ComputeDateDeblocagePrevue adds duree units to start. Months and years follow
// time.AddDate normalization (Jan 31 + 1 mois = Mar 2 or 3).
func ComputeDateDeblocagePrevue(start time.Time, duree int, unite BlockUnit) (time.Time, error) {
	if duree < MinBlockDuree || duree > MaxBlockDuree {
		return time.Time{}, NewInvalidDurationError(duree)
	}
	switch unite {
	case UnitMinute, UnitMinutes:
		return start.Add(time.Duration(duree) * time.Minute), nil
	case UnitJours:
		return start.AddDate(0, 0, duree), nil
	case UnitSemaines:
		return start.AddDate(0, 0, 7*duree), nil
	case UnitMois:
		return start.AddDate(0, duree, 0), nil
	case UnitAnnees:
		return start.AddDate(duree, 0, 0), nil
	}
	return time.Time{}, NewValidationError("Unité de blocage inconnue", map[string]any{"unite": string(unite)})
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate accepts RFC 3339 timestamps as well as the looser "2006-01-02",
// "2006-01-02 15:04[:05]" and PostgreSQL text forms. Values without an offset
// are read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
