package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/thetaf313/ges-comptes/internal/domain"
	"github.com/thetaf313/ges-comptes/internal/store"
)

// FindCompteByID resolves an account from the primary store first and the
// archive second. Archived results carry Archived = true.
func (s *AccountService) FindCompteByID(ctx context.Context, id string) (*domain.Compte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.NewInvalidUUIDError("id", id)
	}

	compte, err := s.comptes.FindByID(ctx, id)
	if err == nil {
		return compte, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, domain.NewDatabaseError("Erreur lors de la recherche du compte", err)
	}

	archived := s.findInArchive(ctx, "compte_id", id, s.archives.FindByID)
	if archived != nil {
		return archived, nil
	}
	return nil, domain.NewCompteNotFoundError(id)
}

// FindCompteByNumero resolves an account by its numero_compte, primary first.
func (s *AccountService) FindCompteByNumero(ctx context.Context, numero string) (*domain.Compte, error) {
	compte, err := s.comptes.FindByNumero(ctx, numero)
	if err == nil {
		return compte, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, domain.NewDatabaseError("Erreur lors de la recherche du compte", err)
	}

	archived := s.findInArchive(ctx, "numero_compte", numero, s.archives.FindByNumero)
	if archived != nil {
		return archived, nil
	}
	return nil, domain.NewCompteNumeroNotFoundError(numero)
}

// findInArchive treats any archive failure as "not archived" so an unavailable
// archive never hides live accounts.
func (s *AccountService) findInArchive(
	ctx context.Context,
	key, value string,
	find func(context.Context, string) (*domain.Compte, error),
) *domain.Compte {
	compte, err := find(ctx, value)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			s.logger.Warn("archive lookup failed", key, value, "error", err)
		}
		return nil
	}
	if compte.Type != domain.CompteEpargne {
		return nil
	}
	compte.Archived = true
	return compte
}

// findMutable resolves an account for modification and rejects archived ones.
func (s *AccountService) findMutable(ctx context.Context, id string) (*domain.Compte, error) {
	compte, err := s.FindCompteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if compte.IsArchived() {
		return nil, domain.NewCompteArchivedError(id)
	}
	return compte, nil
}

// FindClient returns the client with the given id.
func (s *AccountService) FindClient(ctx context.Context, id string) (*domain.Client, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.NewInvalidUUIDError("client_id", id)
	}
	client, err := s.clients.FindByID(ctx, id)
	if err != nil {
		return nil, s.clientLookupError(id, err)
	}
	return client, nil
}

// SearchClient finds a client by telephone first, then by CNI.
func (s *AccountService) SearchClient(ctx context.Context, identifier string) (*domain.Client, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, domain.NewValidationError("L'identifiant de recherche est requis", map[string]any{"identifier": "required"})
	}

	for _, find := range []func() (*domain.Client, error){
		func() (*domain.Client, error) { return s.clients.FindByTelephoneOrCNI(ctx, identifier, "") },
		func() (*domain.Client, error) { return s.clients.FindByTelephoneOrCNI(ctx, "", identifier) },
	} {
		client, err := find()
		if err == nil {
			return client, nil
		}
		if !errors.Is(err, store.ErrClientNotFound) {
			return nil, domain.NewDatabaseError("Erreur lors de la recherche du client", err)
		}
	}

	s.logger.Info("client search found nothing", "identifier", identifier)
	return nil, domain.NewClientIdentifierNotFoundError(identifier)
}
