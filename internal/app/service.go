/**
 * @description
 * This file contains the core business logic for account management: creation
 * with client resolution, updates, closure, blocking and unblocking, listing.
 *
 * @notes
 * - Every mutation first resolves the account through the lookup so that an
 *   archived account fails fast with COMPTE_ARCHIVED.
 * - Mutations run under a primary row lock (AccountStore.Mutate).
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thetaf313/ges-comptes/internal/domain"
	"github.com/thetaf313/ges-comptes/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxNumeroAttempts   = 10
	verificationCodeTTL = 24 * time.Hour
	defaultListLimit    = 10
	maxListLimit        = 100
	minPasswordLength   = 8
)

// MinSoldeInitial is the smallest opening balance accepted.
var MinSoldeInitial = decimal.NewFromInt(10000)

// AccountService orchestrates the account state machine and the stores.
type AccountService struct {
	comptes    AccountStore
	archives   ArchiveStore
	clients    ClientStore
	clock      Clock
	logger     *slog.Logger
	bcryptCost int
}

// NewAccountService creates a new AccountService.
func NewAccountService(comptes AccountStore, archives ArchiveStore, clients ClientStore, clock Clock, logger *slog.Logger) *AccountService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &AccountService{
		comptes:    comptes,
		archives:   archives,
		clients:    clients,
		clock:      clock,
		logger:     logger,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// ClientInput identifies an existing client or describes a new one.
type ClientInput struct {
	ID        string
	Titulaire string
	Email     string
	Telephone string
	Adresse   string
	NCI       string
}

// CreateCompteInput carries the data needed to open an account.
type CreateCompteInput struct {
	Type         domain.CompteType
	SoldeInitial decimal.Decimal
	Devise       string
	Client       ClientInput
}

// ClientUpdate holds the optional client fields of an account update.
type ClientUpdate struct {
	Telephone *string
	Email     *string
	Password  *string
	NCI       *string
}

func (u *ClientUpdate) empty() bool {
	return u == nil || (u.Telephone == nil && u.Email == nil && u.Password == nil && u.NCI == nil)
}

// UpdateCompteInput carries the optional fields of an account update.
type UpdateCompteInput struct {
	Titulaire       *string
	Client          *ClientUpdate
	ExpectedVersion *int
}

// BlockInput carries a block request. A nil DateBlocage means now.
type BlockInput struct {
	Motif       string
	Duree       int
	Unite       domain.BlockUnit
	DateBlocage *time.Time
}

// ListInput carries the listing filters and pagination.
type ListInput struct {
	Type     domain.CompteType
	ClientID string
	Search   string
	Sort     string
	Order    string
	Page     int
	Limit    int
}

// Pagination describes a page of results.
type Pagination struct {
	CurrentPage  int  `json:"currentPage"`
	TotalPages   int  `json:"totalPages"`
	TotalItems   int  `json:"totalItems"`
	ItemsPerPage int  `json:"itemsPerPage"`
	HasNext      bool `json:"hasNext"`
	HasPrevious  bool `json:"hasPrevious"`
}

// ListResult is a page of accounts.
type ListResult struct {
	Comptes    []domain.Compte
	Pagination Pagination
}

// CreateCompte opens an account, creating the client when no existing one matches.
func (s *AccountService) CreateCompte(ctx context.Context, in CreateCompteInput) (*domain.Compte, error) {
	if !in.Type.Valid() {
		return nil, domain.NewValidationError("Le type de compte doit être epargne ou cheque", map[string]any{"type": string(in.Type)})
	}
	if in.SoldeInitial.LessThan(MinSoldeInitial) {
		return nil, domain.NewValidationError("Le solde initial doit être au moins 10000", map[string]any{"soldeInitial": in.SoldeInitial.String()})
	}

	now := s.clock.Now()
	client, newClient, event, err := s.resolveClient(ctx, in.Client, now)
	if err != nil {
		return nil, err
	}

	devise := strings.ToUpper(strings.TrimSpace(in.Devise))
	if devise == "" {
		devise = domain.DefaultDevise
	}

	compte := &domain.Compte{
		ID:           uuid.NewString(),
		ClientID:     client.ID,
		Titulaire:    client.FullName(),
		Type:         in.Type,
		SoldeInitial: in.SoldeInitial,
		Solde:        in.SoldeInitial,
		Devise:       devise,
		DateCreation: now,
		Statut:       domain.StatutActif,
		Metadonnees:  domain.Metadonnees{Version: 1, DerniereModification: now},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	event.CompteID = compte.ID
	event.ClientID = client.ID
	event.Titulaire = compte.Titulaire
	event.Email = client.Email
	event.Telephone = client.Telephone
	event.OccurredAt = now

	var numero string
	for attempt := 0; attempt < maxNumeroAttempts; attempt++ {
		numero, err = s.nextNumero(ctx)
		if err != nil {
			return nil, err
		}
		compte.NumeroCompte = numero
		event.NumeroCompte = numero

		var clientToInsert *domain.Client
		if newClient {
			clientToInsert = client
		}
		err = s.comptes.Create(ctx, compte, clientToInsert, event)
		switch {
		case err == nil:
			s.logger.Info("compte created", "compte_id", compte.ID, "numero_compte", numero, "client_id", client.ID, "new_client", newClient)
			return compte, nil
		case errors.Is(err, store.ErrDuplicateNumero):
			s.logger.Warn("numero_compte collision, regenerating", "numero_compte", numero)
			continue
		case errors.Is(err, store.ErrDuplicateClient):
			return nil, domain.NewClientExistsError(map[string]any{"email": client.Email, "telephone": client.Telephone})
		default:
			return nil, domain.NewDatabaseError("Erreur lors de la création du compte", err)
		}
	}
	return nil, domain.NewNumeroDuplicatedError(numero)
}

// resolveClient finds the owner by id, then email, then telephone or CNI, and
// otherwise prepares a new client with temporary credentials.
func (s *AccountService) resolveClient(ctx context.Context, in ClientInput, now time.Time) (*domain.Client, bool, *domain.AccountCreatedEvent, error) {
	if id := strings.TrimSpace(in.ID); id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return nil, false, nil, domain.NewInvalidUUIDError("client.id", id)
		}
		client, err := s.clients.FindByID(ctx, id)
		if err != nil {
			return nil, false, nil, s.clientLookupError(id, err)
		}
		return client, false, &domain.AccountCreatedEvent{}, nil
	}

	if email := strings.TrimSpace(in.Email); email != "" {
		client, err := s.clients.FindByEmail(ctx, email)
		if err == nil {
			return client, false, &domain.AccountCreatedEvent{}, nil
		}
		if !errors.Is(err, store.ErrClientNotFound) {
			return nil, false, nil, domain.NewDatabaseError("Erreur lors de la recherche du client", err)
		}
	}

	client, err := s.clients.FindByTelephoneOrCNI(ctx, strings.TrimSpace(in.Telephone), strings.TrimSpace(in.NCI))
	if err == nil {
		return client, false, &domain.AccountCreatedEvent{}, nil
	}
	if !errors.Is(err, store.ErrClientNotFound) {
		return nil, false, nil, domain.NewDatabaseError("Erreur lors de la recherche du client", err)
	}

	if strings.TrimSpace(in.Titulaire) == "" {
		return nil, false, nil, domain.NewValidationError("Le titulaire est obligatoire pour un nouveau client", map[string]any{"client.titulaire": "required"})
	}

	password, err := generateTemporaryPassword()
	if err != nil {
		return nil, false, nil, err
	}
	code, err := generateVerificationCode()
	if err != nil {
		return nil, false, nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, false, nil, err
	}

	nom, prenom := domain.SplitTitulaire(in.Titulaire)
	expires := now.Add(verificationCodeTTL)
	var adresse *string
	if a := strings.TrimSpace(in.Adresse); a != "" {
		adresse = &a
	}
	client = &domain.Client{
		ID:               uuid.NewString(),
		Nom:              nom,
		Prenom:           prenom,
		Email:            strings.TrimSpace(in.Email),
		Telephone:        strings.TrimSpace(in.Telephone),
		Adresse:          adresse,
		CNI:              strings.TrimSpace(in.NCI),
		PasswordHash:     string(hash),
		VerificationCode: &code,
		CodeExpiresAt:    &expires,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	event := &domain.AccountCreatedEvent{
		NewClient:         true,
		TemporaryPassword: password,
		VerificationCode:  code,
		CodeExpiresAt:     &expires,
	}
	return client, true, event, nil
}

// nextNumero returns a numero_compte unused in both stores.
func (s *AccountService) nextNumero(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxNumeroAttempts; attempt++ {
		numero, err := GenerateNumeroCompte()
		if err != nil {
			return "", err
		}
		taken, err := s.comptes.NumeroExists(ctx, numero)
		if err != nil {
			return "", domain.NewDatabaseError("Erreur lors de la vérification du numéro de compte", err)
		}
		if taken {
			continue
		}
		archived, err := s.archives.NumeroExists(ctx, numero)
		if err != nil {
			return "", domain.NewDatabaseError("Erreur lors de la vérification du numéro de compte", err)
		}
		if !archived {
			return numero, nil
		}
	}
	return "", domain.NewNumeroDuplicatedError(numeroPrefix + "????????")
}

// UpdateCompte changes the holder name and, optionally, the client details.
func (s *AccountService) UpdateCompte(ctx context.Context, id string, in UpdateCompteInput) (*domain.Compte, error) {
	if in.Titulaire == nil && in.Client.empty() {
		return nil, domain.NewValidationError("Au moins un champ doit être fourni pour la modification", nil)
	}
	if in.Titulaire != nil && strings.TrimSpace(*in.Titulaire) == "" {
		return nil, domain.NewValidationError("Le titulaire ne peut pas être vide", map[string]any{"titulaire": "required"})
	}

	current, err := s.findMutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion != current.Metadonnees.Version {
		return nil, domain.NewVersionConflictError(id, *in.ExpectedVersion, current.Metadonnees.Version)
	}

	now := s.clock.Now()
	var client *domain.Client
	if !in.Client.empty() {
		client, err = s.applyClientUpdate(ctx, current.ClientID, in.Client, now)
		if err != nil {
			return nil, err
		}
	}

	compte, err := s.comptes.MutateWithClient(ctx, id, func(c *domain.Compte) error {
		if in.ExpectedVersion != nil && *in.ExpectedVersion != c.Metadonnees.Version {
			return domain.NewVersionConflictError(id, *in.ExpectedVersion, c.Metadonnees.Version)
		}
		if in.Titulaire != nil {
			c.Titulaire = strings.TrimSpace(*in.Titulaire)
		}
		c.Touch(now)
		return nil
	}, client)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateClient):
			return nil, domain.NewClientExistsError(map[string]any{"clientId": current.ClientID})
		case errors.Is(err, store.ErrClientNotFound):
			return nil, domain.NewClientNotFoundError(current.ClientID)
		}
		return nil, s.mutateError(id, err)
	}
	return compte, nil
}

// applyClientUpdate loads the owner and applies u in memory. Nothing is written.
func (s *AccountService) applyClientUpdate(ctx context.Context, clientID string, u *ClientUpdate, now time.Time) (*domain.Client, error) {
	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		return nil, s.clientLookupError(clientID, err)
	}

	if u.Telephone != nil {
		client.Telephone = strings.TrimSpace(*u.Telephone)
	}
	if u.Email != nil {
		client.Email = strings.TrimSpace(*u.Email)
	}
	if u.NCI != nil {
		client.CNI = strings.TrimSpace(*u.NCI)
	}
	if u.Password != nil {
		if len(*u.Password) < minPasswordLength {
			return nil, domain.NewValidationError("Le mot de passe doit contenir au moins 8 caractères", map[string]any{"password": "min:8"})
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*u.Password), s.bcryptCost)
		if err != nil {
			return nil, err
		}
		client.PasswordHash = string(hash)
	}
	client.UpdatedAt = now
	return client, nil
}

// CloseCompte moves the account to `ferme` and soft-deletes it.
func (s *AccountService) CloseCompte(ctx context.Context, id string) (*domain.Compte, error) {
	if _, err := s.findMutable(ctx, id); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	compte, err := s.mutate(ctx, id, func(c *domain.Compte) error {
		return c.Close(now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("compte closed", "compte_id", id, "numero_compte", compte.NumeroCompte)
	return compte, nil
}

// BlockCompte blocks a savings account now or schedules the block. It reports
// whether the block was only scheduled.
func (s *AccountService) BlockCompte(ctx context.Context, id string, in BlockInput) (*domain.Compte, bool, error) {
	now := s.clock.Now()
	start := now
	if in.DateBlocage != nil {
		start = *in.DateBlocage
	}
	req := domain.BlockRequest{Motif: in.Motif, Duree: in.Duree, Unite: in.Unite, DateBlocage: start}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	if _, err := s.findMutable(ctx, id); err != nil {
		return nil, false, err
	}

	var scheduled bool
	compte, err := s.mutate(ctx, id, func(c *domain.Compte) error {
		var err error
		scheduled, err = c.Block(req, now)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("compte blocked",
		"compte_id", id,
		"numero_compte", compte.NumeroCompte,
		"scheduled", scheduled,
		"date_blocage", compte.DateBlocage,
		"date_deblocage_prevue", compte.DateDeblocagePrevue,
	)
	return compte, scheduled, nil
}

// UnblockCompte lifts a block manually.
func (s *AccountService) UnblockCompte(ctx context.Context, id string, motif string) (*domain.Compte, error) {
	if strings.TrimSpace(motif) == "" {
		return nil, domain.NewValidationError("Le motif de déblocage est obligatoire", map[string]any{"motif": "required"})
	}
	if _, err := s.findMutable(ctx, id); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	compte, err := s.mutate(ctx, id, func(c *domain.Compte) error {
		return c.Unblock(motif, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("compte unblocked", "compte_id", id, "numero_compte", compte.NumeroCompte)
	return compte, nil
}

// ListComptes returns a page of live accounts.
func (s *AccountService) ListComptes(ctx context.Context, in ListInput) (*ListResult, error) {
	if in.Type != "" && !in.Type.Valid() {
		return nil, domain.NewValidationError("Le type de compte doit être epargne ou cheque", map[string]any{"type": string(in.Type)})
	}
	if in.ClientID != "" {
		if _, err := uuid.Parse(in.ClientID); err != nil {
			return nil, domain.NewInvalidUUIDError("client_id", in.ClientID)
		}
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	page := in.Page
	if page < 1 {
		page = 1
	}

	comptes, total, err := s.comptes.List(ctx, store.ListFilter{
		Type:     in.Type,
		ClientID: in.ClientID,
		Search:   in.Search,
		Sort:     in.Sort,
		Order:    in.Order,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		return nil, domain.NewDatabaseError("Erreur lors de la récupération des comptes", err)
	}

	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return &ListResult{
		Comptes: comptes,
		Pagination: Pagination{
			CurrentPage:  page,
			TotalPages:   totalPages,
			TotalItems:   total,
			ItemsPerPage: limit,
			HasNext:      page < totalPages,
			HasPrevious:  page > 1,
		},
	}, nil
}

// ListClientComptes lists the live accounts of one client.
func (s *AccountService) ListClientComptes(ctx context.Context, clientID string, in ListInput) (*ListResult, error) {
	if _, err := uuid.Parse(clientID); err != nil {
		return nil, domain.NewInvalidUUIDError("client_id", clientID)
	}
	if _, err := s.clients.FindByID(ctx, clientID); err != nil {
		return nil, s.clientLookupError(clientID, err)
	}
	in.ClientID = clientID
	return s.ListComptes(ctx, in)
}

func (s *AccountService) mutate(ctx context.Context, id string, fn func(*domain.Compte) error) (*domain.Compte, error) {
	compte, err := s.comptes.Mutate(ctx, id, fn)
	if err != nil {
		return nil, s.mutateError(id, err)
	}
	return compte, nil
}

// mutateError passes domain errors through and translates store failures.
func (s *AccountService) mutateError(id string, err error) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	if errors.Is(err, store.ErrAccountNotFound) {
		return domain.NewCompteNotFoundError(id)
	}
	return domain.NewDatabaseError("Erreur lors de la mise à jour du compte", err)
}

func (s *AccountService) clientLookupError(id string, err error) error {
	if errors.Is(err, store.ErrClientNotFound) {
		return domain.NewClientNotFoundError(id)
	}
	return domain.NewDatabaseError("Erreur lors de la recherche du client", err)
}
