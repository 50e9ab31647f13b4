/**
 * @description
 * This file defines the HTTP handlers for the comptes API. Handlers decode and
 * validate the request, call the account service and write the response
 * envelope.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/go-playground/validator/v10: request validation.
 */
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/thetaf313/ges-comptes/internal/app"
	"github.com/thetaf313/ges-comptes/internal/domain"
)

// CompteService is the account service as seen by the handlers.
type CompteService interface {
	CreateCompte(ctx context.Context, in app.CreateCompteInput) (*domain.Compte, error)
	FindCompteByID(ctx context.Context, id string) (*domain.Compte, error)
	FindCompteByNumero(ctx context.Context, numero string) (*domain.Compte, error)
	UpdateCompte(ctx context.Context, id string, in app.UpdateCompteInput) (*domain.Compte, error)
	CloseCompte(ctx context.Context, id string) (*domain.Compte, error)
	BlockCompte(ctx context.Context, id string, in app.BlockInput) (*domain.Compte, bool, error)
	UnblockCompte(ctx context.Context, id string, motif string) (*domain.Compte, error)
	ListComptes(ctx context.Context, in app.ListInput) (*app.ListResult, error)
	ListClientComptes(ctx context.Context, clientID string, in app.ListInput) (*app.ListResult, error)
	FindClient(ctx context.Context, id string) (*domain.Client, error)
	SearchClient(ctx context.Context, identifier string) (*domain.Client, error)
}

// CompteHandler holds the dependencies for account handlers.
type CompteHandler struct {
	service CompteService
	logger  *slog.Logger
}

// NewCompteHandler creates a new CompteHandler.
func NewCompteHandler(service CompteService, logger *slog.Logger) *CompteHandler {
	return &CompteHandler{service: service, logger: logger}
}

// CreateClientRequest identifies an existing client by id, or describes a new one.
type CreateClientRequest struct {
	ID        string `json:"id" validate:"omitempty,uuid"`
	Titulaire string `json:"titulaire" validate:"omitempty,max=255"`
	Email     string `json:"email" validate:"omitempty,email"`
	Telephone string `json:"telephone" validate:"omitempty,telephone_sn"`
	Adresse   string `json:"adresse"`
	NCI       string `json:"nci" validate:"omitempty,cni"`
}

// CreateCompteRequest defines the expected JSON body for opening an account.
type CreateCompteRequest struct {
	Type         string              `json:"type" validate:"required,oneof=epargne cheque"`
	SoldeInitial *decimal.Decimal    `json:"soldeInitial" validate:"required"`
	Devise       string              `json:"devise" validate:"required"`
	Client       CreateClientRequest `json:"client"`
}

// UpdateClientRequest holds the optional client fields of an update.
type UpdateClientRequest struct {
	Telephone *string `json:"telephone" validate:"omitempty,telephone_sn"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Password  *string `json:"password" validate:"omitempty,min=8"`
	NCI       *string `json:"nci" validate:"omitempty,cni"`
}

// UpdateCompteRequest defines the expected JSON body for PATCH /comptes/{id}.
type UpdateCompteRequest struct {
	Titulaire          *string              `json:"titulaire" validate:"omitempty,max=255"`
	InformationsClient *UpdateClientRequest `json:"informationsClient"`
	Version            *int                 `json:"version" validate:"omitempty,min=1"`
}

// BlockCompteRequest defines the expected JSON body for blocking an account.
// Duration and unit bounds are checked by the domain.
type BlockCompteRequest struct {
	DateBlocage string `json:"dateBlocage"`
	Motif       string `json:"motif" validate:"required,max=255"`
	Duree       int    `json:"duree"`
	Unite       string `json:"unite" validate:"required"`
}

// startDate parses the optional dateBlocage. A nil result means "now".
func (req BlockCompteRequest) startDate() (*time.Time, bool) {
	if strings.TrimSpace(req.DateBlocage) == "" {
		return nil, true
	}
	t, err := domain.ParseDate(req.DateBlocage)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// UnblockCompteRequest defines the expected JSON body for unblocking an account.
type UnblockCompteRequest struct {
	Motif string `json:"motif" validate:"required,max=255"`
}

type closeResponse struct {
	ID            string              `json:"id"`
	NumeroCompte  string              `json:"numeroCompte"`
	Statut        domain.CompteStatut `json:"statut"`
	DateFermeture *time.Time          `json:"dateFermeture"`
}

type blockResponse struct {
	ID                  string              `json:"id"`
	Statut              domain.CompteStatut `json:"statut"`
	MotifBlocage        *string             `json:"motifBlocage"`
	DateBlocage         *time.Time          `json:"dateBlocage"`
	DateDeblocagePrevue *time.Time          `json:"dateDeblocagePrevue"`
	Scheduled           bool                `json:"scheduled"`
}

type unblockResponse struct {
	ID             string              `json:"id"`
	Statut         domain.CompteStatut `json:"statut"`
	MotifDeblocage *string             `json:"motifDeblocage"`
	DateDeblocage  *time.Time          `json:"dateDeblocage"`
}

// ListComptes handles GET /comptes.
func (h *CompteHandler) ListComptes(w http.ResponseWriter, r *http.Request) {
	in, ok := h.listInput(w, r)
	if !ok {
		return
	}
	res, err := h.service.ListComptes(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Liste des comptes actifs récupérée avec succès", res.Comptes, &res.Pagination)
}

// ListClientComptes handles GET /clients/{id}/comptes.
func (h *CompteHandler) ListClientComptes(w http.ResponseWriter, r *http.Request) {
	in, ok := h.listInput(w, r)
	if !ok {
		return
	}
	res, err := h.service.ListClientComptes(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comptes du client récupérés avec succès", res.Comptes, &res.Pagination)
}

// GetClient handles GET /clients/{id}.
func (h *CompteHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.service.FindClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Détails du client récupérés", client, nil)
}

// SearchClient handles GET /clients/search/{identifier}.
func (h *CompteHandler) SearchClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.service.SearchClient(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Client trouvé", client, nil)
}

// CreateCompte handles POST /comptes.
func (h *CompteHandler) CreateCompte(w http.ResponseWriter, r *http.Request) {
	var req CreateCompteRequest
	if !h.decode(w, r, &req) {
		return
	}

	details := validateRequest(req)
	if req.Client.ID == "" {
		for field, value := range map[string]string{
			"client.titulaire": req.Client.Titulaire,
			"client.nci":       req.Client.NCI,
			"client.email":     req.Client.Email,
			"client.telephone": req.Client.Telephone,
			"client.adresse":   req.Client.Adresse,
		} {
			if strings.TrimSpace(value) == "" {
				if details == nil {
					details = map[string]any{}
				}
				details[field] = "Ce champ est requis"
			}
		}
	}
	if details != nil {
		writeValidationFailure(w, details)
		return
	}

	compte, err := h.service.CreateCompte(r.Context(), app.CreateCompteInput{
		Type:         domain.CompteType(req.Type),
		SoldeInitial: *req.SoldeInitial,
		Devise:       req.Devise,
		Client: app.ClientInput{
			ID:        req.Client.ID,
			Titulaire: req.Client.Titulaire,
			Email:     req.Client.Email,
			Telephone: normalizeTelephone(req.Client.Telephone),
			Adresse:   req.Client.Adresse,
			NCI:       req.Client.NCI,
		},
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Compte créé avec succès", compte, nil)
}

// GetCompte handles GET /comptes/{id}. Archived accounts are returned too.
func (h *CompteHandler) GetCompte(w http.ResponseWriter, r *http.Request) {
	compte, err := h.service.FindCompteByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Détails du compte récupérés", compte, nil)
}

// GetCompteByNumero handles GET /comptes/numero/{numero}.
func (h *CompteHandler) GetCompteByNumero(w http.ResponseWriter, r *http.Request) {
	compte, err := h.service.FindCompteByNumero(r.Context(), chi.URLParam(r, "numero"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Détails du compte récupérés", compte, nil)
}

// UpdateCompte handles PATCH /comptes/{id}.
func (h *CompteHandler) UpdateCompte(w http.ResponseWriter, r *http.Request) {
	var req UpdateCompteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if details := validateRequest(req); details != nil {
		writeValidationFailure(w, details)
		return
	}

	in := app.UpdateCompteInput{Titulaire: req.Titulaire, ExpectedVersion: req.Version}
	if c := req.InformationsClient; c != nil {
		if c.Telephone != nil {
			tel := normalizeTelephone(*c.Telephone)
			c.Telephone = &tel
		}
		in.Client = &app.ClientUpdate{Telephone: c.Telephone, Email: c.Email, Password: c.Password, NCI: c.NCI}
	}

	compte, err := h.service.UpdateCompte(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Compte mis à jour avec succès", compte, nil)
}

// CloseCompte handles DELETE /comptes/{id}.
func (h *CompteHandler) CloseCompte(w http.ResponseWriter, r *http.Request) {
	compte, err := h.service.CloseCompte(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Compte supprimé avec succès", closeResponse{
		ID:            compte.ID,
		NumeroCompte:  compte.NumeroCompte,
		Statut:        compte.Statut,
		DateFermeture: compte.DateFermeture,
	}, nil)
}

// BlockCompte handles POST /comptes/{id}/bloquer.
func (h *CompteHandler) BlockCompte(w http.ResponseWriter, r *http.Request) {
	var req BlockCompteRequest
	if !h.decode(w, r, &req) {
		return
	}
	details := validateRequest(req)
	start, ok := req.startDate()
	if !ok {
		if details == nil {
			details = map[string]any{}
		}
		details["dateBlocage"] = "La date de début de blocage doit être une date valide"
	}
	if details != nil {
		writeValidationFailure(w, details)
		return
	}

	compte, scheduled, err := h.service.BlockCompte(r.Context(), chi.URLParam(r, "id"), app.BlockInput{
		Motif:       req.Motif,
		Duree:       req.Duree,
		Unite:       domain.BlockUnit(req.Unite),
		DateBlocage: start,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Informations de blocage enregistrées", blockResponse{
		ID:                  compte.ID,
		Statut:              compte.Statut,
		MotifBlocage:        compte.MotifBlocage,
		DateBlocage:         compte.DateBlocage,
		DateDeblocagePrevue: compte.DateDeblocagePrevue,
		Scheduled:           scheduled,
	}, nil)
}

// UnblockCompte handles POST /comptes/{id}/debloquer.
func (h *CompteHandler) UnblockCompte(w http.ResponseWriter, r *http.Request) {
	var req UnblockCompteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if details := validateRequest(req); details != nil {
		writeValidationFailure(w, details)
		return
	}

	compte, err := h.service.UnblockCompte(r.Context(), chi.URLParam(r, "id"), req.Motif)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Compte débloqué avec succès", unblockResponse{
		ID:             compte.ID,
		Statut:         compte.Statut,
		MotifDeblocage: compte.MotifDeblocage,
		DateDeblocage:  compte.DateDeblocage,
	}, nil)
}

func (h *CompteHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, domain.CodeValidation, "Corps de requête invalide", map[string]any{"body": err.Error()})
		return false
	}
	return true
}

func (h *CompteHandler) listInput(w http.ResponseWriter, r *http.Request) (app.ListInput, bool) {
	q := r.URL.Query()
	in := app.ListInput{
		Type:     domain.CompteType(q.Get("type")),
		ClientID: q.Get("client_id"),
		Search:   q.Get("search"),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
	}

	details := map[string]any{}
	for name, dst := range map[string]*int{"page": &in.Page, "limit": &in.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			details[name] = "Doit être un entier positif"
			continue
		}
		*dst = n
	}
	if len(details) > 0 {
		writeValidationFailure(w, details)
		return in, false
	}
	return in, true
}

func writeValidationFailure(w http.ResponseWriter, details map[string]any) {
	writeFailure(w, http.StatusBadRequest, domain.CodeValidation, "Les données fournies sont invalides", details)
}
