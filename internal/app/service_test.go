package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thetaf313/ges-comptes/internal/domain"
	"github.com/thetaf313/ges-comptes/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type serviceFixture struct {
	svc      *AccountService
	comptes  *memAccounts
	archives *memArchive
	clients  *memClients
	clock    *fixedClock
}

func newServiceFixture(clients ...domain.Client) *serviceFixture {
	f := &serviceFixture{
		comptes:  newMemAccounts(),
		archives: newMemArchive(),
		clients:  newMemClients(clients...),
		clock:    &fixedClock{now: testNow},
	}
	f.comptes.clients = f.clients
	f.svc = NewAccountService(f.comptes, f.archives, f.clients, f.clock, discardLogger())
	f.svc.bcryptCost = bcrypt.MinCost
	return f
}

func activeCompte(t domain.CompteType) domain.Compte {
	return domain.Compte{
		ID:           uuid.NewString(),
		ClientID:     uuid.NewString(),
		NumeroCompte: "CPT-" + strings.ToUpper(uuid.NewString()[:8]),
		Titulaire:    "Diop Awa",
		Type:         t,
		SoldeInitial: decimal.NewFromInt(50000),
		Devise:       "XOF",
		DateCreation: testNow.Add(-48 * time.Hour),
		Statut:       domain.StatutActif,
		Metadonnees:  domain.Metadonnees{Version: 1, DerniereModification: testNow.Add(-48 * time.Hour)},
	}
}

func existingClient() domain.Client {
	return domain.Client{
		ID:        uuid.NewString(),
		Nom:       "Ndiaye",
		Prenom:    "Moussa",
		Email:     "moussa@example.sn",
		Telephone: "+221771234567",
		CNI:       "1234567890123",
	}
}

func TestCreateCompteWithNewClient(t *testing.T) {
	f := newServiceFixture()

	compte, err := f.svc.CreateCompte(context.Background(), CreateCompteInput{
		Type:         domain.CompteEpargne,
		SoldeInitial: decimal.NewFromInt(25000),
		Client: ClientInput{
			Titulaire: "Diop Awa Marie",
			Email:     "awa@example.sn",
			Telephone: "+221781112233",
			NCI:       "2987654321098",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Diop Awa Marie", compte.Titulaire)
	assert.Equal(t, domain.StatutActif, compte.Statut)
	assert.Equal(t, domain.DefaultDevise, compte.Devise)
	assert.Equal(t, 1, compte.Metadonnees.Version)
	assert.True(t, compte.Solde.Equal(decimal.NewFromInt(25000)))
	assert.True(t, strings.HasPrefix(compte.NumeroCompte, "CPT-"))
	assert.Len(t, compte.NumeroCompte, len("CPT-")+8)

	require.Len(t, f.comptes.newClients, 1)
	client := f.comptes.newClients[0]
	assert.Equal(t, "Diop", client.Nom)
	assert.Equal(t, "Awa Marie", client.Prenom)
	assert.Equal(t, client.ID, compte.ClientID)

	require.Len(t, f.comptes.created, 1)
	event := f.comptes.created[0]
	assert.True(t, event.NewClient)
	assert.Equal(t, compte.ID, event.CompteID)
	assert.Equal(t, compte.NumeroCompte, event.NumeroCompte)
	assert.Len(t, event.TemporaryPassword, 10)
	assert.Len(t, event.VerificationCode, 6)
	require.NotNil(t, event.CodeExpiresAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *event.CodeExpiresAt)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(client.PasswordHash), []byte(event.TemporaryPassword)))
}

func TestCreateCompteResolvesExistingClient(t *testing.T) {
	known := existingClient()

	cases := map[string]ClientInput{
		"by id":        {ID: known.ID},
		"by email":     {Email: "MOUSSA@example.sn"},
		"by telephone": {Telephone: known.Telephone, Titulaire: "Quelqu'un"},
		"by cni":       {NCI: known.CNI, Titulaire: "Quelqu'un"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			f := newServiceFixture(known)
			compte, err := f.svc.CreateCompte(context.Background(), CreateCompteInput{
				Type:         domain.CompteCheque,
				SoldeInitial: decimal.NewFromInt(10000),
				Devise:       "eur",
				Client:       in,
			})
			require.NoError(t, err)
			assert.Equal(t, known.ID, compte.ClientID)
			assert.Equal(t, "Ndiaye Moussa", compte.Titulaire)
			assert.Equal(t, "EUR", compte.Devise)
			assert.Empty(t, f.comptes.newClients)
			require.Len(t, f.comptes.created, 1)
			assert.False(t, f.comptes.created[0].NewClient)
			assert.Empty(t, f.comptes.created[0].TemporaryPassword)
		})
	}
}

func TestCreateCompteValidation(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.CreateCompte(ctx, CreateCompteInput{Type: "courant", SoldeInitial: decimal.NewFromInt(20000)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateCompte(ctx, CreateCompteInput{Type: domain.CompteEpargne, SoldeInitial: decimal.NewFromInt(9999)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateCompte(ctx, CreateCompteInput{
		Type:         domain.CompteEpargne,
		SoldeInitial: decimal.NewFromInt(10000),
		Client:       ClientInput{ID: "not-a-uuid"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidUUID)

	_, err = f.svc.CreateCompte(ctx, CreateCompteInput{
		Type:         domain.CompteEpargne,
		SoldeInitial: decimal.NewFromInt(10000),
		Client:       ClientInput{ID: uuid.NewString()},
	})
	assert.ErrorIs(t, err, domain.ErrClientNotFound)

	_, err = f.svc.CreateCompte(ctx, CreateCompteInput{
		Type:         domain.CompteEpargne,
		SoldeInitial: decimal.NewFromInt(10000),
		Client:       ClientInput{Email: "nobody@example.sn"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, f.comptes.created)
}

func TestCreateCompteRetriesOnNumeroCollision(t *testing.T) {
	f := newServiceFixture(existingClient())
	f.comptes.createErrs = []error{store.ErrDuplicateNumero, store.ErrDuplicateNumero}

	compte, err := f.svc.CreateCompte(context.Background(), CreateCompteInput{
		Type:         domain.CompteEpargne,
		SoldeInitial: decimal.NewFromInt(15000),
		Client:       ClientInput{Email: "moussa@example.sn"},
	})
	require.NoError(t, err)
	require.Len(t, f.comptes.created, 1)
	assert.Equal(t, compte.NumeroCompte, f.comptes.created[0].NumeroCompte)
}

func TestCreateCompteDuplicateClient(t *testing.T) {
	f := newServiceFixture()
	f.comptes.createErrs = []error{store.ErrDuplicateClient}

	_, err := f.svc.CreateCompte(context.Background(), CreateCompteInput{
		Type:         domain.CompteEpargne,
		SoldeInitial: decimal.NewFromInt(15000),
		Client:       ClientInput{Titulaire: "Fall Binta", Email: "binta@example.sn", Telephone: "+221770000000"},
	})
	assert.ErrorIs(t, err, domain.ErrClientExists)
}

func TestBlockCompteNowAndScheduled(t *testing.T) {
	f := newServiceFixture()
	now := f.clock.now
	immediate := activeCompte(domain.CompteEpargne)
	later := activeCompte(domain.CompteEpargne)
	f.comptes.put(immediate)
	f.comptes.put(later)

	got, scheduled, err := f.svc.BlockCompte(context.Background(), immediate.ID, BlockInput{Motif: "Fraude", Duree: 2, Unite: domain.UnitJours})
	require.NoError(t, err)
	assert.False(t, scheduled)
	assert.Equal(t, domain.StatutBloque, got.Statut)
	assert.Equal(t, now.AddDate(0, 0, 2), *got.DateDeblocagePrevue)
	assert.Equal(t, 2, got.Metadonnees.Version)

	start := now.Add(time.Hour)
	got, scheduled, err = f.svc.BlockCompte(context.Background(), later.ID, BlockInput{Motif: "Voyage", Duree: 1, Unite: domain.UnitSemaines, DateBlocage: &start})
	require.NoError(t, err)
	assert.True(t, scheduled)
	assert.Equal(t, domain.StatutActif, got.Statut)
	assert.Equal(t, start, *got.DateBlocage)
	assert.Equal(t, start.AddDate(0, 0, 7), *got.DateDeblocagePrevue)
}

func TestBlockChequeLeavesCompteUnchanged(t *testing.T) {
	f := newServiceFixture()
	cheque := activeCompte(domain.CompteCheque)
	f.comptes.put(cheque)

	_, _, err := f.svc.BlockCompte(context.Background(), cheque.ID, BlockInput{Motif: "x", Duree: 1, Unite: domain.UnitMois})
	assert.ErrorIs(t, err, domain.ErrInvalidType)

	stored, _ := f.comptes.get(cheque.ID)
	assert.Equal(t, cheque, stored)
}

func TestBlockCompteRejectsInvalidDuration(t *testing.T) {
	f := newServiceFixture()
	c := activeCompte(domain.CompteEpargne)
	f.comptes.put(c)

	_, _, err := f.svc.BlockCompte(context.Background(), c.ID, BlockInput{Motif: "x", Duree: 0, Unite: domain.UnitJours})
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)

	_, _, err = f.svc.BlockCompte(context.Background(), c.ID, BlockInput{Motif: "x", Duree: 3, Unite: "siecles"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMutationsRejectArchivedCompte(t *testing.T) {
	f := newServiceFixture()
	archived := activeCompte(domain.CompteEpargne)
	archived.Statut = domain.StatutBloque
	require.NoError(t, f.archives.SaveSnapshot(context.Background(), domain.CompteSnapshot{Compte: archived}, testNow))

	ctx := context.Background()
	_, _, err := f.svc.BlockCompte(ctx, archived.ID, BlockInput{Motif: "x", Duree: 1, Unite: domain.UnitJours})
	assert.ErrorIs(t, err, domain.ErrCompteArchived)

	_, err = f.svc.UnblockCompte(ctx, archived.ID, "Levée")
	assert.ErrorIs(t, err, domain.ErrCompteArchived)

	_, err = f.svc.CloseCompte(ctx, archived.ID)
	assert.ErrorIs(t, err, domain.ErrCompteArchived)

	titulaire := "Autre"
	_, err = f.svc.UpdateCompte(ctx, archived.ID, UpdateCompteInput{Titulaire: &titulaire})
	assert.ErrorIs(t, err, domain.ErrCompteArchived)

	assert.True(t, f.archives.has(archived.ID))
}

func TestUnblockCompte(t *testing.T) {
	f := newServiceFixture()
	c := activeCompte(domain.CompteEpargne)
	f.comptes.put(c)
	ctx := context.Background()

	_, err := f.svc.UnblockCompte(ctx, c.ID, "Levée")
	assert.ErrorIs(t, err, domain.ErrNotBlocked)

	_, _, err = f.svc.BlockCompte(ctx, c.ID, BlockInput{Motif: "Fraude", Duree: 1, Unite: domain.UnitMois})
	require.NoError(t, err)

	_, err = f.svc.UnblockCompte(ctx, c.ID, "  ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := f.svc.UnblockCompte(ctx, c.ID, "Levée manuelle")
	require.NoError(t, err)
	assert.Equal(t, domain.StatutActif, got.Statut)
	assert.Nil(t, got.MotifBlocage)
	assert.Nil(t, got.DateBlocage)
	assert.Nil(t, got.DateDeblocagePrevue)
	assert.Equal(t, "Levée manuelle", *got.MotifDeblocage)
	assert.Equal(t, testNow, *got.DateDeblocage)
}

func TestCloseCompteTwice(t *testing.T) {
	f := newServiceFixture()
	c := activeCompte(domain.CompteCheque)
	f.comptes.put(c)
	ctx := context.Background()

	closed, err := f.svc.CloseCompte(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatutFerme, closed.Statut)
	require.NotNil(t, closed.DateFermeture)
	firstClosure := *closed.DateFermeture

	f.clock.now = testNow.Add(time.Hour)
	_, err = f.svc.CloseCompte(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)

	stored, _ := f.comptes.get(c.ID)
	assert.Equal(t, firstClosure, *stored.DateFermeture)
}

func TestUpdateCompte(t *testing.T) {
	client := existingClient()
	f := newServiceFixture(client)
	c := activeCompte(domain.CompteEpargne)
	c.ClientID = client.ID
	f.comptes.put(c)
	ctx := context.Background()

	_, err := f.svc.UpdateCompte(ctx, c.ID, UpdateCompteInput{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	stale := 7
	titulaire := "Ndiaye Moussa Junior"
	_, err = f.svc.UpdateCompte(ctx, c.ID, UpdateCompteInput{Titulaire: &titulaire, ExpectedVersion: &stale})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	current := 1
	email := "nouveau@example.sn"
	password := "motdepasse"
	got, err := f.svc.UpdateCompte(ctx, c.ID, UpdateCompteInput{
		Titulaire:       &titulaire,
		ExpectedVersion: &current,
		Client:          &ClientUpdate{Email: &email, Password: &password},
	})
	require.NoError(t, err)
	assert.Equal(t, titulaire, got.Titulaire)
	assert.Equal(t, 2, got.Metadonnees.Version)

	updated := f.clients.clients[client.ID]
	assert.Equal(t, email, updated.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte(password)))

	short := "court"
	_, err = f.svc.UpdateCompte(ctx, c.ID, UpdateCompteInput{Client: &ClientUpdate{Password: &short}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdateCompteLeavesClientUntouchedWhenAccountWriteFails(t *testing.T) {
	client := existingClient()
	ctx := context.Background()
	email := "autre@example.sn"
	titulaire := "Ndiaye Moussa Junior"

	t.Run("version bumped concurrently", func(t *testing.T) {
		f := newServiceFixture(client)
		c := activeCompte(domain.CompteEpargne)
		c.ClientID = client.ID
		f.comptes.put(c)
		f.comptes.beforeMutate = func(c *domain.Compte) { c.Metadonnees.Version++ }

		expected := 1
		_, err := f.svc.UpdateCompte(ctx, c.ID, UpdateCompteInput{
			Titulaire:       &titulaire,
			ExpectedVersion: &expected,
			Client:          &ClientUpdate{Email: &email},
		})
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
		assert.Equal(t, client.Email, f.clients.clients[client.ID].Email)
		got, _ := f.comptes.get(c.ID)
		assert.Equal(t, "Diop Awa", got.Titulaire)
	})

	t.Run("account archived after lookup", func(t *testing.T) {
		f := newServiceFixture(client)
		c := activeCompte(domain.CompteEpargne)
		c.ClientID = client.ID
		f.comptes.put(c)
		f.comptes.detachOnMutate = true

		_, err := f.svc.UpdateCompte(ctx, c.ID, UpdateCompteInput{Client: &ClientUpdate{Email: &email}})
		assert.ErrorIs(t, err, domain.ErrCompteNotFound)
		assert.Equal(t, client.Email, f.clients.clients[client.ID].Email)
	})

	t.Run("client write rejected", func(t *testing.T) {
		f := newServiceFixture(client)
		c := activeCompte(domain.CompteEpargne)
		c.ClientID = client.ID
		f.comptes.put(c)
		f.comptes.clientWriteErr = store.ErrDuplicateClient

		_, err := f.svc.UpdateCompte(ctx, c.ID, UpdateCompteInput{
			Titulaire: &titulaire,
			Client:    &ClientUpdate{Email: &email},
		})
		assert.ErrorIs(t, err, domain.ErrClientExists)
		got, _ := f.comptes.get(c.ID)
		assert.Equal(t, "Diop Awa", got.Titulaire)
		assert.Equal(t, 1, got.Metadonnees.Version)
	})
}

func TestListComptesPagination(t *testing.T) {
	f := newServiceFixture()
	for i := 0; i < 5; i++ {
		f.comptes.put(activeCompte(domain.CompteEpargne))
	}
	closed := activeCompte(domain.CompteEpargne)
	deleted := testNow
	closed.Statut = domain.StatutFerme
	closed.DeletedAt = &deleted
	f.comptes.put(closed)

	res, err := f.svc.ListComptes(context.Background(), ListInput{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Comptes, 2)
	assert.Equal(t, Pagination{CurrentPage: 2, TotalPages: 3, TotalItems: 5, ItemsPerPage: 2, HasNext: true, HasPrevious: true}, res.Pagination)

	_, err = f.svc.ListComptes(context.Background(), ListInput{Type: "courant"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ListClientComptes(context.Background(), uuid.NewString(), ListInput{})
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
}
