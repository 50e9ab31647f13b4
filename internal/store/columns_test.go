package store

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thetaf313/ges-comptes/internal/domain"
)

func TestBuildUpsert_ResolvesLowercaseColumns(t *testing.T) {
	cols := columnMap{
		"id":                  "id",
		"statut":              "statut",
		"motifblocage":        "motifblocage",
		"datedeblocageprevue": "datedeblocageprevue",
	}
	values := []columnValue{
		{"id", "a"},
		{"statut", "bloque"},
		{"motifBlocage", "m"},
		{"dateDeblocagePrevue", time.Now()},
		{"missing_column", 1},
	}

	query, args := buildUpsert("archived_comptes", cols, values, "id", true)

	assert.Len(t, args, 4)
	assert.Contains(t, query, `"motifblocage"`)
	assert.Contains(t, query, `"datedeblocageprevue" = EXCLUDED."datedeblocageprevue"`)
	assert.NotContains(t, query, "missing_column")
	assert.NotContains(t, query, `"id" = EXCLUDED`)
	assert.True(t, strings.HasPrefix(query, `INSERT INTO "archived_comptes"`))
}

func TestBuildUpsert_KeepsCamelCase(t *testing.T) {
	cols := columnMap{"id": "id", "motifblocage": "motifBlocage"}
	query, _ := buildUpsert("archived_comptes", cols, []columnValue{{"id", "a"}, {"motifBlocage", "m"}}, "id", false)

	assert.Contains(t, query, `"motifBlocage"`)
	assert.True(t, strings.HasSuffix(query, "DO NOTHING"))
}

func TestDecodeArchivedCompte_FoldedKeys(t *testing.T) {
	id := uuid.New()
	clientID := uuid.New()
	start := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	raw := map[string]any{
		"id":                  [16]byte(id),
		"client_id":           clientID.String(),
		"numero_compte":       "CPT-ZX81QW09",
		"titulaire":           "Moussa Fall",
		"type":                "epargne",
		"statut":              "bloque",
		"devise":              "XOF",
		"solde_initial":       pgtype.Numeric{Int: big.NewInt(1250050), Exp: -2, Valid: true},
		"metadonnees":         map[string]any{"version": float64(3), "derniere_modification": "2025-02-01 10:00:00"},
		"motifBlocage":        "Épargne",
		"DATEBLOCAGE":         start,
		"datedeblocageprevue": end,
		"archived_at":         end.Add(time.Hour),
		"date_creation":       start.AddDate(0, -1, 0),
		"created_at":          start.AddDate(0, -1, 0),
		"updated_at":          start,
	}

	c, err := decodeArchivedCompte(raw)
	require.NoError(t, err)

	assert.Equal(t, id.String(), c.ID)
	assert.Equal(t, clientID.String(), c.ClientID)
	assert.Equal(t, domain.StatutBloque, c.Statut)
	assert.True(t, c.SoldeInitial.Equal(decimal.RequireFromString("12500.50")))
	assert.Equal(t, 3, c.Metadonnees.Version)
	require.NotNil(t, c.MotifBlocage)
	assert.Equal(t, "Épargne", *c.MotifBlocage)
	require.NotNil(t, c.DateBlocage)
	assert.True(t, c.DateBlocage.Equal(start))
	require.NotNil(t, c.DateDeblocagePrevue)
	assert.True(t, c.DateDeblocagePrevue.Equal(end))
	assert.True(t, c.IsArchived())
	assert.Nil(t, c.DateDeblocage)
}

func TestDecodeArchivedTransaction(t *testing.T) {
	raw := map[string]any{
		"id":               uuid.New().String(),
		"compte_id":        uuid.New().String(),
		"montant":          "1500.00",
		"type":             "depot",
		"statut":           "validee",
		"devise":           "XOF",
		"description":      nil,
		"date_transaction": "2025-01-10T08:00:00Z",
	}

	tx, err := decodeArchivedTransaction(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionDepot, tx.Type)
	assert.True(t, tx.Montant.Equal(decimal.NewFromInt(1500)))
	assert.Nil(t, tx.Description)
	assert.Equal(t, 2025, tx.DateTransaction.Year())
}

func TestDecodeMetadonnees_Tolerant(t *testing.T) {
	meta, err := decodeMetadonnees([]byte(`{"version":"4","derniere_modification":"2025-01-01T00:00:00.000000Z","blocage":{"duree":2,"unite":"mois"}}`))
	require.NoError(t, err)
	assert.Equal(t, 4, meta.Version)
	require.NotNil(t, meta.Blocage)
	assert.Equal(t, domain.UnitMois, meta.Blocage.Unite)

	empty, err := decodeMetadonnees(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Version)
}

func TestNumericToDecimal(t *testing.T) {
	d, err := numericToDecimal(pgtype.Numeric{Int: big.NewInt(-705), Exp: -1, Valid: true})
	require.NoError(t, err)
	assert.Equal(t, "-70.5", d.String())

	d, err = numericToDecimal(pgtype.Numeric{})
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = numericToDecimal(pgtype.Numeric{NaN: true, Valid: true})
	assert.Error(t, err)
}
