/**
 * @description
 * Helpers for the archive store, whose tables may have been created with
 * lower-cased column names (motifblocage) or quoted camelCase names
 * ("motifBlocage"). Writes resolve the real spelling from information_schema;
 * reads fold every key of a row map to lower case before decoding.
 */
package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/thetaf313/ges-comptes/internal/domain"
)

// columnMap maps a lower-cased column name to its spelling in the table.
type columnMap map[string]string

func (m columnMap) has(name string) bool {
	_, ok := m[strings.ToLower(name)]
	return ok
}

// ident returns the quoted identifier for name, falling back to the lower-cased
// name when the table was not introspected.
func (m columnMap) ident(name string) string {
	if actual, ok := m[strings.ToLower(name)]; ok {
		return pgx.Identifier{actual}.Sanitize()
	}
	return pgx.Identifier{strings.ToLower(name)}.Sanitize()
}

type columnValue struct {
	name  string
	value any
}

// buildUpsert renders an INSERT ... ON CONFLICT statement restricted to the
// columns present in cols. When update is false conflicting rows are kept.
func buildUpsert(table string, cols columnMap, values []columnValue, conflict string, update bool) (string, []any) {
	names := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values))

	for _, v := range values {
		if len(cols) > 0 && !cols.has(v.name) {
			continue
		}
		ident := cols.ident(v.name)
		args = append(args, v.value)
		names = append(names, ident)
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
		if !strings.EqualFold(v.name, conflict) {
			sets = append(sets, ident+" = EXCLUDED."+ident)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		cols.ident(conflict),
	)
	if update && len(sets) > 0 {
		query += "DO UPDATE SET " + strings.Join(sets, ", ")
	} else {
		query += "DO NOTHING"
	}
	return query, args
}

func archivedCompteValues(c *domain.Compte, archivedAt time.Time) ([]columnValue, error) {
	meta, err := json.Marshal(c.Metadonnees)
	if err != nil {
		return nil, fmt.Errorf("marshal metadonnees: %w", err)
	}
	return []columnValue{
		{"id", c.ID},
		{"client_id", c.ClientID},
		{"numero_compte", c.NumeroCompte},
		{"titulaire", c.Titulaire},
		{"type", string(c.Type)},
		{"solde_initial", c.SoldeInitial.String()},
		{"devise", c.Devise},
		{"date_creation", c.DateCreation},
		{"statut", string(c.Statut)},
		{"metadonnees", string(meta)},
		{"date_fermeture", c.DateFermeture},
		{"motifBlocage", c.MotifBlocage},
		{"dateBlocage", c.DateBlocage},
		{"dateDeblocagePrevue", c.DateDeblocagePrevue},
		{"motifDeblocage", c.MotifDeblocage},
		{"dateDeblocage", c.DateDeblocage},
		{"archived_at", archivedAt},
		{"created_at", c.CreatedAt},
		{"updated_at", c.UpdatedAt},
	}, nil
}

func archivedTransactionValues(t *domain.Transaction, compteID string, archivedAt time.Time) []columnValue {
	return []columnValue{
		{"id", t.ID},
		{"compte_id", compteID},
		{"montant", t.Montant.String()},
		{"type", string(t.Type)},
		{"statut", string(t.Statut)},
		{"devise", t.Devise},
		{"description", t.Description},
		{"date_transaction", t.DateTransaction},
		{"archived_at", archivedAt},
		{"created_at", t.CreatedAt},
		{"updated_at", t.UpdatedAt},
	}
}

// foldRow lower-cases the keys of a row map.
func foldRow(row map[string]any) map[string]any {
	folded := make(map[string]any, len(row))
	for k, v := range row {
		folded[strings.ToLower(k)] = v
	}
	return folded
}

func decodeArchivedCompte(raw map[string]any) (*domain.Compte, error) {
	row := foldRow(raw)

	var (
		c   = domain.Compte{Archived: true}
		err error
	)
	if c.ID, err = rowUUID(row, "id"); err != nil {
		return nil, err
	}
	if c.ClientID, err = rowUUID(row, "client_id"); err != nil {
		return nil, err
	}
	c.NumeroCompte = rowString(row, "numero_compte")
	c.Titulaire = rowString(row, "titulaire")
	c.Type = domain.CompteType(rowString(row, "type"))
	c.Statut = domain.CompteStatut(rowString(row, "statut"))
	c.Devise = rowString(row, "devise")
	if c.SoldeInitial, err = rowDecimal(row, "solde_initial"); err != nil {
		return nil, err
	}
	if c.Metadonnees, err = rowMetadonnees(row, "metadonnees"); err != nil {
		return nil, err
	}

	c.MotifBlocage = rowStringPtr(row, "motifblocage")
	c.MotifDeblocage = rowStringPtr(row, "motifdeblocage")

	timeFields := []struct {
		key string
		dst **time.Time
	}{
		{"date_fermeture", &c.DateFermeture},
		{"dateblocage", &c.DateBlocage},
		{"datedeblocageprevue", &c.DateDeblocagePrevue},
		{"datedeblocage", &c.DateDeblocage},
		{"archived_at", &c.ArchivedAt},
	}
	for _, f := range timeFields {
		if *f.dst, err = rowTimePtr(row, f.key); err != nil {
			return nil, err
		}
	}

	for key, dst := range map[string]*time.Time{
		"date_creation": &c.DateCreation,
		"created_at":    &c.CreatedAt,
		"updated_at":    &c.UpdatedAt,
	} {
		t, err := rowTimePtr(row, key)
		if err != nil {
			return nil, err
		}
		if t != nil {
			*dst = *t
		}
	}
	return &c, nil
}

func decodeArchivedTransaction(raw map[string]any) (domain.Transaction, error) {
	row := foldRow(raw)

	var (
		t   domain.Transaction
		err error
	)
	if t.ID, err = rowUUID(row, "id"); err != nil {
		return t, err
	}
	if t.CompteID, err = rowUUID(row, "compte_id"); err != nil {
		return t, err
	}
	if t.Montant, err = rowDecimal(row, "montant"); err != nil {
		return t, err
	}
	t.Type = domain.TransactionType(rowString(row, "type"))
	t.Statut = domain.TransactionStatut(rowString(row, "statut"))
	t.Devise = rowString(row, "devise")
	t.Description = rowStringPtr(row, "description")

	for key, dst := range map[string]*time.Time{
		"date_transaction": &t.DateTransaction,
		"created_at":       &t.CreatedAt,
		"updated_at":       &t.UpdatedAt,
	} {
		v, err := rowTimePtr(row, key)
		if err != nil {
			return t, err
		}
		if v != nil {
			*dst = *v
		}
	}
	if t.ArchivedAt, err = rowTimePtr(row, "archived_at"); err != nil {
		return t, err
	}
	return t, nil
}

func rowUUID(row map[string]any, key string) (string, error) {
	switch v := row[key].(type) {
	case [16]byte:
		return uuid.UUID(v).String(), nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("column %s is null", key)
	default:
		return "", fmt.Errorf("column %s: unsupported uuid type %T", key, v)
	}
}

func rowString(row map[string]any, key string) string {
	if s := rowStringPtr(row, key); s != nil {
		return *s
	}
	return ""
}

func rowStringPtr(row map[string]any, key string) *string {
	switch v := row[key].(type) {
	case string:
		return &v
	case []byte:
		s := string(v)
		return &s
	case nil:
		return nil
	default:
		s := fmt.Sprint(v)
		return &s
	}
}

func parseTime(s string) (time.Time, error) {
	return domain.ParseDate(s)
}

func rowTimePtr(row map[string]any, key string) (*time.Time, error) {
	switch v := row[key].(type) {
	case time.Time:
		return &v, nil
	case string:
		t, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", key, err)
		}
		return &t, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("column %s: unsupported time type %T", key, v)
	}
}

func rowDecimal(row map[string]any, key string) (decimal.Decimal, error) {
	switch v := row[key].(type) {
	case pgtype.Numeric:
		return numericToDecimal(v)
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case nil:
		return decimal.Zero, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("column %s: unsupported numeric type %T", key, v)
	}
}

// rowMetadonnees accepts json/jsonb (decoded to a map by pgx) as well as text.
func rowMetadonnees(row map[string]any, key string) (domain.Metadonnees, error) {
	var blob []byte
	switch v := row[key].(type) {
	case nil:
		return domain.Metadonnees{}, nil
	case string:
		blob = []byte(v)
	case []byte:
		blob = v
	default:
		var err error
		if blob, err = json.Marshal(v); err != nil {
			return domain.Metadonnees{}, fmt.Errorf("column %s: %w", key, err)
		}
	}
	return decodeMetadonnees(blob)
}

// decodeMetadonnees tolerates numeric strings for the version and non-RFC3339
// timestamps written by older producers.
func decodeMetadonnees(blob []byte) (domain.Metadonnees, error) {
	var loose struct {
		Version              json.Number         `json:"version"`
		DerniereModification string              `json:"derniere_modification"`
		Blocage              *domain.BlocageInfo `json:"blocage"`
	}
	if len(blob) == 0 || string(blob) == "null" {
		return domain.Metadonnees{}, nil
	}
	if err := json.Unmarshal(blob, &loose); err != nil {
		return domain.Metadonnees{}, fmt.Errorf("decode metadonnees: %w", err)
	}

	meta := domain.Metadonnees{Blocage: loose.Blocage}
	if loose.Version != "" {
		v, err := strconv.ParseFloat(loose.Version.String(), 64)
		if err != nil {
			return domain.Metadonnees{}, fmt.Errorf("decode metadonnees version: %w", err)
		}
		meta.Version = int(v)
	}
	if loose.DerniereModification != "" {
		t, err := parseTime(loose.DerniereModification)
		if err != nil {
			return domain.Metadonnees{}, fmt.Errorf("decode metadonnees: %w", err)
		}
		meta.DerniereModification = t
	}
	return meta, nil
}

func numericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, fmt.Errorf("numeric value is not finite")
	}
	if n.Int == nil {
		return decimal.NewFromBigInt(new(big.Int), n.Exp), nil
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}
