package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thetaf313/ges-comptes/internal/domain"
	"github.com/thetaf313/ges-comptes/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

// memAccounts mimics CompteRepository over a map.
type memAccounts struct {
	mu           sync.Mutex
	comptes      map[string]domain.Compte
	transactions map[string][]domain.Transaction
	numeros      map[string]bool
	created      []domain.AccountCreatedEvent
	newClients   []domain.Client
	createErrs   []error
	listErr      error
	findErr      error
	restoreErr   map[string]error
	// clients receives client rows written alongside an account update.
	clients        *memClients
	clientWriteErr error
	// beforeMutate runs on the locked row before fn, like a concurrent writer
	// that committed first.
	beforeMutate func(*domain.Compte)
	// detachOnMutate drops the row as the archival sweep would between a
	// lookup and the locked write.
	detachOnMutate bool
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		comptes:      map[string]domain.Compte{},
		transactions: map[string][]domain.Transaction{},
		numeros:      map[string]bool{},
		restoreErr:   map[string]error{},
	}
}

func (m *memAccounts) put(c domain.Compte, txs ...domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comptes[c.ID] = c
	m.transactions[c.ID] = txs
}

func (m *memAccounts) get(id string) (domain.Compte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comptes[id]
	return c, ok
}

func (m *memAccounts) FindByID(ctx context.Context, id string) (*domain.Compte, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comptes[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	c.Solde = domain.CalculerSolde(c.SoldeInitial, m.transactions[id])
	return &c, nil
}

func (m *memAccounts) FindByNumero(ctx context.Context, numero string) (*domain.Compte, error) {
	m.mu.Lock()
	var id string
	for _, c := range m.comptes {
		if c.NumeroCompte == numero {
			id = c.ID
		}
	}
	m.mu.Unlock()
	if id == "" {
		return nil, store.ErrAccountNotFound
	}
	return m.FindByID(ctx, id)
}

func (m *memAccounts) NumeroExists(ctx context.Context, numero string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numeros[numero] {
		return true, nil
	}
	for _, c := range m.comptes {
		if c.NumeroCompte == numero {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAccounts) List(ctx context.Context, filter store.ListFilter) ([]domain.Compte, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Compte
	for _, c := range m.comptes {
		if c.DeletedAt != nil {
			continue
		}
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if filter.ClientID != "" && c.ClientID != filter.ClientID {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(c.Titulaire+" "+c.NumeroCompte), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumeroCompte < out[j].NumeroCompte })
	total := len(out)
	if filter.Offset >= total {
		return []domain.Compte{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return out[filter.Offset:end], total, nil
}

func (m *memAccounts) Create(ctx context.Context, compte *domain.Compte, newClient *domain.Client, event *domain.AccountCreatedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	m.comptes[compte.ID] = *compte
	if newClient != nil {
		m.newClients = append(m.newClients, *newClient)
	}
	m.created = append(m.created, *event)
	return nil
}

func (m *memAccounts) Mutate(ctx context.Context, id string, fn func(*domain.Compte) error) (*domain.Compte, error) {
	return m.MutateWithClient(ctx, id, fn, nil)
}

func (m *memAccounts) MutateWithClient(ctx context.Context, id string, fn func(*domain.Compte) error, client *domain.Client) (*domain.Compte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detachOnMutate {
		delete(m.comptes, id)
	}
	c, ok := m.comptes[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if m.beforeMutate != nil {
		m.beforeMutate(&c)
		m.comptes[id] = c
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	if client != nil {
		if m.clientWriteErr != nil {
			return nil, m.clientWriteErr
		}
		if _, ok := m.clients.clients[client.ID]; !ok {
			return nil, store.ErrClientNotFound
		}
		m.clients.clients[client.ID] = *client
	}
	m.comptes[id] = c
	c.Solde = domain.CalculerSolde(c.SoldeInitial, m.transactions[id])
	return &c, nil
}

func (m *memAccounts) ActivateScheduledBlocks(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, c := range m.comptes {
		if c.ActivateBlock(now) {
			m.comptes[id] = c
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memAccounts) ListExpiredBlockedIDs(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, c := range m.comptes {
		if c.DeletedAt == nil && c.IsBlockExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memAccounts) DetachForArchive(ctx context.Context, id string, now time.Time, archive func(context.Context, domain.CompteSnapshot) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comptes[id]
	if !ok || c.DeletedAt != nil || !c.IsBlockExpired(now) {
		return store.ErrNotEligible
	}
	snapshot := domain.CompteSnapshot{Compte: c, Transactions: append([]domain.Transaction(nil), m.transactions[id]...)}
	if err := archive(ctx, snapshot); err != nil {
		return err
	}
	delete(m.comptes, id)
	delete(m.transactions, id)
	return nil
}

func (m *memAccounts) RestoreSnapshot(ctx context.Context, snapshot domain.CompteSnapshot) error {
	if err := m.restoreErr[snapshot.Compte.ID]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comptes[snapshot.Compte.ID] = snapshot.Compte
	m.transactions[snapshot.Compte.ID] = snapshot.Transactions
	return nil
}

// memArchive mimics ArchiveRepository.
type memArchive struct {
	mu        sync.Mutex
	snapshots map[string]domain.CompteSnapshot
	saveErr   map[string]error
	findErr   error
	onSave    func(id string)
}

func newMemArchive() *memArchive {
	return &memArchive{snapshots: map[string]domain.CompteSnapshot{}, saveErr: map[string]error{}}
}

func (a *memArchive) has(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.snapshots[id]
	return ok
}

func (a *memArchive) FindByID(ctx context.Context, id string) (*domain.Compte, error) {
	if a.findErr != nil {
		return nil, a.findErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.snapshots[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	c := snap.Compte
	c.Solde = domain.CalculerSolde(c.SoldeInitial, snap.Transactions)
	return &c, nil
}

func (a *memArchive) FindByNumero(ctx context.Context, numero string) (*domain.Compte, error) {
	if a.findErr != nil {
		return nil, a.findErr
	}
	a.mu.Lock()
	var id string
	for _, snap := range a.snapshots {
		if snap.Compte.NumeroCompte == numero {
			id = snap.Compte.ID
		}
	}
	a.mu.Unlock()
	if id == "" {
		return nil, store.ErrAccountNotFound
	}
	return a.FindByID(ctx, id)
}

func (a *memArchive) NumeroExists(ctx context.Context, numero string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, snap := range a.snapshots {
		if snap.Compte.NumeroCompte == numero {
			return true, nil
		}
	}
	return false, nil
}

func (a *memArchive) SaveSnapshot(ctx context.Context, snapshot domain.CompteSnapshot, archivedAt time.Time) error {
	if err := a.saveErr[snapshot.Compte.ID]; err != nil {
		return err
	}
	a.mu.Lock()
	snapshot.Compte.ArchivedAt = &archivedAt
	snapshot.Compte.Archived = true
	a.snapshots[snapshot.Compte.ID] = snapshot
	a.mu.Unlock()
	if a.onSave != nil {
		a.onSave(snapshot.Compte.ID)
	}
	return nil
}

func (a *memArchive) ListExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id, snap := range a.snapshots {
		if snap.Compte.DateDeblocagePrevue != nil && !snap.Compte.DateDeblocagePrevue.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *memArchive) ReleaseExpired(ctx context.Context, id string, now time.Time, restore func(context.Context, domain.CompteSnapshot) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.snapshots[id]
	if !ok || snap.Compte.DateDeblocagePrevue == nil || snap.Compte.DateDeblocagePrevue.After(now) {
		return store.ErrNotEligible
	}
	if err := restore(ctx, snap); err != nil {
		return err
	}
	delete(a.snapshots, id)
	return nil
}

// memClients mimics ClientRepository.
type memClients struct {
	clients map[string]domain.Client
}

func newMemClients(clients ...domain.Client) *memClients {
	m := &memClients{clients: map[string]domain.Client{}}
	for _, c := range clients {
		m.clients[c.ID] = c
	}
	return m
}

func (m *memClients) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, store.ErrClientNotFound
	}
	return &c, nil
}

func (m *memClients) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	for _, c := range m.clients {
		if strings.EqualFold(c.Email, email) {
			return &c, nil
		}
	}
	return nil, store.ErrClientNotFound
}

func (m *memClients) FindByTelephoneOrCNI(ctx context.Context, telephone, cni string) (*domain.Client, error) {
	for _, c := range m.clients {
		if (telephone != "" && c.Telephone == telephone) || (cni != "" && c.CNI == cni) {
			return &c, nil
		}
	}
	return nil, store.ErrClientNotFound
}

var errBoom = errors.New("boom")
