package app

import (
	"context"
	"time"

	"github.com/thetaf313/ges-comptes/internal/domain"
	"github.com/thetaf313/ges-comptes/internal/store"
)

// AccountStore defines the primary store operations the service and the jobs need.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*domain.Compte, error)
	FindByNumero(ctx context.Context, numero string) (*domain.Compte, error)
	NumeroExists(ctx context.Context, numero string) (bool, error)
	List(ctx context.Context, filter store.ListFilter) ([]domain.Compte, int, error)
	Create(ctx context.Context, compte *domain.Compte, newClient *domain.Client, event *domain.AccountCreatedEvent) error
	Mutate(ctx context.Context, id string, fn func(*domain.Compte) error) (*domain.Compte, error)
	MutateWithClient(ctx context.Context, id string, fn func(*domain.Compte) error, client *domain.Client) (*domain.Compte, error)
	ActivateScheduledBlocks(ctx context.Context, now time.Time) ([]string, error)
	ListExpiredBlockedIDs(ctx context.Context, now time.Time) ([]string, error)
	DetachForArchive(ctx context.Context, id string, now time.Time, archive func(context.Context, domain.CompteSnapshot) error) error
	RestoreSnapshot(ctx context.Context, snapshot domain.CompteSnapshot) error
}

// ArchiveStore defines the archive store operations.
type ArchiveStore interface {
	FindByID(ctx context.Context, id string) (*domain.Compte, error)
	FindByNumero(ctx context.Context, numero string) (*domain.Compte, error)
	NumeroExists(ctx context.Context, numero string) (bool, error)
	SaveSnapshot(ctx context.Context, snapshot domain.CompteSnapshot, archivedAt time.Time) error
	ListExpiredIDs(ctx context.Context, now time.Time) ([]string, error)
	ReleaseExpired(ctx context.Context, id string, now time.Time, restore func(context.Context, domain.CompteSnapshot) error) error
}

// ClientStore defines the client lookups. Client writes go through AccountStore
// so they share the account's transaction.
type ClientStore interface {
	FindByID(ctx context.Context, id string) (*domain.Client, error)
	FindByEmail(ctx context.Context, email string) (*domain.Client, error)
	FindByTelephoneOrCNI(ctx context.Context, telephone, cni string) (*domain.Client, error)
}

// Clock abstracts the current time so sweeps and blocks can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
