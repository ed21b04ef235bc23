package consent

import (
	"context"
	"time"
)

// MutateFunc recibe una copia privada del grant ya bloqueado. Si devuelve nil el
// repo persiste el grant y las entradas de auditoría nuevas en la misma
// transacción; cualquier error (incluido ErrNoChange) hace rollback.
type MutateFunc func(g *Grant) error

type Repository interface {
	// Create persiste el grant junto con su audit log inicial.
	Create(ctx context.Context, g Grant) error

	// Mutate es el read-modify-write transaccional sobre la fila del grant.
	// Devuelve ErrNotFound si no existe.
	Mutate(ctx context.Context, id string, fn MutateFunc) (Grant, error)
	// MutateByTokenHash igual que Mutate pero localiza el grant por huella de token.
	MutateByTokenHash(ctx context.Context, tokenHash string, fn MutateFunc) (Grant, error)

	GetByID(ctx context.Context, id string) (Grant, error)

	// FindForAccess devuelve los grants (cualquier estado) que vinculan al
	// profesional con el paciente. Lectura sin lock.
	FindForAccess(ctx context.Context, clinicianID, patientID string) ([]Grant, error)

	ListByPatient(ctx context.Context, patientID string) ([]Grant, error)
	ListByClinician(ctx context.Context, clinicianID string) ([]Grant, error)

	// ListExpirable pagina (por id, keyset) los grants pending/active con
	// ExpiresAt <= now. afterID vacío arranca desde el principio.
	ListExpirable(ctx context.Context, now time.Time, afterID string, limit int) ([]Grant, error)
}
