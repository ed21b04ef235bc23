package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewAt devuelve un ULID ordenable lexicográficamente con el timestamp dado.
// Dentro del mismo milisegundo la entropía monotónica mantiene el orden de creación.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// New usa el reloj actual.
func New() string {
	return NewAt(time.Now())
}
