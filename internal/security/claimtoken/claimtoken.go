// Package claimtoken genera y verifica los tokens de un solo uso con los que un
// profesional reclama un consentimiento pendiente.
//
// El token crudo solo existe en la respuesta de creación; en storage se guarda
// el hash (sha256, base64url) que sirve como huella para buscar el grant.
package claimtoken

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// Size es la cantidad de bytes aleatorios por token (256 bits).
const Size = 32

// Token es el par token crudo + huella persistible.
type Token struct {
	Raw  string
	Hash string
}

// Record es lo mínimo que Verify necesita del grant.
type Record interface {
	ClaimTokenHash() string
	ClaimTokenConsumed() bool
}

// Generate crea un token opaco nuevo. Solo falla si crypto/rand falla.
func Generate() (Token, error) {
	b := make([]byte, Size)
	if _, err := rand.Read(b); err != nil {
		return Token{}, fmt.Errorf("claimtoken: read random: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(b)
	return Token{Raw: raw, Hash: Hash(raw)}, nil
}

// Hash devuelve sha256(raw) en base64url sin padding.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verify compara en tiempo constante. Devuelve false (nunca error) si el token
// ya fue consumido, si falta alguno de los lados o si no coincide.
func Verify(rec Record, presented string) bool {
	if rec == nil || rec.ClaimTokenConsumed() {
		return false
	}
	stored := rec.ClaimTokenHash()
	presented = strings.TrimSpace(presented)
	if stored == "" || presented == "" {
		return false
	}
	got := Hash(presented)
	return subtle.ConstantTimeCompare([]byte(got), []byte(stored)) == 1
}
