package auth

// Claims representa la información extraída del token.
type Claims struct {
	UserID string
	Email  string

	// Service marca un principal interno (otro subsistema, no una persona).
	// Puede consultar accesos en nombre de cualquier profesional.
	Service bool
}
