package notify

import (
	"context"
	"time"
)

type Kind string

const (
	// KindClaimInvitation lleva el token crudo al profesional (canal fuera de banda).
	KindClaimInvitation Kind = "claim_invitation"
	KindConsentRevoked  Kind = "consent_revoked"
)

// Notification es el payload que el dominio entrega al canal de aviso.
// ClaimToken solo viaja en KindClaimInvitation.
type Notification struct {
	Kind Kind `json:"kind"`

	GrantID   string `json:"grant_id"`
	PatientID string `json:"patient_id"`
	ParentID  string `json:"parent_id"`

	RecipientUserID string `json:"recipient_user_id,omitempty"`
	RecipientEmail  string `json:"recipient_email,omitempty"`

	GrantedByName string     `json:"granted_by_name,omitempty"`
	ClaimToken    string     `json:"claim_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Notifier entrega avisos de consentimiento. Los fallos no afectan la operación
// que los originó: el servicio solo los loguea.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
