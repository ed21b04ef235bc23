package lognotify

import (
	"context"

	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/ports/notify"
)

// Notifier solo loguea. Modo dev: el token de invitación se imprime en nivel
// debug para poder reclamar a mano; en info nunca aparece.
type Notifier struct {
	log logger.Logger
}

func New(log logger.Logger) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{log: log.With(map[string]any{"component": "notify"})}
}

var _ notify.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(ctx context.Context, in notify.Notification) error {
	fields := map[string]any{
		"kind":       string(in.Kind),
		"grant_id":   in.GrantID,
		"patient_id": in.PatientID,
	}
	if in.RecipientEmail != "" {
		fields["recipient_email"] = in.RecipientEmail
	}
	if in.RecipientUserID != "" {
		fields["recipient_user_id"] = in.RecipientUserID
	}
	n.log.Info("consent notification", fields)

	if in.ClaimToken != "" {
		n.log.Debug("claim token issued", map[string]any{"grant_id": in.GrantID, "claim_token": in.ClaimToken})
	}
	return nil
}
