package consent

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"clinical-consent/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes monta las rutas de consentimientos. claimMW se aplica solo
// a /consents/claim (rate limit sobre tokens).
func RegisterRoutes(r chi.Router, svc *Service, claimMW ...func(http.Handler) http.Handler) {
	r.Route("/consents", func(cr chi.Router) {
		cr.Post("/", createConsentHandler(svc))
		cr.With(claimMW...).Post("/claim", claimConsentHandler(svc))

		cr.Route("/{grantID}", func(gr chi.Router) {
			gr.Get("/", getConsentHandler(svc))
			gr.Get("/audit", getConsentAuditHandler(svc))
			gr.Patch("/permissions", updatePermissionsHandler(svc))
			gr.Post("/revoke", revokeConsentHandler(svc))
		})
	})

	r.Get("/patients/{patientID}/consents", listPatientConsentsHandler(svc))
	r.Get("/me/consents", listMyConsentsHandler(svc))
	r.Get("/access/check", checkAccessHandler(svc))
}

type createConsentRequest struct {
	PatientID      string      `json:"patient_id"`
	ClinicianEmail string      `json:"clinician_email"`
	ClinicianID    string      `json:"clinician_id,omitempty"`
	Permissions    Permissions `json:"permissions"`
	AccessLevel    AccessLevel `json:"access_level,omitempty"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	GrantedByName  string      `json:"granted_by_name,omitempty"`
}

type claimConsentRequest struct {
	Token string `json:"token"`
}

type updatePermissionsRequest struct {
	Permissions *Permissions `json:"permissions,omitempty"`
	AccessLevel *AccessLevel `json:"access_level,omitempty"`
}

type revokeConsentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type auditEntryResponse struct {
	ID        string            `json:"id"`
	Seq       int64             `json:"seq"`
	Action    AuditAction       `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id"`
	Details   map[string]string `json:"details,omitempty"`
}

type consentResponse struct {
	ID             string      `json:"id"`
	ParentID       string      `json:"parent_id"`
	PatientID      string      `json:"patient_id"`
	ClinicianID    string      `json:"clinician_id,omitempty"`
	ClinicianEmail string      `json:"clinician_email,omitempty"`
	Permissions    Permissions `json:"permissions"`
	AccessLevel    AccessLevel `json:"access_level"`
	Status         Status      `json:"status"`
	GrantedAt      time.Time   `json:"granted_at"`
	ActivatedAt    *time.Time  `json:"activated_at,omitempty"`
	RevokedAt      *time.Time  `json:"revoked_at,omitempty"`
	ExpiredAt      *time.Time  `json:"expired_at,omitempty"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
	GrantedByName  string      `json:"granted_by_name,omitempty"`
	Notes          string      `json:"notes,omitempty"`

	// ClaimToken solo se devuelve al crear.
	ClaimToken string `json:"claim_token,omitempty"`
}

type consentDetailsResponse struct {
	consentResponse
	EffectiveStatus Status              `json:"effective_status"`
	AccessibleNow   bool                `json:"accessible_now"`
	LastAction      *auditEntryResponse `json:"last_action,omitempty"`
}

type accessCheckResponse struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
	GrantID string     `json:"grant_id,omitempty"`
}

// createConsentHandler godoc
// @Summary Otorgar consentimiento
// @Description El padre/tutor autenticado otorga acceso a un profesional sobre un paciente. Devuelve el grant en estado `pending` y el `claim_token` (única vez que se expone).
// @Tags consents
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body createConsentRequest true "Datos del consentimiento; expires_at en RFC3339"
// @Success 201 {object} consentResponse
// @Failure 400 {string} string "invalid json / validación"
// @Failure 401 {string} string "unauthorized"
// @Router /consents [post]
func createConsentHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req createConsentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		g, err := svc.Grant(r.Context(), GrantInput{
			ParentID:       claims.UserID,
			PatientID:      req.PatientID,
			ClinicianEmail: req.ClinicianEmail,
			ClinicianID:    req.ClinicianID,
			Permissions:    req.Permissions,
			AccessLevel:    req.AccessLevel,
			ExpiresAt:      req.ExpiresAt,
			Notes:          req.Notes,
			GrantedByName:  req.GrantedByName,
			GrantedByEmail: claims.Email,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		resp := toConsentResponse(g)
		resp.ClaimToken = g.Token
		writeJSON(w, http.StatusCreated, resp)
	}
}

// claimConsentHandler godoc
// @Summary Reclamar consentimiento
// @Description El profesional autenticado canjea el token de invitación y el grant pasa a `active`. El token es de un solo uso.
// @Tags consents
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body claimConsentRequest true "Token de invitación"
// @Success 200 {object} consentResponse
// @Failure 400 {string} string "invalid json / token requerido"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "invalid state"
// @Failure 410 {string} string "expired"
// @Failure 429 {string} string "too many requests"
// @Router /consents/claim [post]
func claimConsentHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req claimConsentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		g, err := svc.Claim(r.Context(), ClaimInput{
			Token:       req.Token,
			ClinicianID: claims.UserID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsentResponse(g))
	}
}

// getConsentHandler godoc
// @Summary Ver consentimiento
// @Tags consents
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param grantID path string true "ID del grant"
// @Success 200 {object} consentDetailsResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /consents/{grantID} [get]
func getConsentHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		g, err := svc.GetGrant(r.Context(), chi.URLParam(r, "grantID"), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDetailsResponse(svc.withDetails([]Grant{g})[0]))
	}
}

// getConsentAuditHandler godoc
// @Summary Historial de auditoría del consentimiento
// @Description Entradas en orden de inserción (seq ascendente).
// @Tags consents
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param grantID path string true "ID del grant"
// @Success 200 {array} auditEntryResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /consents/{grantID}/audit [get]
func getConsentAuditHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		g, err := svc.GetGrant(r.Context(), chi.URLParam(r, "grantID"), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}

		entries := g.Audit()
		out := make([]auditEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, toAuditResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// updatePermissionsHandler godoc
// @Summary Cambiar permisos del consentimiento
// @Description Solo el padre que otorgó el grant, y solo mientras está `active`. Un par {permissions, access_level} contradictorio se rechaza.
// @Tags consents
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param grantID path string true "ID del grant"
// @Param payload body updatePermissionsRequest true "Nuevo scope"
// @Success 200 {object} consentResponse
// @Failure 400 {string} string "invalid json / validación"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "invalid state"
// @Failure 410 {string} string "expired"
// @Router /consents/{grantID}/permissions [patch]
func updatePermissionsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req updatePermissionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		g, err := svc.UpdateConsentPermissions(r.Context(), chi.URLParam(r, "grantID"), UpdatePermissionsInput{
			CallerID:    claims.UserID,
			Permissions: req.Permissions,
			AccessLevel: req.AccessLevel,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsentResponse(g))
	}
}

// revokeConsentHandler godoc
// @Summary Revocar consentimiento
// @Description Solo el padre que otorgó el grant. Válido desde `pending` o `active`; el acceso se pierde de inmediato.
// @Tags consents
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param grantID path string true "ID del grant"
// @Param payload body revokeConsentRequest false "Motivo opcional"
// @Success 200 {object} consentResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "invalid state"
// @Failure 410 {string} string "expired"
// @Router /consents/{grantID}/revoke [post]
func revokeConsentHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// Body opcional.
		var req revokeConsentRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}

		g, err := svc.Revoke(r.Context(), chi.URLParam(r, "grantID"), RevokeInput{
			CallerID: claims.UserID,
			Reason:   req.Reason,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsentResponse(g))
	}
}

// listPatientConsentsHandler godoc
// @Summary Consentimientos de un paciente
// @Description Dashboard del padre: grants que otorgó sobre el paciente, con estado efectivo (expiración calculada al vuelo).
// @Tags consents
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param patientID path string true "ID del paciente"
// @Param status query string false "Lista CSV de estados efectivos (ej: active,pending)"
// @Success 200 {array} consentDetailsResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "internal error"
// @Router /patients/{patientID}/consents [get]
func listPatientConsentsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListGrantsForPatient(r.Context(), chi.URLParam(r, "patientID"))
		if err != nil {
			writeError(w, err)
			return
		}

		allowed := parseStatusFilter(r.URL.Query().Get("status"))
		out := make([]consentDetailsResponse, 0, len(items))
		for _, d := range items {
			// Cada padre ve solo lo que él otorgó.
			if d.ParentID != claims.UserID {
				continue
			}
			if len(allowed) > 0 {
				if _, ok := allowed[d.EffectiveStatus]; !ok {
					continue
				}
			}
			out = append(out, toDetailsResponse(d))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// listMyConsentsHandler godoc
// @Summary Mis consentimientos (profesional)
// @Tags consents
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param status query string false "Lista CSV de estados efectivos (ej: active)"
// @Success 200 {array} consentDetailsResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "internal error"
// @Router /me/consents [get]
func listMyConsentsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListGrantsForClinician(r.Context(), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}

		allowed := parseStatusFilter(r.URL.Query().Get("status"))
		out := make([]consentDetailsResponse, 0, len(items))
		for _, d := range items {
			if len(allowed) > 0 {
				if _, ok := allowed[d.EffectiveStatus]; !ok {
					continue
				}
			}
			out = append(out, toDetailsResponse(d))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// checkAccessHandler godoc
// @Summary Chequeo de acceso
// @Description Decide si el profesional puede ejercer `permission` sobre el paciente. Una denegación es 200 con `allowed=false` y el motivo. `clinician_id` por defecto es el usuario autenticado; otro valor solo se acepta de un principal de servicio.
// @Tags access
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param patient_id query string true "ID del paciente"
// @Param permission query string true "view | edit | assessments | reports | iep | edit_any"
// @Param clinician_id query string false "ID del profesional (default: usuario autenticado)"
// @Success 200 {object} accessCheckResponse
// @Failure 400 {string} string "parámetros inválidos"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "clinician_id ajeno sin principal de servicio"
// @Failure 500 {string} string "internal error"
// @Router /access/check [get]
func checkAccessHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		clinicianID := strings.TrimSpace(q.Get("clinician_id"))
		if clinicianID == "" {
			clinicianID = claims.UserID
		}
		// Consultar por otro profesional queda para principales de servicio.
		if clinicianID != claims.UserID && !claims.Service {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		d, err := svc.CheckAccess(r.Context(), clinicianID, q.Get("patient_id"), Permission(q.Get("permission")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accessCheckResponse{
			Allowed: d.Allowed,
			Reason:  d.Reason,
			GrantID: d.GrantID,
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrExpired):
		http.Error(w, "expired", http.StatusGone)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toConsentResponse(g Grant) consentResponse {
	return consentResponse{
		ID:             g.ID,
		ParentID:       g.ParentID,
		PatientID:      g.PatientID,
		ClinicianID:    g.ClinicianID,
		ClinicianEmail: g.ClinicianEmail,
		Permissions:    g.Permissions,
		AccessLevel:    g.AccessLevel,
		Status:         g.Status,
		GrantedAt:      g.GrantedAt,
		ActivatedAt:    g.ActivatedAt,
		RevokedAt:      g.RevokedAt,
		ExpiredAt:      g.ExpiredAt,
		ExpiresAt:      g.ExpiresAt,
		UpdatedAt:      g.UpdatedAt,
		GrantedByName:  g.GrantedByName,
		Notes:          g.Notes,
	}
}

func toDetailsResponse(d GrantWithDetails) consentDetailsResponse {
	out := consentDetailsResponse{
		consentResponse: toConsentResponse(d.Grant),
		EffectiveStatus: d.EffectiveStatus,
		AccessibleNow:   d.AccessibleNow,
	}
	if d.LastAction != nil {
		la := toAuditResponse(*d.LastAction)
		out.LastAction = &la
	}
	return out
}

func toAuditResponse(e AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:        e.ID,
		Seq:       e.Seq,
		Action:    e.Action,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		Details:   e.Details,
	}
}

func parseStatusFilter(raw string) map[Status]struct{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[Status]struct{}{}
	for _, p := range strings.Split(raw, ",") {
		s := Status(strings.ToLower(strings.TrimSpace(p)))
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
