package router_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinical-consent/internal/platform/metrics"
	"clinical-consent/internal/platform/ratelimit"
	"clinical-consent/internal/router"
)

func TestHTTP_EndToEnd_ConsentLifecycle(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil}))
	defer ts.Close()

	parentID := "parent-1"
	clinicianID := "clinician-1"
	patientID := "patient-1"

	// 1) Padre otorga view + assessments
	grantID, token := createConsent(t, ts.URL, parentID, map[string]any{
		"patient_id":      patientID,
		"clinician_email": "dr@clinic.test",
		"permissions":     map[string]bool{"view": true, "assessments": true},
		"expires_at":      time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})

	// 2) Pendiente y sin vincular: el profesional todavía no tiene grant
	assertCheck(t, ts.URL, clinicianID, patientID, "view", false, "no_grant")

	// 3) Profesional reclama
	{
		st, body := doReq(t, ts.URL, "POST", "/consents/claim", clinicianID, map[string]any{"token": token})
		if st != http.StatusOK {
			t.Fatalf("expected 200 claim, got %d body=%s", st, string(body))
		}
		var resp struct {
			Status      string `json:"status"`
			ClinicianID string `json:"clinician_id"`
			ClaimToken  string `json:"claim_token"`
		}
		_ = json.Unmarshal(body, &resp)
		if resp.Status != "active" || resp.ClinicianID != clinicianID {
			t.Fatalf("unexpected claim response: %s", string(body))
		}
		if resp.ClaimToken != "" {
			t.Fatalf("claim token must only be returned on create")
		}
	}

	// 4) El token es de un solo uso
	{
		st, body := doReq(t, ts.URL, "POST", "/consents/claim", "clinician-2", map[string]any{"token": token})
		if st != http.StatusConflict {
			t.Fatalf("expected 409 on replayed token, got %d body=%s", st, string(body))
		}
	}

	// 5) Acceso según scope
	assertCheck(t, ts.URL, clinicianID, patientID, "view", true, "")
	assertCheck(t, ts.URL, clinicianID, patientID, "assessments", true, "")
	assertCheck(t, ts.URL, clinicianID, patientID, "edit_any", false, "scope_missing")

	// 6) Un tercero no ve el grant
	{
		st, _ := doReq(t, ts.URL, "GET", "/consents/"+grantID, "stranger", nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 for stranger, got %d", st)
		}
	}

	// 7) El profesional no puede cambiar permisos
	{
		st, _ := doReq(t, ts.URL, "PATCH", "/consents/"+grantID+"/permissions", clinicianID, map[string]any{
			"permissions": map[string]bool{"view": true, "edit": true},
		})
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 update by clinician, got %d", st)
		}
	}

	// 8) Par contradictorio => 400
	{
		st, _ := doReq(t, ts.URL, "PATCH", "/consents/"+grantID+"/permissions", parentID, map[string]any{
			"permissions":  map[string]bool{"view": true},
			"access_level": "full_access",
		})
		if st != http.StatusBadRequest {
			t.Fatalf("expected 400 contradictory scope, got %d", st)
		}
	}

	// 9) Padre amplía a full_access
	{
		st, body := doReq(t, ts.URL, "PATCH", "/consents/"+grantID+"/permissions", parentID, map[string]any{
			"permissions": map[string]bool{
				"view": true, "edit": true, "assessments": true, "reports": true, "iep": true,
			},
			"access_level": "full_access",
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 update, got %d body=%s", st, string(body))
		}
	}
	assertCheck(t, ts.URL, clinicianID, patientID, "edit_any", true, "")

	// 10) Padre revoca
	{
		st, body := doReq(t, ts.URL, "POST", "/consents/"+grantID+"/revoke", parentID, map[string]any{"reason": "changed provider"})
		if st != http.StatusOK {
			t.Fatalf("expected 200 revoke, got %d body=%s", st, string(body))
		}
	}
	assertCheck(t, ts.URL, clinicianID, patientID, "view", false, "revoked")

	// 11) Revocar dos veces => 409
	{
		st, _ := doReq(t, ts.URL, "POST", "/consents/"+grantID+"/revoke", parentID, nil)
		if st != http.StatusConflict {
			t.Fatalf("expected 409 second revoke, got %d", st)
		}
	}

	// 12) Audit log con las cuatro mutaciones en orden
	{
		st, body := doReq(t, ts.URL, "GET", "/consents/"+grantID+"/audit", parentID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 audit, got %d body=%s", st, string(body))
		}
		var entries []struct {
			Action string `json:"action"`
			UserID string `json:"user_id"`
		}
		_ = json.Unmarshal(body, &entries)
		want := []string{"granted", "claimed", "permissions_updated", "revoked"}
		if len(entries) != len(want) {
			t.Fatalf("expected %d audit entries, got %d body=%s", len(want), len(entries), string(body))
		}
		for i, e := range entries {
			if e.Action != want[i] {
				t.Fatalf("audit[%d]: expected %s, got %s", i, want[i], e.Action)
			}
		}
		if entries[1].UserID != clinicianID {
			t.Fatalf("claimed entry must carry the clinician id, got %s", entries[1].UserID)
		}
	}

	// 13) Listados
	{
		st, body := doReq(t, ts.URL, "GET", "/me/consents", clinicianID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 my consents, got %d", st)
		}
		var items []struct {
			ID              string `json:"id"`
			EffectiveStatus string `json:"effective_status"`
			AccessibleNow   bool   `json:"accessible_now"`
		}
		_ = json.Unmarshal(body, &items)
		if len(items) != 1 || items[0].ID != grantID || items[0].EffectiveStatus != "revoked" || items[0].AccessibleNow {
			t.Fatalf("unexpected my consents: %s", string(body))
		}
	}
	{
		st, body := doReq(t, ts.URL, "GET", "/patients/"+patientID+"/consents?status=active", parentID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 patient consents, got %d", st)
		}
		if strings.TrimSpace(string(body)) != "[]" {
			t.Fatalf("expected no active consents, got %s", string(body))
		}
	}
}

func TestHTTP_AccessCheck_Validation(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{}))
	defer ts.Close()

	st, _ := doReq(t, ts.URL, "GET", "/access/check?patient_id=p-1&permission=delete", "clinician-1", nil)
	if st != http.StatusBadRequest {
		t.Fatalf("expected 400 unknown permission, got %d", st)
	}

	st, _ = doReq(t, ts.URL, "GET", "/access/check?patient_id=p-1&permission=view", "", nil)
	if st != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", st)
	}

	assertCheck(t, ts.URL, "clinician-1", "p-1", "view", false, "no_grant")
}

func TestHTTP_AccessCheck_OtherClinicianOnlyForServices(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{}))
	defer ts.Close()

	grantID, token := createConsent(t, ts.URL, "parent-1", map[string]any{
		"patient_id":      "patient-1",
		"clinician_email": "dr@clinic.test",
		"permissions":     map[string]bool{"view": true},
	})
	if st, body := doReq(t, ts.URL, "POST", "/consents/claim", "dr-1", map[string]any{"token": token}); st != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d body=%s", st, string(body))
	}

	path := "/access/check?patient_id=patient-1&permission=view&clinician_id=dr-1"

	// Un tercero no puede preguntar por otro profesional
	st, body := doReq(t, ts.URL, "GET", path, "stranger", nil)
	if st != http.StatusForbidden {
		t.Fatalf("stranger: expected 403, got %d body=%s", st, string(body))
	}
	if strings.Contains(string(body), grantID) {
		t.Fatalf("stranger must not learn the grant id, body=%s", string(body))
	}

	// El propio profesional puede nombrarse explícitamente
	st, body = doReq(t, ts.URL, "GET", path, "dr-1", nil)
	if st != http.StatusOK || !strings.Contains(string(body), `"allowed":true`) {
		t.Fatalf("self: expected 200 allowed, got %d body=%s", st, string(body))
	}

	// Un principal de servicio sí
	req, err := http.NewRequest("GET", ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Debug-User-ID", "records-service")
	req.Header.Set("X-Debug-Service", "true")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), grantID) {
		t.Fatalf("service: expected 200 with grant, got %d body=%s", resp.StatusCode, string(b))
	}
}

func TestHTTP_CreateConsent_RejectsContradictoryScope(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{}))
	defer ts.Close()

	st, _ := doReq(t, ts.URL, "POST", "/consents", "parent-1", map[string]any{
		"patient_id":      "patient-1",
		"clinician_email": "dr@clinic.test",
		"permissions":     map[string]bool{"view": true, "edit": true},
		"access_level":    "view",
	})
	if st != http.StatusBadRequest {
		t.Fatalf("expected 400 for contradictory scope, got %d", st)
	}
}

func TestHTTP_Claim_RateLimited(t *testing.T) {
	m := metrics.New()
	ts := httptest.NewServer(router.NewRouter(router.Options{
		Metrics: m,
		Limiter: ratelimit.NewMemoryLimiter(2, time.Minute),
	}))
	defer ts.Close()

	for i := 0; i < 2; i++ {
		st, _ := doReq(t, ts.URL, "POST", "/consents/claim", "clinician-1", map[string]any{"token": "guess"})
		if st != http.StatusNotFound {
			t.Fatalf("attempt %d: expected 404 unknown token, got %d", i, st)
		}
	}
	st, _ := doReq(t, ts.URL, "POST", "/consents/claim", "clinician-1", map[string]any{"token": "guess"})
	if st != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", st)
	}

	// Otras rutas no comparten el límite
	st, _ = doReq(t, ts.URL, "GET", "/me/consents", "clinician-1", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 on non-limited route, got %d", st)
	}

	st, body := doReq(t, ts.URL, "GET", "/metrics", "", nil)
	if st != http.StatusOK || !strings.Contains(string(body), "consent_rate_limited_total") {
		t.Fatalf("expected rate limit metric exposed, got %d", st)
	}
}

func TestHTTP_Health(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{}))
	defer ts.Close()

	st, body := doReq(t, ts.URL, "GET", "/health", "", nil)
	if st != http.StatusOK || string(body) != "ok" {
		t.Fatalf("expected 200 ok, got %d %s", st, string(body))
	}
}

func createConsent(t *testing.T, baseURL, parentID string, payload map[string]any) (string, string) {
	t.Helper()

	st, body := doReq(t, baseURL, "POST", "/consents", parentID, payload)
	if st != http.StatusCreated {
		t.Fatalf("expected 201 create consent, got %d body=%s", st, string(body))
	}

	var resp struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		ClaimToken string `json:"claim_token"`
	}
	_ = json.Unmarshal(body, &resp)
	if resp.ID == "" || resp.ClaimToken == "" {
		t.Fatalf("create consent: missing id/token body=%s", string(body))
	}
	if resp.Status != "pending" {
		t.Fatalf("create consent: expected pending, got %s", resp.Status)
	}
	return resp.ID, resp.ClaimToken
}

func assertCheck(t *testing.T, baseURL, clinicianID, patientID, perm string, allowed bool, reason string) {
	t.Helper()

	st, body := doReq(t, baseURL, "GET", "/access/check?patient_id="+patientID+"&permission="+perm, clinicianID, nil)
	if st != http.StatusOK {
		t.Fatalf("check %s: expected 200, got %d body=%s", perm, st, string(body))
	}
	var resp struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	_ = json.Unmarshal(body, &resp)
	if resp.Allowed != allowed || resp.Reason != reason {
		t.Fatalf("check %s: expected allowed=%v reason=%q, got %s", perm, allowed, reason, string(body))
	}
}

func doReq(t *testing.T, baseURL, method, path, userID string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Debug-User-ID", userID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}
