package consent

import (
	"strconv"
	"strings"
)

// Permissions son los flags finos de un grant. Son la fuente de verdad del scope;
// AccessLevel es un tier derivado que se valida contra ellos al escribir.
type Permissions struct {
	View        bool `json:"view"`
	Edit        bool `json:"edit"`
	Assessments bool `json:"assessments"`
	Reports     bool `json:"reports"`
	IEP         bool `json:"iep"`
}

// AccessLevel es el tier grueso.
type AccessLevel string

const (
	AccessLevelView       AccessLevel = "view"
	AccessLevelEdit       AccessLevel = "edit"
	AccessLevelFullAccess AccessLevel = "full_access"
)

// Permission es lo que un consumidor pide en CheckAccess.
type Permission string

const (
	PermissionView        Permission = "view"
	PermissionEdit        Permission = "edit"
	PermissionAssessments Permission = "assessments"
	PermissionReports     Permission = "reports"
	PermissionIEP         Permission = "iep"

	// PermissionEditAny: editar cualquier sección (edit + todos los flags de sección).
	PermissionEditAny Permission = "edit_any"
)

func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PermissionView, PermissionEdit, PermissionAssessments, PermissionReports, PermissionIEP, PermissionEditAny:
		return p, nil
	default:
		return "", invalid("permission", "unknown permission "+strconv.Quote(raw))
	}
}

// DeriveAccessLevel calcula el tier a partir de los flags.
func DeriveAccessLevel(p Permissions) AccessLevel {
	switch {
	case p.Edit && p.View && p.Assessments && p.Reports && p.IEP:
		return AccessLevelFullAccess
	case p.Edit:
		return AccessLevelEdit
	default:
		return AccessLevelView
	}
}

// Validate chequea la consistencia del par {permissions, accessLevel}.
// Si level viene vacío se deriva de los flags. Un par contradictorio es error:
// nunca se reconcilia en silencio.
func Validate(p Permissions, level AccessLevel) (AccessLevel, error) {
	level = AccessLevel(strings.ToLower(strings.TrimSpace(string(level))))
	if level == "" {
		return DeriveAccessLevel(p), nil
	}

	switch level {
	case AccessLevelView:
		if p.Edit {
			return "", invalid("access_level", "view access cannot include edit permission")
		}
	case AccessLevelEdit:
		if !p.Edit {
			return "", invalid("access_level", "edit access requires edit permission")
		}
	case AccessLevelFullAccess:
		if !p.Edit || !p.View || !p.Assessments || !p.Reports || !p.IEP {
			return "", invalid("access_level", "full_access requires every permission flag")
		}
	default:
		return "", invalid("access_level", "unknown access level "+strconv.Quote(string(level)))
	}
	return level, nil
}

// Covers responde si el scope habilita el permiso pedido. Función pura.
func Covers(p Permissions, required Permission) bool {
	switch required {
	case PermissionView:
		return p.View
	case PermissionEdit:
		return p.Edit
	case PermissionAssessments:
		return p.Assessments
	case PermissionReports:
		return p.Reports
	case PermissionIEP:
		return p.IEP
	case PermissionEditAny:
		return p.Edit && p.Assessments && p.Reports && p.IEP
	default:
		return false
	}
}

// Any es false para un grant "inútil" (todos los flags en false).
func (p Permissions) Any() bool {
	return p.View || p.Edit || p.Assessments || p.Reports || p.IEP
}

// diffScope arma el detalle de auditoría para un cambio de scope.
// Solo incluye lo que cambió, con formato "antes->después".
func diffScope(oldP Permissions, oldL AccessLevel, newP Permissions, newL AccessLevel) map[string]string {
	out := map[string]string{}
	flag := func(name string, a, b bool) {
		if a != b {
			out[name] = strconv.FormatBool(a) + "->" + strconv.FormatBool(b)
		}
	}
	flag("view", oldP.View, newP.View)
	flag("edit", oldP.Edit, newP.Edit)
	flag("assessments", oldP.Assessments, newP.Assessments)
	flag("reports", oldP.Reports, newP.Reports)
	flag("iep", oldP.IEP, newP.IEP)
	if oldL != newL {
		out["access_level"] = string(oldL) + "->" + string(newL)
	}
	return out
}
