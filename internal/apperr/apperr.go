package apperr

import (
	"errors"
	"fmt"
)

// Kind agrupa los códigos por familia; el transport lo traduce a status HTTP.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindPrecondition    Kind = "precondition"
	KindInternal        Kind = "internal"
)

// Códigos machine-readable.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"

	CodeVetNotApproved = "VET_NOT_APPROVED"
	CodeVetRejected    = "VET_REJECTED"
	CodeVetSuspended   = "VET_SUSPENDED"

	CodeOrgIDRequired          = "ORG_ID_REQUIRED"
	CodeNotOrgMember           = "NOT_ORG_MEMBER"
	CodeMembershipNotActive    = "MEMBERSHIP_NOT_ACTIVE"
	CodeRoleForbidden          = "ROLE_FORBIDDEN"
	CodeDeletePermissionDenied = "DELETE_PERMISSION_DENIED"
	CodePermissionDenied       = "PERMISSION_DENIED"
	CodeMasterAdminRequired    = "MASTER_ADMIN_REQUIRED"

	CodeValidation = "VALIDATION_FAILED"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"

	CodeAlreadyDeleted  = "ALREADY_DELETED"
	CodeNotDeleted      = "NOT_DELETED"
	CodeParentDeleted   = "PARENT_DELETED"
	CodeVersionConflict = "VERSION_CONFLICT"

	CodeInternal = "INTERNAL"
)

// Error es el error tipado que cruza los límites entre dominio y transport.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is compara por Code, así errors.Is(err, apperr.NotFound("client", "")) funciona
// sin importar el mensaje.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail devuelve una copia con el detalle agregado.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap guarda la causa original (solo para logs, nunca se expone).
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Unauthenticated(msg string) *Error {
	return New(KindUnauthenticated, CodeUnauthenticated, msg)
}

func Forbidden(code, msg string) *Error {
	return New(KindForbidden, code, msg)
}

func Validation(msg string) *Error {
	return New(KindValidation, CodeValidation, msg)
}

// NotFound arma un error por entidad: NotFound("client", id) => CLIENT_NOT_FOUND.
func NotFound(entity, id string) *Error {
	e := New(KindNotFound, entityCode(entity, "NOT_FOUND"), entity+" not found")
	if id != "" {
		return e.WithDetail("id", id)
	}
	return e
}

func Conflict(code, msg string) *Error {
	return New(KindConflict, code, msg)
}

func Precondition(code, msg string) *Error {
	return New(KindPrecondition, code, msg)
}

// Deleted => {ENTITY}_DELETED.
func Deleted(entity string) *Error {
	return Precondition(entityCode(entity, "DELETED"), entity+" is deleted, restore it first")
}

func Internal(cause error) *Error {
	return New(KindInternal, CodeInternal, "internal error").Wrap(cause)
}

// As devuelve el *Error dentro de err (si existe).
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode es azúcar para tests y handlers.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

func entityCode(entity, suffix string) string {
	b := make([]byte, 0, len(entity)+len(suffix)+1)
	for i := 0; i < len(entity); i++ {
		c := entity[i]
		switch {
		case c >= 'a' && c <= 'z':
			b = append(b, c-'a'+'A')
		case c == ' ' || c == '-':
			b = append(b, '_')
		default:
			b = append(b, c)
		}
	}
	b = append(b, '_')
	return string(append(b, suffix...))
}
