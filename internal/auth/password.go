package auth

import (
	"fmt"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"dynacrud/internal/apperr"
	"dynacrud/internal/mapping"
	"dynacrud/internal/registry"
	"dynacrud/internal/rest"
	"dynacrud/internal/storage"
)

const PasswordField = "password"

// PasswordHooks hashes the password of created and updated records and
// never lets it leave the server.
type PasswordHooks struct {
	rest.DefaultHooks
	Cost int
}

func (p PasswordHooks) Before(c *gin.Context, op mapping.Operation, h *registry.Handle) error {
	if op != mapping.OpCreate && op != mapping.OpUpdate {
		return nil
	}
	return HashBody(h, rest.Body(c), p.Cost)
}

func (p PasswordHooks) After(c *gin.Context, op mapping.Operation, result any) {
	StripPassword(result)
	p.DefaultHooks.After(c, op, result)
}

// HashBody replaces a plain password in body with its bcrypt hash. Length
// rules of the field are checked on the plain text.
func HashBody(h *registry.Handle, body map[string]any, cost int) error {
	plain, ok := body[PasswordField].(string)
	if !ok || plain == "" {
		return nil
	}
	if f, ok := h.Schema().Field(PasswordField); ok && f.MinLength > 0 && utf8.RuneCountInString(plain) < f.MinLength {
		return &apperr.ValidationError{Entity: h.Entity(), Errors: []apperr.FieldError{
			apperr.Ferr(apperr.CodeMinLength, PasswordField,
				fmt.Sprintf("Field '%s' must be at least %d characters", PasswordField, f.MinLength)),
		}}
	}
	hash, err := HashPassword(plain, cost)
	if err != nil {
		return err
	}
	body[PasswordField] = hash
	return nil
}

// StripPassword removes the password from a record or a list of records.
func StripPassword(result any) {
	switch r := result.(type) {
	case storage.Record:
		delete(r, PasswordField)
	case []storage.Record:
		for _, rec := range r {
			delete(rec, PasswordField)
		}
	}
}

func HashPassword(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
