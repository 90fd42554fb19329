package template

import (
	"regexp"
	"strings"

	"github.com/chatnationwork/broadcast-backend/internal/model"
)

// placeholder pattern: {{field}} or {{field|Fallback}}
var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*(?:\|([^}]*))?\}\}`)

// Render substitutes placeholders against the contact's profile plus any
// transient event context. Lookup order: event context, built-in fields
// (name, phone), then contact attributes. A field nobody can resolve renders
// as its fallback, or as an empty string when none is given.
func Render(tpl string, contact model.Contact, eventCtx map[string]string) string {
	return varPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		groups := varPattern.FindStringSubmatch(match)
		field := groups[1]
		fallback := strings.TrimSpace(groups[2])

		if v, ok := resolve(field, contact, eventCtx); ok && v != "" {
			return v
		}
		return fallback
	})
}

func resolve(field string, contact model.Contact, eventCtx map[string]string) (string, bool) {
	if v, ok := eventCtx[field]; ok {
		return v, true
	}
	switch field {
	case "name":
		return contact.Name, true
	case "phone":
		return contact.Phone, true
	}
	if v, ok := contact.Attributes[field]; ok {
		return v, true
	}
	return "", false
}
