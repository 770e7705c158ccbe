// Package bind merges an API's parameter schema with stored or ad-hoc
// values into the flat name->value map the executor puts on the wire.
// This is the only place the parameterID -> parameter name translation
// happens.
package bind

import (
	"fmt"
	"strings"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
)

type MissingParamError struct {
	Name string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

// Bind prepares transport parameters from values keyed by parameter ID
// (the stored form on a synthetic test). Values are trimmed and empties
// dropped before the required gate runs, so a whitespace-only value for
// a required parameter fails the same way a missing one does.
func Bind(schema []apidef.Parameter, values map[int64]string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, p := range schema {
		v := strings.TrimSpace(values[p.ID])
		if v != "" {
			out[p.Name] = v
		}
	}
	return out, checkRequired(schema, out)
}

// BindByName is the ad-hoc variant: caller-supplied values already keyed
// by parameter name. Same cleaning, same required gate.
func BindByName(schema []apidef.Parameter, values map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out[strings.TrimSpace(k)] = v
		}
	}
	return out, checkRequired(schema, out)
}

func checkRequired(schema []apidef.Parameter, bound map[string]string) error {
	for _, p := range schema {
		if !p.Required {
			continue
		}
		if _, ok := bound[p.Name]; !ok {
			return &MissingParamError{Name: p.Name}
		}
	}
	return nil
}
