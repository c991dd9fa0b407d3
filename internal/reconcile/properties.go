package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	dserrors "github.com/systmms/keypair/internal/errors"
)

// propertiesSchema describes ResourceProperties. Name leaves room for the
// "/private" suffix within the 512 character limit of secret names, and
// the description leaves room for the "(Private Key)" suffix.
const propertiesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["Name"],
  "properties": {
    "Name": {
      "type": "string",
      "pattern": "^[A-Za-z0-9/_+=.@-]{1,500}$"
    },
    "Description": {
      "type": "string",
      "maxLength": 2000
    },
    "SecretRegions": {
      "type": "array",
      "uniqueItems": true,
      "items": {
        "type": "string",
        "pattern": "^[a-z0-9-]{2,64}$"
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(propertiesSchema))
	})
	return schema, schemaErr
}

// Properties is the declared key pair: the resource's ResourceProperties.
type Properties struct {
	Name          string   `json:"Name"`
	Description   string   `json:"Description,omitempty"`
	SecretRegions []string `json:"SecretRegions,omitempty"`
}

// PublicSecretName is where the public half is stored
func (p Properties) PublicSecretName() string {
	return p.Name + "/public"
}

// PrivateSecretName is where the private half is stored
func (p Properties) PrivateSecretName() string {
	return p.Name + "/private"
}

// PublicDescription is the description given to the public half
func (p Properties) PublicDescription() string {
	return strings.TrimSpace(p.Description + " (Public Key)")
}

// PrivateDescription is the description given to the private half
func (p Properties) PrivateDescription() string {
	return strings.TrimSpace(p.Description + " (Private Key)")
}

// ParseProperties validates raw resource properties and decodes them.
// Unknown keys such as ServiceToken are ignored.
func ParseProperties(raw map[string]interface{}) (Properties, error) {
	if raw == nil {
		return Properties{}, dserrors.ValidationError{Field: "ResourceProperties", Message: "missing"}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Properties{}, dserrors.ValidationError{Field: "ResourceProperties", Message: err.Error()}
	}

	s, err := compiledSchema()
	if err != nil {
		return Properties{}, fmt.Errorf("failed to compile properties schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Properties{}, dserrors.ValidationError{Field: "ResourceProperties", Message: err.Error()}
	}
	if !result.Valid() {
		first := result.Errors()[0]
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.Description())
		}
		return Properties{}, dserrors.ValidationError{
			Field:   first.Field(),
			Message: strings.Join(messages, "; "),
		}
	}

	var props Properties
	if err := json.Unmarshal(data, &props); err != nil {
		return Properties{}, dserrors.ValidationError{Field: "ResourceProperties", Message: err.Error()}
	}
	return props, nil
}
