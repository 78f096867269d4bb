package types

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// PurchaseConfirmSchema validates PurchaseConfirmRequest bodies
const PurchaseConfirmSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["buyerAddress", "txHash", "network"],
  "properties": {
    "buyerAddress": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "txHash": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"},
    "network": {"type": "string", "pattern": "^eip155:[0-9]+$"}
  }
}`

// DeviceRegistrationSchema validates DeviceRegistration bodies
const DeviceRegistrationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["ownerAddress", "name", "model", "serialNumber", "location"],
  "properties": {
    "ownerAddress": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "name": {"type": "string", "minLength": 1, "maxLength": 64},
    "model": {"type": "string", "minLength": 1, "maxLength": 64},
    "serialNumber": {"type": "string", "pattern": "^[A-Za-z0-9]{6,32}$"},
    "location": {
      "type": "object",
      "required": ["latitude", "longitude"],
      "properties": {
        "latitude": {"type": "number", "minimum": -90, "maximum": 90},
        "longitude": {"type": "number", "minimum": -180, "maximum": 180},
        "label": {"type": "string", "maxLength": 120}
      }
    }
  }
}`

// ListingSchema validates seller listings of either kind
const ListingSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["kind", "title", "sellerAddress", "price", "network"],
  "properties": {
    "kind": {"enum": ["report", "derivative"]},
    "title": {"type": "string", "minLength": 1, "maxLength": 200},
    "sellerAddress": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "price": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
    "network": {"type": "string", "pattern": "^eip155:[0-9]+$"},
    "ipAssetId": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "licenseTermsId": {"type": "string", "pattern": "^[0-9]+$"}
  },
  "if": {"properties": {"kind": {"const": "derivative"}}},
  "then": {"required": ["parentReportId"]}
}`

// SchemaError lists every violation found in a payload
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "invalid payload: " + strings.Join(e.Violations, "; ")
}

// ValidatePayload checks raw JSON against a JSON schema document. Violations
// are reported as a *SchemaError; any other error means the schema or the
// payload could not be parsed.
func ValidatePayload(schema string, raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to validate payload: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &SchemaError{Violations: violations}
}
