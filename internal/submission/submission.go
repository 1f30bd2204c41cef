package submission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Variant identifies one of the two wire contracts of the submission endpoint.
type Variant string

const (
	// VariantA is the snake_case contract with flat responses.
	VariantA Variant = "a"
	// VariantB is the camelCase contract wrapped in a {success, message, data} envelope.
	VariantB Variant = "b"
)

// ParseVariant accepts "a" or "b".
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantA, VariantB:
		return Variant(s), nil
	default:
		return "", fmt.Errorf("unknown api variant %q", s)
	}
}

// Field names a submission attribute independently of its wire spelling.
type Field int

const (
	FieldUserID Field = iota
	FieldTestType
	FieldResult
	FieldAppointmentID
	FieldNotes
	FieldPerformedAt
	FieldStartPcMac
	FieldEndPcMac
)

// requiredFields is ordered as callers see it in rejections.
var requiredFields = []Field{FieldUserID, FieldTestType, FieldResult, FieldAppointmentID}

var wireKeys = map[Variant]map[Field]string{
	VariantA: {
		FieldUserID:        "user_id",
		FieldTestType:      "test_type",
		FieldResult:        "result",
		FieldAppointmentID: "appointment_id",
		FieldNotes:         "notes",
		FieldPerformedAt:   "performed_at",
		FieldStartPcMac:    "start_pc_mac",
		FieldEndPcMac:      "end_pc_mac",
	},
	VariantB: {
		FieldUserID:        "userId",
		FieldTestType:      "testType",
		FieldResult:        "result",
		FieldAppointmentID: "appointmentId",
		FieldNotes:         "notes",
		FieldPerformedAt:   "performedAt",
		FieldStartPcMac:    "startPcMac",
		FieldEndPcMac:      "endPcMac",
	},
}

// Key returns the wire key for f under variant v.
func (v Variant) Key(f Field) string {
	return wireKeys[v][f]
}

// RequiredKeys lists the required wire keys for v.
func (v Variant) RequiredKeys() []string {
	keys := make([]string, 0, len(requiredFields))
	for _, f := range requiredFields {
		keys = append(keys, v.Key(f))
	}
	return keys
}

// Submission is the canonical inbound payload. Values are kept as raw JSON so
// the pipeline can distinguish absent, null, falsy and mistyped fields. Keys
// from the other variant and unknown keys are dropped.
type Submission struct {
	Variant Variant
	fields  map[Field]json.RawMessage
}

// Decode parses a request body under the contract of variant v. The error is
// non-nil only when body is not exactly one JSON object.
func Decode(v Variant, body []byte) (Submission, error) {
	var top map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&top); err != nil {
		return Submission{}, fmt.Errorf("decode submission: %w", err)
	}
	if top == nil {
		return Submission{}, errors.New("decode submission: body is not an object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Submission{}, errors.New("decode submission: unexpected data after object")
	}

	sub := Submission{Variant: v, fields: make(map[Field]json.RawMessage)}
	for f, key := range wireKeys[v] {
		if raw, ok := top[key]; ok {
			sub.fields[f] = raw
		}
	}
	return sub, nil
}

// New builds a submission from already-typed values, mainly for tests and
// internal callers. Nil values are treated as absent.
func New(v Variant, values map[Field]any) (Submission, error) {
	sub := Submission{Variant: v, fields: make(map[Field]json.RawMessage)}
	for f, val := range values {
		if val == nil {
			continue
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return Submission{}, fmt.Errorf("encode %s: %w", v.Key(f), err)
		}
		sub.fields[f] = raw
	}
	return sub, nil
}

// Raw returns the raw JSON for f and whether the key was present.
func (s Submission) Raw(f Field) (json.RawMessage, bool) {
	raw, ok := s.fields[f]
	return raw, ok
}

// jsonKind classifies a raw JSON value.
func jsonKind(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "undefined"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// falsy reports whether a field counts as missing: absent, null, "", false or 0.
func falsy(raw json.RawMessage, present bool) bool {
	if !present {
		return true
	}
	switch jsonKind(raw) {
	case "undefined", "null":
		return true
	case "boolean":
		return string(bytes.TrimSpace(raw)) == "false"
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return true
		}
		return s == ""
	case "number":
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return false
		}
		return n == 0
	default:
		return false
	}
}

func rawString(raw json.RawMessage) (string, bool) {
	if jsonKind(raw) != "string" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// rawValue decodes raw into a generic value for echoing back to the caller.
func rawValue(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
