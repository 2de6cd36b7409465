// Package validation checks inbound geofence notification payloads against
// the declared field rules and reports every violation it finds.
package validation

import (
	"encoding/json"
	"fmt"
)

const (
	NotificationsField = "notifications"
	DataField          = "data"

	msgNotificationsArray = `Geofence payload must contain "notifications" array`
)

// ContextData locates a violation. FieldData and Validator are only set
// when a present value failed its rule.
type ContextData struct {
	Field     string `json:"field"`
	FieldData any    `json:"fieldData,omitempty"`
	Validator string `json:"validator,omitempty"`
}

// ValidationError is one violation reported to the caller.
type ValidationError struct {
	Message     string       `json:"message"`
	ContextData *ContextData `json:"contextData,omitempty"`
}

// Missing reports whether the error flags an absent field rather than a bad value.
func (e ValidationError) Missing() bool {
	return e.ContextData != nil && e.ContextData.Validator == ""
}

// Result is the outcome of validating one payload.
type Result struct {
	Valid  bool
	Errors []ValidationError
}

// Validate checks a decoded notification payload. It never stops at the first
// failure: every declared field of every notification is evaluated, batch-level
// fields before the nested data fields.
func Validate(payload any) Result {
	var notifications []any
	if obj, ok := payload.(map[string]any); ok {
		notifications, ok = obj[NotificationsField].([]any)
		if !ok {
			return invalidBatch()
		}
	} else {
		return invalidBatch()
	}

	errs := make([]ValidationError, 0)
	for _, n := range notifications {
		notification := asObject(n)
		errs = append(errs, checkFields(notification, NotificationRules)...)
		errs = append(errs, checkFields(asObject(notification[DataField]), DataRules)...)
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func invalidBatch() Result {
	return Result{Errors: []ValidationError{{Message: msgNotificationsArray}}}
}

func checkFields(obj map[string]any, rules []Rule) []ValidationError {
	var errs []ValidationError
	for _, rule := range rules {
		value := obj[rule.Field]
		if isFalsy(value) {
			if rule.Required {
				errs = append(errs, ValidationError{
					Message:     fmt.Sprintf("Payload does not have field (%s) defined.", rule.Field),
					ContextData: &ContextData{Field: rule.Field},
				})
			}
			continue
		}
		if !rule.Check(value) {
			errs = append(errs, ValidationError{
				Message: fmt.Sprintf("Field (%s) did not validate.", rule.Field),
				ContextData: &ContextData{
					Field:     rule.Field,
					FieldData: value,
					Validator: rule.Name,
				},
			})
		}
	}
	return errs
}

// asObject treats anything that is not a JSON object as an empty one, so that
// its fields are all reported missing.
func asObject(v any) map[string]any {
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return nil
}

// isFalsy mirrors the "absent" notion of the wire format: null, false, empty
// string and zero count as not provided.
func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case float64:
		return t == 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	}
	return false
}
