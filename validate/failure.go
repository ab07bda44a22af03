// Package validate is the gate every inbound relay event passes before it
// reaches application code. Checks are independent functions returning a
// tagged *Failure; Validator.Validate runs them in cost order and stops at
// the first failure.
package validate

import (
	"fmt"
)

// Code classifies a validation failure.
type Code string

// Failure codes.
const (
	CodeMissingField       Code = "MISSING_REQUIRED_FIELD"
	CodeInvalidType        Code = "INVALID_FIELD_TYPE"
	CodeInvalidFormat      Code = "INVALID_FORMAT"
	CodeTimestampTooOld    Code = "TIMESTAMP_TOO_OLD"
	CodeTimestampFuture    Code = "TIMESTAMP_IN_FUTURE"
	CodeTooManyTags        Code = "TOO_MANY_TAGS"
	CodeInvalidTag         Code = "INVALID_TAG"
	CodeContentTooLarge    Code = "CONTENT_TOO_LARGE"
	CodeMissingTag         Code = "MISSING_REQUIRED_TAG"
	CodeAppMismatch        Code = "APP_MISMATCH"
	CodeInvalidContent     Code = "INVALID_CONTENT_FORMAT"
	CodeUnsupportedVersion Code = "UNSUPPORTED_VERSION"
	CodeInvalidAddress     Code = "INVALID_ADDRESS"
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
)

// Failure is a tagged validation result: code, human message and
// structured detail for logs.
type Failure struct {
	Code    Code
	Message string
	Details map[string]interface{}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func fail(code Code, msg string, kv ...interface{}) *Failure {
	f := &Failure{Code: code, Message: msg}
	if len(kv) > 0 {
		f.Details = make(map[string]interface{}, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			f.Details[fmt.Sprint(kv[i])] = kv[i+1]
		}
	}
	return f
}

// LogFields flattens the failure for a SugaredLogger call.
func (f *Failure) LogFields() []interface{} {
	fields := []interface{}{"code", string(f.Code), "reason", f.Message}
	for k, v := range f.Details {
		fields = append(fields, k, v)
	}
	return fields
}
