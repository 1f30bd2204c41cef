package submission

import (
	"fmt"
	"net/http"
)

// Code is the machine-readable rejection identifier returned to callers.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInvalidTestType     Code = "INVALID_TEST_TYPE"
	CodeInvalidResultFormat Code = "INVALID_RESULT_FORMAT"
	CodeAppointmentNotFound Code = "APPOINTMENT_NOT_FOUND"
	CodeUserNotFound        Code = "USER_NOT_FOUND"
	CodeAppointmentMismatch Code = "APPOINTMENT_USER_MISMATCH"
	CodeDuplicate           Code = "DUPLICATE_TEST_RESULT"
)

// Status maps the code to an HTTP status. The ownership mismatch is a 404 for
// the snake_case API and a 400 for the envelope API.
func (c Code) Status(v Variant) int {
	switch c {
	case CodeValidation, CodeInvalidTestType, CodeInvalidResultFormat:
		return http.StatusBadRequest
	case CodeAppointmentNotFound, CodeUserNotFound:
		return http.StatusNotFound
	case CodeAppointmentMismatch:
		if v == VariantB {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case CodeDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Rejection is a typed pipeline failure. It is a value the caller can correct,
// never an infrastructure error.
type Rejection struct {
	Code    Code
	Message string
	Details map[string]any
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func reject(code Code, msg string, details map[string]any) *Rejection {
	if details == nil {
		details = map[string]any{}
	}
	return &Rejection{Code: code, Message: msg, Details: details}
}
