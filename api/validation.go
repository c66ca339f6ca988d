package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/leave-credits/leavecredit"
)

// FieldError describes one request field that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// newValidator returns a validator that reports JSON field names and knows
// the leave-credit enums.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("leavetype", func(fl validator.FieldLevel) bool {
		_, err := leavecredit.ParseLeaveType(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("positiontype", func(fl validator.FieldLevel) bool {
		_, err := leavecredit.ParsePositionType(fl.Field().String())
		return err == nil
	})
	return v
}

// fieldErrors flattens validator output into response items.
func fieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		item := FieldError{Field: fe.Field(), Tag: fe.Tag()}
		switch fe.Tag() {
		case "required":
			item.Message = fmt.Sprintf("%s is required", fe.Field())
		case "gt", "gte":
			op := "greater than"
			if fe.Tag() == "gte" {
				op = "at least"
			}
			item.Message = fmt.Sprintf("%s must be %s %s", fe.Field(), op, fe.Param())
		case "oneof":
			item.Message = fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		case "email":
			item.Message = fmt.Sprintf("%s must be a valid email address", fe.Field())
		case "datetime":
			item.Message = fmt.Sprintf("%s must be a date in YYYY-MM-DD format", fe.Field())
		case "leavetype":
			item.Message = fmt.Sprintf("%s must be a known leave type", fe.Field())
		case "positiontype":
			item.Message = fmt.Sprintf("%s must be academic or administration", fe.Field())
		default:
			item.Message = fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
		}
		out = append(out, item)
	}
	return out
}

// decodeAndValidate reads a JSON body into dst and checks its tags.
// It writes the 400 response itself and reports whether the handler may
// continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		fields := fieldErrors(err)
		if fields == nil {
			writeError(w, http.StatusBadRequest, "Invalid request", err)
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Fields: fields,
		})
		return false
	}
	return true
}
