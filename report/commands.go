package report

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/insurance-engine/generic"
)

// ApproveCommand approves a PENDING record as detected.
type ApproveCommand struct {
	RecordID string `json:"record_id" validate:"required"`
	Actor    string `json:"actor" validate:"required"`
	Note     string `json:"note"`
}

// RejectCommand rejects a PENDING record. The note is mandatory.
type RejectCommand struct {
	RecordID string `json:"record_id" validate:"required"`
	Actor    string `json:"actor" validate:"required"`
	Note     string `json:"note" validate:"required,notblank"`
}

// AdjustCommand replaces the computed salary of a PENDING record.
type AdjustCommand struct {
	RecordID string          `json:"record_id" validate:"required"`
	Actor    string          `json:"actor" validate:"required"`
	Salary   decimal.Decimal `json:"salary" validate:"gt=0"`
	Reason   string          `json:"reason" validate:"required,notblank"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	_ = v.RegisterValidation("notblank", validateNotBlank)
	return v
}

// decimalValue lets numeric tags (gt, lte, ...) compare decimal fields.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// mapValidationError converts the first validator failure into a
// *generic.ValidationError.
func mapValidationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &generic.ValidationError{Message: err.Error()}
	}
	e := errs[0]
	switch e.Tag() {
	case "required", "notblank":
		return &generic.ValidationError{Field: e.Field(), Message: "is required"}
	case "gt":
		return &generic.ValidationError{Field: e.Field(), Message: "must be greater than zero"}
	default:
		return &generic.ValidationError{Field: e.Field(), Message: "is invalid"}
	}
}
