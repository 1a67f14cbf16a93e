package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
)

var errNotObject = errors.New("data must be a JSON object")

// Schema validates an event payload.
type Schema interface {
	Validate(data map[string]any) error
}

// SchemaFunc adapts a function to Schema.
type SchemaFunc func(data map[string]any) error

func (f SchemaFunc) Validate(data map[string]any) error { return f(data) }

// AnyObject accepts every JSON object. It backs registered types that have
// no dedicated payload contract yet.
var AnyObject Schema = SchemaFunc(func(map[string]any) error { return nil })

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// StructSchema validates a payload by decoding it into T and applying T's
// `validate` struct tags. Unknown keys are tolerated.
type StructSchema[T any] struct{}

// Validate implements Schema.
func (StructSchema[T]) Validate(data map[string]any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return &buserr.ValidationError{Field: "data", Reason: "not serializable", Err: err}
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return &buserr.ValidationError{Field: "data." + ute.Field, Reason: "expected " + ute.Type.Kind().String(), Err: err}
		}
		return &buserr.ValidationError{Field: "data", Reason: err.Error(), Err: err}
	}
	if err := validate.Struct(&v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &buserr.ValidationError{Field: "data." + fieldPath(fe.Namespace()), Reason: describe(fe), Err: err}
		}
		return &buserr.ValidationError{Field: "data", Reason: err.Error(), Err: err}
	}
	return nil
}

// fieldPath drops the struct type prefix from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "len":
		return "must have length " + fe.Param()
	case "gt", "gte", "lt", "lte", "min", "max":
		return "must be " + fe.Tag() + " " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// FinbotTransactionCreated is the payload of finbot.transaction.created.
type FinbotTransactionCreated struct {
	TransactionID string         `json:"transactionId" validate:"required"`
	AccountID     string         `json:"accountId" validate:"required"`
	Amount        *float64       `json:"amount" validate:"required"`
	Currency      string         `json:"currency" validate:"required"`
	Type          string         `json:"type" validate:"required,oneof=income expense transfer"`
	Description   string         `json:"description,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// FinbotTransactionUpdated is the payload of finbot.transaction.updated.
type FinbotTransactionUpdated struct {
	TransactionID string         `json:"transactionId" validate:"required"`
	Changes       map[string]any `json:"changes,omitempty"`
}

// MubotDataQualityAlert is the payload of mubot.data.quality.alert.
type MubotDataQualityAlert struct {
	Dataset  string `json:"dataset" validate:"required"`
	Severity string `json:"severity" validate:"required,oneof=low medium high critical"`
	Message  string `json:"message,omitempty"`
}
