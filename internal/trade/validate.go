package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/asset"
)

// newValidator returns a validator that understands scaled decimal amounts
// and asset identifiers:
//
//	units           whole number of scaled units, zero or more
//	positive_units  whole number of scaled units, more than zero
//	asset           CODE or CODE:ISSUER
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	v.RegisterValidation("units", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsInteger() && !d.IsNegative()
	})
	v.RegisterValidation("positive_units", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsInteger() && d.IsPositive()
	})
	v.RegisterValidation("asset", func(fl validator.FieldLevel) bool {
		_, err := asset.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 response and returns false.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, describe(err), http.StatusBadRequest)
		return false
	}
	return true
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "units":
			msgs = append(msgs, fe.Field()+" must be a non-negative whole number of units")
		case "positive_units":
			msgs = append(msgs, fe.Field()+" must be a positive whole number of units")
		case "asset":
			msgs = append(msgs, fe.Field()+" must be CODE or CODE:ISSUER")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
