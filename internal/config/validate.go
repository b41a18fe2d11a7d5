package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var ipsetNameRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	if err := validate.RegisterValidation("ipset_name", validateIPSetName); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("resolver_addr", validateResolverAddr); err != nil {
		panic(err)
	}
	validate.RegisterCustomTypeFunc(func(v reflect.Value) any {
		if d, ok := v.Interface().(Duration); ok {
			return time.Duration(d)
		}
		return nil
	}, Duration(0))

	// report field names the way they are spelled in the file
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks the configuration to ensure all settings are usable.
// Failures wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fieldPath(e), validationMessage(e)))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "ipset_name":
		return "must consist only of letters, digits, '_' and '-'"
	case "resolver_addr":
		return "must be an IP address or host:port"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

func validateIPSetName(fl validator.FieldLevel) bool {
	return ipsetNameRegexp.MatchString(fl.Field().String())
}

func validateResolverAddr(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if net.ParseIP(v) != nil {
		return true
	}
	host, port, err := net.SplitHostPort(v)
	return err == nil && host != "" && port != ""
}
