package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags on Gin's validator and
// makes validation errors report JSON field names. Safe to call repeatedly.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
			panic(fmt.Sprintf("register notblank: %v", err))
		}
	})
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// fieldErrors turns binding validation failures into per-field messages.
// ok is false when err is not a validation error (e.g. malformed JSON).
func fieldErrors(err error) (fields map[string]string, ok bool) {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return nil, false
	}
	fields = make(map[string]string, len(ves))
	for _, fe := range ves {
		name := fe.Field()
		if _, seen := fields[name]; seen {
			continue
		}
		switch fe.Tag() {
		case "required", "notblank":
			fields[name] = name + " is mandatory"
		case "max":
			fields[name] = fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
		default:
			fields[name] = name + " is invalid"
		}
	}
	return fields, true
}
