package api

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	cniPattern       = regexp.MustCompile(`^[12]\d{12}$`)
	telephonePattern = regexp.MustCompile(`^(\+?221)?7[05678]\d{7}$`)
	telephoneNoise   = regexp.MustCompile(`[^\d+]`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cni", func(fl validator.FieldLevel) bool {
		return cniPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("telephone_sn", func(fl validator.FieldLevel) bool {
		return telephonePattern.MatchString(normalizeTelephone(fl.Field().String()))
	})
	return v
}

// normalizeTelephone strips spaces, dashes and dots from a phone number.
func normalizeTelephone(raw string) string {
	return telephoneNoise.ReplaceAllString(raw, "")
}

// validateRequest returns field → message details, or nil when obj is valid.
func validateRequest(obj any) map[string]any {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return map[string]any{"body": err.Error()}
	}

	details := make(map[string]any, len(fieldErrors))
	for _, fe := range fieldErrors {
		details[fieldPath(fe)] = getErrorMsg(fe)
	}
	return details
}

// fieldPath drops the struct name from the namespace: CreateCompteRequest.client.email → client.email.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func getErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Ce champ est requis"
	case "email":
		return "L'email doit être valide"
	case "uuid":
		return "Identifiant UUID invalide"
	case "cni":
		return "Le CNI doit contenir 13 chiffres et commencer par 1 ou 2"
	case "telephone_sn":
		return "Le numéro de téléphone sénégalais n'est pas valide"
	case "oneof":
		return "La valeur doit être l'une de: " + fe.Param()
	case "min":
		return "La valeur est trop courte (min " + fe.Param() + ")"
	case "max":
		return "La valeur est trop longue (max " + fe.Param() + ")"
	default:
		return "Valeur invalide"
	}
}
