// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package validation wraps go-playground/validator for the configuration
// and the admin API. Two domain tags are registered on top of the built-in
// ones:
//
//   - entitytype: project, episode, sequence, shot or task
//   - source: remote or local
//
// Failures come back as a RequestValidationError whose ToAPIError result
// feeds the VALIDATION_ERROR response body directly:
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    rw.ValidationError(apiErr.Message, apiErr.Details)
//	    return
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/prodsync/internal/models"
)

const errorCode = "VALIDATION_ERROR"

// domainTags are registered once on the shared validator.
var domainTags = map[string]validator.Func{
	"entitytype": func(fl validator.FieldLevel) bool {
		_, err := models.ParseEntityType(fl.Field().String())
		return err == nil
	},
	"source": func(fl validator.FieldLevel) bool {
		_, err := models.ParseSource(fl.Field().String())
		return err == nil
	},
}

// GetValidator returns the shared validator. It is safe for concurrent use.
var GetValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	for tag, fn := range domainTags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("validation: register %s: %v", tag, err))
		}
	}
	return v
})

// ValidationError is one failed field.
type ValidationError struct {
	field   string
	tag     string
	param   string
	value   any
	message string
}

// Field is the namespaced struct field, e.g. "Config.Remote.URL".
func (e *ValidationError) Field() string { return e.field }

// Tag is the rule that failed.
func (e *ValidationError) Tag() string { return e.tag }

// Param is the rule argument ("100" for "max=100").
func (e *ValidationError) Param() string { return e.param }

// Value is the rejected value.
func (e *ValidationError) Value() any { return e.value }

func (e *ValidationError) Error() string { return e.message }

// RequestValidationError collects every failed field of one struct.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the failed fields in declaration order.
func (ve *RequestValidationError) Errors() []ValidationError {
	return ve.errors
}

func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	var b strings.Builder
	for i := range ve.errors {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ve.errors[i].message)
	}
	return b.String()
}

// APIError carries the admin API error body fields.
type APIError struct {
	Code    string
	Message string
	Details map[string]any
}

// ToAPIError builds the response body. A single failure reports its field
// inline; several are listed under "fields".
func (ve *RequestValidationError) ToAPIError() *APIError {
	switch len(ve.errors) {
	case 0:
		return &APIError{Code: errorCode, Message: "Validation failed"}
	case 1:
		e := ve.errors[0]
		return &APIError{
			Code:    errorCode,
			Message: e.message,
			Details: map[string]any{"field": e.field, "tag": e.tag, "value": e.value},
		}
	}

	fields := make([]map[string]any, 0, len(ve.errors))
	parts := make([]string, 0, len(ve.errors))
	for _, e := range ve.errors {
		fields = append(fields, map[string]any{"field": e.field, "tag": e.tag, "message": e.message})
		parts = append(parts, e.field+": "+e.message)
	}
	return &APIError{
		Code:    errorCode,
		Message: strings.Join(parts, "; "),
		Details: map[string]any{"fields": fields},
	}
}

// ValidateStruct validates s and returns nil when it passes.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &RequestValidationError{errors: []ValidationError{{
			field:   "unknown",
			tag:     "unknown",
			message: err.Error(),
		}}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			field:   fe.Namespace(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			value:   fe.Value(),
			message: describe(fe),
		})
	}
	return &RequestValidationError{errors: out}
}

type messageFunc func(field, param string, isString bool) string

func fixed(format string) messageFunc {
	return func(field, _ string, _ bool) string { return fmt.Sprintf(format, field) }
}

func withParam(format string) messageFunc {
	return func(field, param string, _ bool) string { return fmt.Sprintf(format, field, param) }
}

func bound(word string) messageFunc {
	return func(field, param string, isString bool) string {
		if isString {
			return fmt.Sprintf("%s must be %s %s characters", field, word, param)
		}
		return fmt.Sprintf("%s must be %s %s", field, word, param)
	}
}

var messages = map[string]messageFunc{
	"required":   fixed("%s is required"),
	"url":        fixed("%s must be a valid URL"),
	"hostname":   fixed("%s must be a valid hostname"),
	"entitytype": fixed("%s must be one of: project, episode, sequence, shot, task"),
	"source":     fixed("%s must be remote or local"),
	"oneof":      withParam("%s must be one of: %s"),
	"gte":        withParam("%s must be greater than or equal to %s"),
	"lte":        withParam("%s must be less than or equal to %s"),
	"gt":         withParam("%s must be greater than %s"),
	"lt":         withParam("%s must be less than %s"),
	"min":        bound("at least"),
	"max":        bound("at most"),
}

func describe(fe validator.FieldError) string {
	if fn, ok := messages[fe.Tag()]; ok {
		return fn(fe.Namespace(), fe.Param(), fe.Kind() == reflect.String)
	}
	return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
}
