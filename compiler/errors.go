package compiler

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrShape         = errors.New("compiler: shape mismatch")
	ErrConversion    = errors.New("compiler: conversion failed")
	ErrNullViolation = errors.New("compiler: null violation")
	ErrNilInstance   = errors.New("compiler: class handler returned a nil instance")
)

// ShapeError reports a target type that cannot be mapped to a field set. It
// is raised while compiling, never while a pipeline runs, except for the
// cursor width check.
type ShapeError struct {
	Type   reflect.Type
	Field  string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("compiler: %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("compiler: %s: field %q: %s", e.Type, e.Field, e.Reason)
}

func (e *ShapeError) Is(target error) bool { return target == ErrShape }

// ConversionError reports a value that could not be converted while a
// pipeline ran.
type ConversionError struct {
	Field  string
	Member string
	Value  any
	Err    error
}

func (e *ConversionError) Error() string {
	name := e.Field
	if e.Member != "" && e.Member != e.Field {
		name = fmt.Sprintf("%s (field %q)", e.Member, e.Field)
	}
	return fmt.Sprintf("compiler: convert %s value %v (%T): %v", name, e.Value, e.Value, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// NullViolationError reports an absent value for a destination that does not
// accept one.
type NullViolationError struct {
	Member string
	Field  string
}

func (e *NullViolationError) Error() string {
	return fmt.Sprintf("compiler: %s is required but field %q is null", e.Member, e.Field)
}

func (e *NullViolationError) Is(target error) bool { return target == ErrNullViolation }

func shapeErr(t reflect.Type, field, format string, args ...any) error {
	return &ShapeError{Type: t, Field: field, Reason: fmt.Sprintf(format, args...)}
}
