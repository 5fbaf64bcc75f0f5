// Package apperr classifies failures of household operations so transport
// layers can map them to user-facing responses.
package apperr

import (
	"errors"
	"fmt"
)

// Code is the semantic class of an error.
type Code string

const (
	CodeValidation       Code = "validation"
	CodeAuthorization    Code = "authorization"
	CodeNotFound         Code = "not_found"
	CodeAlreadyCompleted Code = "already_completed"
	CodeTransient        Code = "transient"
)

// Error is a classified error. Two errors match under errors.Is when their
// codes are equal and the target carries no message of its own.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is.
var (
	ErrValidation       = &Error{Code: CodeValidation}
	ErrAuthorization    = &Error{Code: CodeAuthorization}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrAlreadyCompleted = &Error{Code: CodeAlreadyCompleted}
	ErrTransient        = &Error{Code: CodeTransient}
)

func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

func Authorization(msg string) *Error {
	return &Error{Code: CodeAuthorization, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

func AlreadyCompleted(msg string) *Error {
	return &Error{Code: CodeAlreadyCompleted, Message: msg}
}

func Transient(msg string, err error) *Error {
	return &Error{Code: CodeTransient, Message: msg, Err: err}
}

// Classify returns err unchanged when it is already classified and wraps it
// as transient otherwise. A nil err stays nil.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return Transient(msg, err)
}

// CodeOf reports the code of err, or CodeTransient for unclassified errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeTransient
}
