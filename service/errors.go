package service

import (
	"errors"
	"net/http"
)

// Error carries the HTTP status a request failure maps to.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Err.Error() == t.Err.Error()
}

func NewError(code int, msg string) error {
	return &Error{Code: code, Err: errors.New(msg)}
}

var (
	ErrNoImage         = NewError(http.StatusBadRequest, "No image file provided")
	ErrNoImageSelected = NewError(http.StatusBadRequest, "No image file selected")
	ErrEmptyImage      = NewError(http.StatusBadRequest, "Empty image file")
	ErrDecodeImage     = NewError(http.StatusBadRequest, "Could not decode image")
)

// StatusOf returns the status carried by err, or 500 for anything untyped.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return http.StatusInternalServerError
}
