package error

import "net/http"

// GenericError is implemented by every typed error in this package so the
// HTTP layer can map a failure to a status/code pair without switching on
// concrete types.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type NotFoundError string

func (err NotFoundError) Error() string {
	return string(err)
}

func (err NotFoundError) ErrCode() string {
	return "NOT_FOUND_ERROR"
}

func (err NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

type UnauthorizedError string

func (err UnauthorizedError) Error() string {
	return string(err)
}

func (err UnauthorizedError) ErrCode() string {
	return "UNAUTHORIZED"
}

func (err UnauthorizedError) StatusCode() int {
	return http.StatusUnauthorized
}

type InternalServerError string

func (err InternalServerError) Error() string {
	return string(err)
}

func (err InternalServerError) ErrCode() string {
	return "INTERNAL_SERVER_ERROR"
}

func (err InternalServerError) StatusCode() int {
	return http.StatusInternalServerError
}
