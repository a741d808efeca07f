package util

import "errors"

var (
	ErrBufferpoolExhausted = errors.New("bufferpool exhausted: every frame is pinned")
	ErrPageNotResident     = errors.New("page not resident in bufferpool")
	ErrHeaderPageFull      = errors.New("header page full")
	ErrInvalidMaxSize      = errors.New("invalid b+tree page max size")
)

type StorageError struct {
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type BufferpoolExhaustedError struct {
	*StorageError
}

func NewBufferpoolExhaustedError(message string) *BufferpoolExhaustedError {
	return &BufferpoolExhaustedError{
		StorageError: &StorageError{
			Message: message,
			Err:     ErrBufferpoolExhausted,
		},
	}
}
