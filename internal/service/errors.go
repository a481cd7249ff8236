package service

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserSuspended      = errors.New("user suspended")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTopic       = errors.New("invalid topic")
	ErrForbidden          = errors.New("forbidden")
	ErrUploadClosed       = errors.New("topic is not accepting uploads")
	ErrVotingClosed       = errors.New("topic is not accepting votes")
	ErrUnsupportedImage   = errors.New("unsupported image")
	ErrFileTooLarge       = errors.New("file too large")
	ErrResultsPending     = errors.New("results are not published yet")
)
