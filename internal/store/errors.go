package store

import "errors"

var (
	ErrNotFound          = errors.New("no such file or directory")
	ErrAlreadyExists     = errors.New("file already exists")
	ErrNotEmpty          = errors.New("directory not empty")
	ErrNotADirectory     = errors.New("not a directory")
	ErrIsADirectory      = errors.New("is a directory")
	ErrInvalidName       = errors.New("invalid file name")
	ErrMissingBlob       = errors.New("blob does not exist")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrStorageCorruption = errors.New("storage corruption detected")
	ErrJournalCorruption = errors.New("journal corruption detected")
)
