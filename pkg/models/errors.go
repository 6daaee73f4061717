package models

import (
	"errors"
	"regexp"
)

var (
	// ErrNotFound is returned when a data set, file or definition does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAborted is returned when a long-running pass was cancelled by its
	// progress listener or context.
	ErrAborted = errors.New("operation aborted")

	// ErrNoSource is returned when a data set has no imported source.
	ErrNoSource = errors.New("data set has no source")

	// ErrDataSetExists is returned when creating a data set whose directory exists.
	ErrDataSetExists = errors.New("data set already exists")

	// ErrInvalidDataSetName is returned for data set names that are not usable
	// as directory names.
	ErrInvalidDataSetName = errors.New("invalid data set name: must be alphanumeric with '-', '_' or '.'")
)

var dataSetNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// ValidateDataSetName checks that spec can be used as a directory name.
func ValidateDataSetName(spec string) error {
	if spec == "" || len(spec) > 128 {
		return ErrInvalidDataSetName
	}
	if !dataSetNameRegex.MatchString(spec) {
		return ErrInvalidDataSetName
	}
	return nil
}
