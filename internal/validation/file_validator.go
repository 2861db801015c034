// Package validation preflights the raw input files before the loader
// parses them, so a misconfigured path fails with a clear message
// instead of a mid-parse error.
package validation

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"rxpanel/internal/errors"
)

// inputExtensions lists the formats the loader accepts
var inputExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xlsm": true,
}

// FileValidator checks input files for existence, size, and format
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{logger: logger}
}

// ValidateInputFile checks that path names a readable, non-empty file
// in a format the loader accepts
func (v *FileValidator) ValidateInputFile(path string) error {
	if path == "" {
		return errors.NewInputError("input file path is empty", nil)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.NewInputError("input file does not exist", err).
			WithContext("file", path)
	}
	if err != nil {
		return errors.NewInputError("failed to stat input file", err).
			WithContext("file", path)
	}
	if info.IsDir() {
		return errors.NewInputError("input path is a directory", nil).
			WithContext("file", path)
	}
	if info.Size() == 0 {
		return errors.NewInputError("input file is empty", nil).
			WithContext("file", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !inputExtensions[ext] {
		return errors.NewInputError("unsupported input format", nil).
			WithContext("file", path).
			WithContext("extension", ext)
	}

	// Excel lock files start with ~$ and hold no data
	if strings.HasPrefix(filepath.Base(path), "~$") {
		return errors.NewInputError("input file is an Excel lock file", nil).
			WithContext("file", path)
	}

	v.logger.Debug("input file validated",
		"file", path,
		"size_bytes", info.Size(),
	)
	return nil
}

// ValidateInputs preflights the three raw source files in load order
func (v *FileValidator) ValidateInputs(populationPath, mortalityPath, shipmentsPath string) error {
	for _, path := range []string{populationPath, mortalityPath, shipmentsPath} {
		if err := v.ValidateInputFile(path); err != nil {
			return err
		}
	}
	return nil
}
