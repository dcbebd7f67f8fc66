// Package convert normalises uploaded documents into the canonical format
// the LLM reads (PDF).
package convert

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrConversionFailed marks any failure to produce a canonical document.
var ErrConversionFailed = eris.New("convert: conversion failed")

// CanonicalContentType is the content type of converted objects.
const CanonicalContentType = "application/pdf"

// Format classifies a stored document.
type Format int

const (
	// Canonical documents are used as stored.
	Canonical Format = iota
	// Convertible documents are office formats LibreOffice renders to PDF.
	Convertible
	// Passthrough documents are sent unconverted (text, images).
	Passthrough
)

func (f Format) String() string {
	switch f {
	case Canonical:
		return "canonical"
	case Convertible:
		return "convertible"
	default:
		return "passthrough"
	}
}

var convertible = map[string]bool{
	".doc": true, ".docx": true,
	".ppt": true, ".pptx": true,
	".xls": true, ".xlsx": true,
	".odt": true, ".odp": true, ".ods": true,
	".rtf": true,
}

// Classify decides the format from the filename extension, falling back to
// the content type for extensionless PDFs.
func Classify(filename, contentType string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf":
		return Canonical
	case convertible[ext]:
		return Convertible
	case ext == "" && strings.HasPrefix(strings.ToLower(contentType), CanonicalContentType):
		return Canonical
	default:
		return Passthrough
	}
}

// Converter turns the bytes of a convertible document into PDF bytes.
type Converter interface {
	ConvertToCanonical(ctx context.Context, filename string, data []byte) ([]byte, error)
}
