package scanner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Namer derives the name a leaf file is matched by against sequence
// patterns
type Namer interface {
	SequenceName(fs afero.Fs, entry LocalEntry) (string, error)
}

// FileNameNamer identifies a file by its own name
type FileNameNamer struct{}

func (FileNameNamer) SequenceName(_ afero.Fs, entry LocalEntry) (string, error) {
	return entry.Name, nil
}

// ErrNoSeriesDescription is returned for DICOM files without a usable
// SeriesDescription element
var ErrNoSeriesDescription = errors.New("no series description")

// DICOMSeriesNamer identifies a file by the normalized SeriesDescription of
// its DICOM header. Pixel data is never read.
type DICOMSeriesNamer struct{}

func (DICOMSeriesNamer) SequenceName(fs afero.Fs, entry LocalEntry) (string, error) {
	f, err := fs.Open(entry.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ds, err := dicom.Parse(f, entry.Size, nil, dicom.SkipPixelData())
	if err != nil {
		return "", fmt.Errorf("parse DICOM header: %w", err)
	}
	elem, err := ds.FindElementByTag(tag.SeriesDescription)
	if err != nil {
		return "", ErrNoSeriesDescription
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return "", ErrNoSeriesDescription
	}

	name := NormalizeSeriesDescription(strings.Join(values, ""))
	if name == "" {
		return "", ErrNoSeriesDescription
	}
	return name, nil
}

// NormalizeSeriesDescription lower-cases s and drops every character
// outside [a-z0-9_]: "T1 SAG" becomes "t1sag".
func NormalizeSeriesDescription(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
