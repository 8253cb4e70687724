package scanner

import (
	"bytes"
	"testing"

	testutil "github.com/dl-alexandre/mrisync/internal/testing"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestNormalizeSeriesDescription(t *testing.T) {
	tests := map[string]string{
		"T1 SAG":            "t1sag",
		"T2 FLAIR SAG":      "t2flairsag",
		"t1_mprage (2x2x2)": "t1_mprage2x2x2",
		"  ":                "",
		"DTI-64dir":         "dti64dir",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSeriesDescription(in), in)
	}
}

func TestFileNameNamer(t *testing.T) {
	name, err := FileNameNamer{}.SequenceName(nil, LocalEntry{Name: "t1sag_image.dcm"})
	require.NoError(t, err)
	assert.Equal(t, "t1sag_image.dcm", name)
}

func TestDICOMSeriesNamer_NotDICOM(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.WriteTree(t, fs, "/", testutil.TreeFile{Path: "notes.txt", Content: "not a dicom file at all"})

	_, err := DICOMSeriesNamer{}.SequenceName(fs, LocalEntry{Path: "/notes.txt", Size: 23})
	assert.Error(t, err)
}

func mustElement(t *testing.T, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, data)
	require.NoError(t, err)
	return elem
}

func TestDICOMSeriesNamer(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.FileMetaInformationVersion, []byte{0x00, 0x01}),
		mustElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.4"}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{"1.2.3.4.5"}),
		mustElement(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustElement(t, tag.SeriesDescription, []string{"T1 SAG"}),
	}}
	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		t.Skipf("cannot build DICOM fixture: %v", err)
	}

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/i1.MRDC.1", buf.Bytes(), 0o644))

	name, err := DICOMSeriesNamer{}.SequenceName(fs, LocalEntry{Path: "/i1.MRDC.1", Size: int64(buf.Len())})
	require.NoError(t, err)
	assert.Equal(t, "t1sag", name)
}
