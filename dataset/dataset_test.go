package dataset

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	valid := []string{
		"kamu",
		"kamu.test",
		"com.naturalearthdata.admin0",
		"us-covid-19.cases",
	}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{
		"",
		".leading",
		"trailing.",
		"double..dot",
		"-leading-hyphen",
		"trailing-hyphen-",
		"has space",
		"has/slash",
	}
	for _, name := range invalid {
		assert.Error(t, ValidateName(name), name)
	}
}

func TestReadSnapshot(t *testing.T) {
	manifest := `
apiVersion: 1
kind: DatasetSnapshot
content:
  name: kamu.test
  schema: |
    type Case { id: String reported: String }
  source:
    kind: url
    url: https://kamu.dev/test.zip
    prepare:
    - kind: decompress
      format: zip
      subPath: "data_*.csv"
`
	snapshot, err := ReadSnapshot(strings.NewReader(manifest))
	require.NoError(t, err)
	assert.Equal(t, "kamu.test", snapshot.Name)
	assert.Equal(t, SourceURL, snapshot.Source.Kind)
	require.Len(t, snapshot.Source.Prepare, 1)
	assert.Equal(t, FormatZip, snapshot.Source.Prepare[0].Format)
	assert.Equal(t, "data_*.csv", snapshot.Source.Prepare[0].SubPath)
}

func TestReadSnapshotRejectsWrongKind(t *testing.T) {
	manifest := `
apiVersion: 1
kind: DatasetSummary
content:
  name: kamu.test
`
	_, err := ReadSnapshot(strings.NewReader(manifest))
	assert.ErrorContains(t, err, "manifest kind")
}

func TestSnapshotRoundTrip(t *testing.T) {
	snapshot := &Snapshot{
		Name: "org.example.readings",
		Source: Source{
			Kind:  SourceFilesGlob,
			Path:  "/data/readings-*.csv",
			Order: OrderByName,
			EventTime: &EventTimeSource{
				Kind:    "fromPath",
				Pattern: `readings-(\d{8})\.csv`,
				Layout:  "20060102",
				Period:  Duration(24 * time.Hour),
			},
		},
	}
	require.NoError(t, snapshot.Validate())

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, snapshot))

	decoded, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, snapshot, decoded)
}

func TestSourceValidate(t *testing.T) {
	cases := []struct {
		name    string
		source  Source
		wantErr string
	}{
		{"url ok", Source{Kind: SourceURL, URL: "https://example.com/data.csv"}, ""},
		{"ftp ok", Source{Kind: SourceURL, URL: "ftp://example.com/data.csv"}, ""},
		{"bad scheme", Source{Kind: SourceURL, URL: "file:///etc/passwd"}, "unsupported url scheme"},
		{"bad kind", Source{Kind: "carrier-pigeon"}, "unsupported source kind"},
		{"bad glob", Source{Kind: SourceFilesGlob, Path: "[unclosed"}, "invalid source glob"},
		{"bad order", Source{Kind: SourceFilesGlob, Path: "*.csv", Order: "byMood"}, "unsupported source order"},
		{
			"pattern needs period",
			Source{Kind: SourceFilesGlob, Path: "*.csv", EventTime: &EventTimeSource{
				Kind: "fromPath", Pattern: `(\d{8})`, Layout: "20060102",
			}},
			"requires a period",
		},
		{
			"bad format",
			Source{Kind: SourceURL, URL: "https://example.com/x", Prepare: []PrepStep{
				{Kind: "decompress", Format: "rar"},
			}},
			"unsupported decompress format",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.source.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}
