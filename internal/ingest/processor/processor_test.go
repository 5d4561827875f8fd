package processor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexops/indexops/internal/common/testutils"
	"github.com/indexops/indexops/internal/ingest/processor"
	"github.com/indexops/indexops/internal/models"
)

const testSource = "Deal4"

const validExport = `{
	"sourceName": "Deal4",
	"countryCode": "US",
	"currencyCode": "USD",
	"status": "completed",
	"timestamp": "2025-07-11T05:16:20Z",
	"progress": {
		"recordsInFeed": 16493,
		"jobsInFeed": 13705,
		"jobsSentToIndex": 13686,
		"jobsFailIndexed": 19,
		"jobsSentToEnrich": 20,
		"jobsWithoutMetadata": 2540,
		"switchIndex": true
	},
	"recordCount": 11118,
	"uniqueRefNumberCount": 9253,
	"noCoordinatesCount": 160
}`

type mockDB struct {
	insertErr  error
	invalidErr error

	records []models.LogRecord
	invalid []string
}

func (m *mockDB) Insert(_ context.Context, rec models.LogRecord) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockDB) InsertInvalid(_ context.Context, source, rawPayload string) error {
	if m.invalidErr != nil {
		return m.invalidErr
	}
	m.invalid = append(m.invalid, rawPayload)
	return nil
}

func newForTest(t *testing.T, db *mockDB) (*processor.Processor, string) {
	t.Helper()

	feedsDir := t.TempDir()
	p, err := processor.New(feedsDir, db, prometheus.NewRegistry())
	require.NoError(t, err, "Setup: failed to create processor")
	return p, feedsDir
}

func writeExport(t *testing.T, feedsDir, name, content string) string {
	t.Helper()

	dir := filepath.Join(feedsDir, testSource)
	require.NoError(t, os.MkdirAll(dir, 0750), "Setup: failed to create source dir")
	file := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(file, []byte(content), 0600), "Setup: failed to write export file")
	return file
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := processor.New("", &mockDB{}, prometheus.NewRegistry())
	require.Error(t, err, "Empty feedsDir must error")

	reg := prometheus.NewRegistry()
	_, err = processor.New(t.TempDir(), &mockDB{}, reg)
	require.NoError(t, err)
	_, err = processor.New(t.TempDir(), &mockDB{}, reg)
	require.Error(t, err, "Re-registering the counters must error")
}

func TestProcessStoresValidExport(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	p, feedsDir := newForTest(t, db)
	file := writeExport(t, feedsDir, "0c29ee4d-2bc4-4b35-9276-6b22f17b6c2b.json", validExport)

	require.NoError(t, p.Process(t.Context(), testSource))

	require.Len(t, db.records, 1, "Exactly one record stored")
	want := testutils.LoadWithUpdateFromGoldenYAML(t, db.records[0])
	assert.Equal(t, want, db.records[0], "Stored record mismatch")

	assert.Empty(t, db.invalid, "Nothing stored as invalid")
	assert.NoFileExists(t, file, "Processed file must be removed")
}

func TestProcessArrayFile(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	p, feedsDir := newForTest(t, db)
	file := writeExport(t, feedsDir, "batch.json", "["+validExport+","+validExport+"]")

	require.NoError(t, p.Process(t.Context(), testSource))

	assert.Len(t, db.records, 2, "Every array element stored")
	assert.NoFileExists(t, file)
}

func TestProcessMixedArrayFile(t *testing.T) {
	t.Parallel()

	badTimestampExport := `{"sourceName": "Deal4", "status": "completed", "timestamp": "yesterday"}`

	db := &mockDB{}
	p, feedsDir := newForTest(t, db)
	content := "[" + validExport + "," + badTimestampExport + "]"
	file := writeExport(t, feedsDir, "batch.json", content)

	require.NoError(t, p.Process(t.Context(), testSource))

	assert.Empty(t, db.records, "No record of a partially invalid batch stored")
	require.Len(t, db.invalid, 1, "Whole batch stored as invalid")
	assert.Equal(t, content, db.invalid[0])
	assert.NoFileExists(t, file)
}

func TestProcessInvalidPayloads(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string

		wantInvalid bool
	}{
		"Broken JSON": {
			content:     `{"sourceName": "Deal4"`,
			wantInvalid: true,
		},
		"Unknown field": {
			content:     `{"sourceName": "Deal4", "status": "completed", "timestamp": "2025-07-11T05:16:20Z", "surprise": 1}`,
			wantInvalid: true,
		},
		"Missing source name": {
			content:     `{"status": "completed", "timestamp": "2025-07-11T05:16:20Z"}`,
			wantInvalid: true,
		},
		"Missing status": {
			content:     `{"sourceName": "Deal4", "timestamp": "2025-07-11T05:16:20Z"}`,
			wantInvalid: true,
		},
		"Bad timestamp": {
			content:     `{"sourceName": "Deal4", "status": "completed", "timestamp": "yesterday"}`,
			wantInvalid: true,
		},
		"Negative counter": {
			content:     `{"sourceName": "Deal4", "status": "completed", "timestamp": "2025-07-11T05:16:20Z", "recordCount": -1}`,
			wantInvalid: true,
		},
		"Not an object": {
			content:     `"just a string"`,
			wantInvalid: true,
		},
		"Empty array": {
			content:     `[]`,
			wantInvalid: true,
		},

		// Whitespace-only files are dropped without touching the database.
		"Empty file": {},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			db := &mockDB{}
			p, feedsDir := newForTest(t, db)
			file := writeExport(t, feedsDir, "export.json", tc.content)

			require.NoError(t, p.Process(t.Context(), testSource))

			assert.Empty(t, db.records, "Nothing stored as a record")
			if tc.wantInvalid {
				require.Len(t, db.invalid, 1, "Raw payload stored as invalid")
				assert.Equal(t, tc.content, db.invalid[0])
			} else {
				assert.Empty(t, db.invalid)
			}
			assert.NoFileExists(t, file, "File must be removed either way")
		})
	}
}

func TestProcessInsertErrorKeepsFile(t *testing.T) {
	t.Parallel()

	db := &mockDB{insertErr: errors.New("error requested by test")}
	p, feedsDir := newForTest(t, db)
	file := writeExport(t, feedsDir, "export.json", validExport)

	require.Error(t, p.Process(t.Context(), testSource), "Database trouble must surface")
	assert.FileExists(t, file, "File must stay for a retry")
}

func TestProcessInvalidStoreErrorKeepsFile(t *testing.T) {
	t.Parallel()

	db := &mockDB{invalidErr: errors.New("error requested by test")}
	p, feedsDir := newForTest(t, db)
	file := writeExport(t, feedsDir, "export.json", `not json at all`)

	require.NoError(t, p.Process(t.Context(), testSource))
	assert.FileExists(t, file, "File must stay when the invalid store fails")
}

func TestProcessCanceledContext(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	p, feedsDir := newForTest(t, db)
	writeExport(t, feedsDir, "export.json", validExport)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.ErrorIs(t, p.Process(ctx, testSource), context.Canceled)
	assert.Empty(t, db.records)
}
