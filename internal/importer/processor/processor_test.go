package processor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/anomaly-explorer/internal/importer/processor"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
)

const (
	validRecords = `[
  {"job_id": "farequote", "timestamp": 1486656000000, "bucket_span": 900, "record_score": 87.5,
   "influencers": [{"influencer_field_name": "airline", "influencer_field_values": ["AAL"]}]},
  {"job_id": "farequote", "timestamp": "2017-02-09T16:15:00Z", "bucket_span": 900, "record_score": 12}
]`
	recordWithExtras  = `{"job_id": "farequote", "timestamp": 1486656000000, "record_score": 3, "result_type": "record"}`
	recordWithoutJob  = `{"timestamp": 1486656000000, "record_score": 3}`
	singleDashboard   = `{"id": "d1", "attributes": {"title": "Flights"}, "references": [{"name": "panel_0", "type": "visualization", "id": "v1"}]}`
	dashboardArray    = `[{"id": "d2", "attributes": {"title": "Logs"}}, {"id": "d3", "namespace": "marketing", "attributes": {"title": "Ads"}}]`
	dashboardExtras   = `{"id": "d4", "attributes": {"title": "Extra"}, "migrationVersion": {"dashboard": "7.0.0"}}`
	wrongTypeObject   = `{"id": "v1", "type": "visualization", "attributes": {"title": "Pie"}}`
	emptyObject       = `{}`
	emptyArray        = `[]`
	scalarDocument    = `42`
	malformedDocument = `{"id": "d5",`
)

func TestProcess(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		kind  string
		files map[string]string
		db    mockDatabase
		repo  mockRepository

		earlyCancel bool

		wantRecords   []string
		wantObjects   []string
		wantRemaining []string
		wantInvalid   []string
		wantErr       error
	}{
		"Anomaly records are imported": {
			kind:        "ml-anomaly-records",
			files:       map[string]string{"records.json": validRecords, "extras.json": recordWithExtras},
			wantRecords: []string{"farequote@2017-02-09T16:00:00Z", "farequote@2017-02-09T16:00:00Z", "farequote@2017-02-09T16:15:00Z"},
		},
		"Saved objects are imported": {
			kind:        "dashboard",
			files:       map[string]string{"single.json": singleDashboard, "array.json": dashboardArray, "extras.json": dashboardExtras},
			wantObjects: []string{"dashboard/default/d1", "dashboard/default/d2", "dashboard/marketing/d3", "dashboard/default/d4"},
		},
		"Invalid files are moved away": {
			kind: "dashboard",
			files: map[string]string{
				"valid.json":     singleDashboard,
				"wrongtype.json": wrongTypeObject,
				"empty.json":     emptyObject,
				"emptyarr.json":  emptyArray,
				"scalar.json":    scalarDocument,
				"malformed.json": malformedDocument,
			},
			wantObjects: []string{"dashboard/default/d1"},
			wantInvalid: []string{"empty.json", "emptyarr.json", "malformed.json", "scalar.json", "wrongtype.json"},
		},
		"Invalid anomaly records are moved away": {
			kind:        "ml-anomaly-records",
			files:       map[string]string{"nojob.json": recordWithoutJob},
			wantInvalid: []string{"nojob.json"},
		},
		"Objects rejected by the repository are moved away": {
			kind:        "dashboard",
			files:       map[string]string{"single.json": singleDashboard},
			repo:        mockRepository{createErr: savedobjects.ErrBadRequest},
			wantInvalid: []string{"single.json"},
		},
		"Non JSON files are ignored": {
			kind:          "dashboard",
			files:         map[string]string{"notes.txt": "not an import"},
			wantRemaining: []string{"notes.txt"},
		},
		"Empty directory": {kind: "dashboard"},

		// Error cases
		"Upload errors keep the files": {
			kind:          "ml-anomaly-records",
			files:         map[string]string{"records.json": validRecords},
			db:            mockDatabase{insertErr: errors.New("requested insert error")},
			wantRemaining: []string{"records.json"},
			wantErr:       processor.ErrDatabaseErrors,
		},
		"Repository errors keep the files": {
			kind:          "dashboard",
			files:         map[string]string{"single.json": singleDashboard},
			repo:          mockRepository{createErr: errors.New("requested create error")},
			wantRemaining: []string{"single.json"},
			wantErr:       processor.ErrDatabaseErrors,
		},
		"Instant context cancellation errors": {
			kind:          "dashboard",
			files:         map[string]string{"single.json": singleDashboard},
			earlyCancel:   true,
			wantRemaining: []string{"single.json"},
			wantErr:       context.Canceled,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			importDir := t.TempDir()
			invalidDir := filepath.Join(t.TempDir(), "invalid")
			kindDir := filepath.Join(importDir, tc.kind)
			require.NoError(t, os.MkdirAll(kindDir, 0750), "Setup: could not create kind directory")
			for name, content := range tc.files {
				require.NoError(t, os.WriteFile(filepath.Join(kindDir, name), []byte(content), 0600), "Setup: could not write import file")
			}

			p, err := processor.New(importDir, invalidDir, &tc.db, &tc.repo)
			require.NoError(t, err, "Setup: could not create processor")

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			if tc.earlyCancel {
				cancel()
			}

			err = p.Process(ctx, tc.kind)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr, "Process should return the expected error")
				require.ErrorContains(t, err, "could not process "+tc.kind+" imports", "Error should name the processed kind")
			} else {
				require.NoError(t, err, "Process should not return an error")
			}

			require.ElementsMatch(t, tc.wantRecords, tc.db.keys(), "Unexpected imported anomaly records")
			require.ElementsMatch(t, tc.wantObjects, tc.repo.keys(), "Unexpected imported saved objects")
			require.ElementsMatch(t, tc.wantRemaining, dirFiles(t, kindDir), "Unexpected files left in the import directory")
			require.ElementsMatch(t, tc.wantInvalid, dirFiles(t, filepath.Join(invalidDir, tc.kind)), "Unexpected files in the invalid directory")
		})
	}
}

func TestProcessOverwritesObjects(t *testing.T) {
	t.Parallel()

	importDir := t.TempDir()
	repo := &mockRepository{}
	p, err := processor.New(importDir, t.TempDir(), &mockDatabase{}, repo)
	require.NoError(t, err, "Setup: could not create processor")

	kindDir := filepath.Join(importDir, "dashboard")
	require.NoError(t, os.MkdirAll(kindDir, 0750), "Setup: could not create kind directory")
	require.NoError(t, os.WriteFile(filepath.Join(kindDir, "d1.json"), []byte(singleDashboard), 0600), "Setup: could not write import file")

	require.NoError(t, p.Process(t.Context(), "dashboard"), "Process should not return an error")

	require.Len(t, repo.created, 1, "One object should have been created")
	got := repo.created[0]
	require.True(t, got.opts.Overwrite, "Imports should overwrite existing objects")
	require.Equal(t, map[string]any{"title": "Flights"}, got.attributes, "Attributes should be imported as is")
	require.Equal(t, []models.Reference{{Name: "panel_0", Type: "visualization", ID: "v1"}}, got.opts.References, "References should be imported")
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		importDir  string
		invalidDir string

		wantErr bool
	}{
		"Creates directories": {importDir: "import", invalidDir: "invalid"},

		"Error on empty import directory":  {invalidDir: "invalid", wantErr: true},
		"Error on empty invalid directory": {importDir: "import", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			importDir, invalidDir := tc.importDir, tc.invalidDir
			if importDir != "" {
				importDir = filepath.Join(root, importDir)
			}
			if invalidDir != "" {
				invalidDir = filepath.Join(root, invalidDir)
			}

			_, err := processor.New(importDir, invalidDir, &mockDatabase{}, &mockRepository{})
			if tc.wantErr {
				require.Error(t, err, "New should return an error")
				return
			}
			require.NoError(t, err, "New should not return an error")
			require.DirExists(t, importDir, "Import directory should be created")
			require.DirExists(t, invalidDir, "Invalid directory should be created")
		})
	}
}

// dirFiles returns the names of the regular files in dir, or nil if it does not exist.
func dirFiles(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err, "Could not read directory %q", dir)

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names
}

type mockDatabase struct {
	insertErr error
	records   []models.AnomalyRecord
}

func (m *mockDatabase) InsertAnomalyRecords(_ context.Context, records []models.AnomalyRecord) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *mockDatabase) keys() []string {
	var keys []string
	for _, r := range m.records {
		keys = append(keys, r.JobID+"@"+r.Timestamp.UTC().Format(time.RFC3339))
	}
	return keys
}

type createCall struct {
	objectType string
	attributes map[string]any
	opts       savedobjects.CreateOptions
}

type mockRepository struct {
	createErr error
	created   []createCall
}

func (m *mockRepository) Create(_ context.Context, objectType string, attributes map[string]any, opts savedobjects.CreateOptions) (models.SavedObject, error) {
	if m.createErr != nil {
		return models.SavedObject{}, m.createErr
	}
	m.created = append(m.created, createCall{objectType: objectType, attributes: attributes, opts: opts})
	return models.SavedObject{ID: opts.ID, Type: objectType, Namespace: opts.Namespace, Attributes: attributes}, nil
}

func (m *mockRepository) keys() []string {
	var keys []string
	for _, c := range m.created {
		ns := c.opts.Namespace
		if ns == "" {
			ns = "default"
		}
		keys = append(keys, c.objectType+"/"+ns+"/"+c.opts.ID)
	}
	return keys
}
