// Package processor loads the JSON files dropped in the import directory into the database.
//
// Each kind has its own directory. Files of the anomaly records kind hold anomaly detection records,
// files of any other kind hold saved objects of the type named after the directory.
// A file holds either a single JSON object or an array of them.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/ubuntu/anomaly-explorer/internal/common/constants"
	"github.com/ubuntu/anomaly-explorer/internal/common/fileutils"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
	"github.com/ubuntu/decorate"
)

// ErrDatabaseErrors is returned when significant database errors occur during processing.
// It indicates more than a set threshold of upload attempts have failed.
var ErrDatabaseErrors = errors.New("database errors during processing surpassed threshold")

var (
	errNoValidData      = errors.New("import file has no valid data")
	errUnexpectedFields = errors.New("file contains unexpected fields")
	errUploadFailed     = errors.New("failed to upload import file to the database")
)

type database interface {
	InsertAnomalyRecords(ctx context.Context, records []models.AnomalyRecord) error
}

type repository interface {
	Create(ctx context.Context, objectType string, attributes map[string]any, opts savedobjects.CreateOptions) (models.SavedObject, error)
}

// Processor imports the files of the import directory.
type Processor struct {
	importDir  string
	invalidDir string
	db         database
	repo       repository
}

// New creates a Processor reading from importDir and moving rejected files to invalidDir.
func New(importDir, invalidDir string, db database, repo repository) (*Processor, error) {
	if importDir == "" {
		return nil, fmt.Errorf("importDir must be set")
	}
	if invalidDir == "" {
		return nil, fmt.Errorf("invalidDir must be set")
	}

	for _, dir := range []string{importDir, invalidDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %q: %v", dir, err)
		}
	}

	return &Processor{
		importDir:  importDir,
		invalidDir: invalidDir,
		db:         db,
		repo:       repo,
	}, nil
}

// Process imports all JSON files found in the `importDir/kind` directory.
//
// Imported files are removed. Files which could not be decoded or were rejected as invalid are moved
// to `invalidDir/kind`. Files whose upload failed are kept, to be retried on the next pass.
//
// It returns an error if a catastrophic failure occurs, or if the number of failed uploads exceeds a threshold.
func (p Processor) Process(ctx context.Context, kind string) (err error) {
	defer decorate.OnError(&err, "could not process %s imports", kind)

	const minimumSuccessRate = 0.85

	dir := filepath.Join(p.importDir, kind)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %q: %v", dir, err)
	}

	files, err := getJSONFiles(dir)
	if err != nil {
		return fmt.Errorf("failed to get JSON files: %v", err)
	}

	var (
		attemptCount = 0
		failureCount = 0
	)
	defer func() {
		if attemptCount > 0 && float64(failureCount)/float64(attemptCount) > (1-minimumSuccessRate) {
			err = errors.Join(ErrDatabaseErrors, err)
		}
	}()

	for _, file := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var procErr error
		if kind == constants.AnomalyRecordsKind {
			procErr = processAndUpload(file, validateRecord, func(records []models.AnomalyRecord) error {
				return p.db.InsertAnomalyRecords(ctx, records)
			})
		} else {
			procErr = processAndUpload(file, validateObject(kind), func(objects []models.SavedObject) error {
				return p.createObjects(ctx, kind, objects)
			})
		}

		if procErr == nil || errors.Is(procErr, errUnexpectedFields) || errors.Is(procErr, errUploadFailed) {
			attemptCount++
		}

		if errors.Is(procErr, errUploadFailed) {
			failureCount++
			continue
		}

		if procErr != nil && !errors.Is(procErr, errUnexpectedFields) {
			dst, err := fileutils.MoveToDir(file, filepath.Join(p.invalidDir, kind))
			if err != nil {
				slog.Warn("Failed to move invalid file", "file", file, "err", err)
				continue
			}
			slog.Info("Moved invalid file", "file", file, "destination", dst)
			continue
		}

		if err := os.Remove(file); err != nil {
			slog.Warn("Failed to remove file after processing", "file", file, "err", err)
		}

		slog.Info("Finished processing file", "file", file)
	}

	return nil
}

// createObjects creates or overwrites the saved objects of a file.
// Objects rejected by the repository make the whole file invalid.
func (p Processor) createObjects(ctx context.Context, kind string, objects []models.SavedObject) error {
	for _, o := range objects {
		_, err := p.repo.Create(ctx, kind, o.Attributes, savedobjects.CreateOptions{
			ID:         o.ID,
			Overwrite:  true,
			Namespace:  o.Namespace,
			References: o.References,
		})
		if errors.Is(err, savedobjects.ErrBadRequest) {
			return err
		}
		if err != nil {
			return errors.Join(errUploadFailed, err)
		}
	}
	return nil
}

// processAndUpload decodes a file, validates each of its items, and uploads them to the database.
//
// If upload fails, it returns an error wrapping errUploadFailed.
// If any error other than errUnexpectedFields or errUploadFailed is returned, the file is invalid.
func processAndUpload[T any](file string, validate func(*T) error, upload func([]T) error) error {
	items, err := processFile[T](file)
	if err != nil {
		slog.Warn("Failed to process file", "file", file, "err", err)
		return err
	}

	var validationErr error
	for i := range items {
		if err := validate(&items[i]); err != nil {
			if !errors.Is(err, errUnexpectedFields) {
				slog.Warn("File processed with errors, skipping upload", "file", file, "item", i, "err", err)
				return err
			}
			validationErr = errors.Join(validationErr, fmt.Errorf("item %d: %w", i, err))
		}
	}
	if validationErr != nil {
		slog.Warn("Failed to fully process file", "file", file, "err", validationErr)
	}

	if err := upload(items); err != nil {
		slog.Warn("Failed to upload file", "file", file, "err", err)
		return err
	}
	slog.Info("Successfully processed and uploaded file", "file", file, "items", len(items))
	return validationErr
}

func validateRecord(r *models.AnomalyRecord) error {
	if r.JobID == "" || r.Timestamp.IsZero() {
		return fmt.Errorf("%w: anomaly record needs a job_id and a timestamp", errNoValidData)
	}
	if r.Extras != nil {
		return errors.Join(errUnexpectedFields, fmt.Errorf("unexpected fields %v", slices.Sorted(maps.Keys(r.Extras))))
	}
	return nil
}

func validateObject(kind string) func(*models.SavedObject) error {
	return func(o *models.SavedObject) error {
		if o.Type != "" && o.Type != kind {
			return fmt.Errorf("saved object of type %q found in the %q import directory", o.Type, kind)
		}
		if o.ID == "" && o.Attributes == nil {
			return fmt.Errorf("%w: saved object needs an id or attributes", errNoValidData)
		}
		if o.Extras != nil {
			return errors.Join(errUnexpectedFields, fmt.Errorf("unexpected fields %v", slices.Sorted(maps.Keys(o.Extras))))
		}
		return nil
	}
}

func getJSONFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.Type().IsRegular() && filepath.Ext(path) == ".json" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// processFile reads a JSON file holding one object or an array of objects, and decodes each of them into T.
func processFile[T any](file string) ([]T, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var jsonData any
	if err = json.Unmarshal(data, &jsonData); err != nil {
		return nil, errors.Join(errors.New("json file is invalid and could not be parsed"), err)
	}

	var raw []any
	switch v := jsonData.(type) {
	case map[string]any:
		raw = []any{v}
	case []any:
		raw = v
	default:
		return nil, fmt.Errorf("%w: expected an object or an array of objects", errNoValidData)
	}
	if len(raw) == 0 {
		return nil, errNoValidData
	}

	items := make([]T, len(raw))
	for i, r := range raw {
		if _, ok := r.(map[string]any); !ok {
			return nil, fmt.Errorf("%w: item %d is not an object", errNoValidData, i)
		}

		decoder, err := mapstructure.NewDecoder(getDecoderConfig(&items[i]))
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder: %v", err)
		}
		if err = decoder.Decode(r); err != nil {
			return nil, errors.Join(fmt.Errorf("item %d does not match expected model structure", i), err)
		}
	}

	return items, nil
}

func getDecoderConfig(target any) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			// Elasticsearch results carry their timestamps as epoch milliseconds.
			func(from reflect.Type, to reflect.Type, data any) (any, error) {
				if to != reflect.TypeOf(time.Time{}) {
					return data, nil
				}
				switch v := data.(type) {
				case float64:
					return time.UnixMilli(int64(v)).UTC(), nil
				case int64:
					return time.UnixMilli(v).UTC(), nil
				case int:
					return time.UnixMilli(int64(v)).UTC(), nil
				}
				return data, nil
			},
		),
		WeaklyTypedInput: true,
		Result:           target,
	}
}
