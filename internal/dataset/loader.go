// Package dataset reads the preprocessed train, test and label series of a
// named dataset.
package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// filePrefixes names the single entity used for the multi-entity benchmarks.
var filePrefixes = map[string]string{
	"SMD":  "machine-1-2_",
	"SMAP": "P-1_",
	"MSL":  "T-4_",
	"UCR":  "135_",
	"NAB":  "ec2_request_latency_system_failure_",
}

// CSVConfig configures a CSVLoader
type CSVConfig struct {
	// DataDir holds one directory per dataset
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
	// Less keeps only the middle LessFraction of the training rows
	Less bool `json:"less" mapstructure:"less"`
}

// CSVLoader reads {DataDir}/{dataset}/{train,test,labels}.csv. Files hold
// one row per timestep and one column per channel, optionally under a
// single header row.
type CSVLoader struct {
	config CSVConfig
	logger *logrus.Logger
}

// NewCSVLoader creates a loader
func NewCSVLoader(config CSVConfig, logger *logrus.Logger) *CSVLoader {
	if config.DataDir == "" {
		config.DataDir = constants.DefaultDataDir
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CSVLoader{config: config, logger: logger}
}

// Load reads and cross-checks the three series of a dataset
func (l *CSVLoader) Load(ctx context.Context, name string) (train, test, labels *models.Series, err error) {
	folder := filepath.Join(l.config.DataDir, name)
	if info, statErr := os.Stat(folder); statErr != nil || !info.IsDir() {
		return nil, nil, nil, errors.NewDatasetError(errors.CodeDatasetNotFound,
			fmt.Sprintf("processed data not found in %s", folder)).WithCause(errors.ErrDatasetNotFound)
	}

	series := make([]*models.Series, 0, 3)
	for _, file := range []string{constants.TrainFile, constants.TestFile, constants.LabelsFile} {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}
		path := l.resolve(folder, name, file)
		data, err := ReadCSV(path)
		if err != nil {
			return nil, nil, nil, err
		}
		series = append(series, &models.Series{
			Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Data: data,
		})
	}
	train, test, labels = series[0], series[1], series[2]

	if train.Features() != test.Features() {
		return nil, nil, nil, invalid(fmt.Sprintf("train has %d channels, test has %d", train.Features(), test.Features()))
	}
	if labels.Len() != test.Len() {
		return nil, nil, nil, invalid(fmt.Sprintf("labels have %d rows, test has %d", labels.Len(), test.Len()))
	}
	if labels.Features() != test.Features() && labels.Features() != 1 {
		return nil, nil, nil, invalid(fmt.Sprintf("labels have %d channels, test has %d", labels.Features(), test.Features()))
	}

	if l.config.Less {
		before := train.Len()
		train.Data = CutMiddle(train.Data, constants.LessFraction)
		l.logger.WithFields(logrus.Fields{
			"dataset": name,
			"rows":    before,
			"kept":    train.Len(),
		}).Info("Reduced training data")
	}

	l.logger.WithFields(logrus.Fields{
		"dataset":  name,
		"train":    train.Len(),
		"test":     test.Len(),
		"channels": train.Features(),
	}).Debug("Loaded dataset")
	return train, test, labels, nil
}

// resolve prefers the entity-prefixed file of the benchmark datasets and
// falls back to the plain name.
func (l *CSVLoader) resolve(folder, name, file string) string {
	if prefix, ok := filePrefixes[name]; ok {
		path := filepath.Join(folder, prefix+file)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(folder, file)
}

// ReadCSV parses a numeric CSV file into a T×F matrix. The first row is
// skipped when it is not numeric.
func ReadCSV(path string) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewDatasetError(errors.CodeDatasetNotFound,
				fmt.Sprintf("missing %s", path)).WithCause(errors.ErrDatasetNotFound)
		}
		return nil, errors.NewDatasetError(errors.CodeDatasetInvalid,
			fmt.Sprintf("failed to open %s", path)).WithDetails(err.Error()).WithCause(errors.ErrInvalidDataset)
	}
	defer file.Close()

	data, err := parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func parse(r io.Reader) (*mat.Dense, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var (
		values []float64
		cols   int
		rows   int
		line   int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, invalid("malformed CSV").WithDetails(err.Error())
		}
		line++

		row, ok := parseRow(record)
		if !ok {
			if line == 1 {
				continue
			}
			return nil, invalid(fmt.Sprintf("line %d is not numeric", line))
		}
		if cols == 0 {
			cols = len(row)
		}
		if len(row) != cols {
			return nil, invalid(fmt.Sprintf("line %d has %d columns, expected %d", line, len(row), cols))
		}
		values = append(values, row...)
		rows++
	}

	if rows == 0 {
		return nil, invalid("no data rows")
	}
	return mat.NewDense(rows, cols, values), nil
}

func parseRow(record []string) ([]float64, bool) {
	row := make([]float64, len(record))
	for i, field := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil || math.IsInf(v, 0) {
			return nil, false
		}
		row[i] = v
	}
	return row, true
}

// CutMiddle keeps the middle fraction of the rows of m.
func CutMiddle(m *mat.Dense, fraction float64) *mat.Dense {
	n, _ := m.Dims()
	mid := int(math.RoundToEven(float64(n) / 2))
	half := int(math.RoundToEven(float64(n) * fraction * 0.5))
	from, to := mid-half, mid+half
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if to <= from {
		return mat.DenseCopyOf(m)
	}
	return mat.DenseCopyOf(m.Slice(from, to, 0, m.RawMatrix().Cols))
}

func invalid(message string) *errors.AppError {
	return errors.NewDatasetError(errors.CodeDatasetInvalid, message).WithCause(errors.ErrInvalidDataset)
}
