package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/interfaces"
)

// WriteCSV writes m with one row per timestep and no header
func WriteCSV(path string, m mat.Matrix) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.NewDatasetError(errors.CodeDatasetInvalid,
			fmt.Sprintf("failed to create %s", path)).WithCause(err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

// Export loads name from loader and writes it to {dir}/{as} in the layout
// CSVLoader reads. It returns the dataset folder.
func Export(ctx context.Context, loader interfaces.DatasetLoader, name, dir, as string) (string, error) {
	train, test, labels, err := loader.Load(ctx, name)
	if err != nil {
		return "", err
	}
	if as == "" {
		as = name
	}
	folder := filepath.Join(dir, as)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return "", err
	}
	files := map[string]mat.Matrix{
		constants.TrainFile:  train.Data,
		constants.TestFile:   test.Data,
		constants.LabelsFile: labels.Data,
	}
	for file, data := range files {
		if err := WriteCSV(filepath.Join(folder, file), data); err != nil {
			return "", err
		}
	}
	return folder, nil
}
