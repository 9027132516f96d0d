package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/interfaces"
)

var (
	_ interfaces.DatasetLoader = (*CSVLoader)(nil)
	_ interfaces.DatasetLoader = (*SyntheticLoader)(nil)
	_ interfaces.DatasetLoader = (*Router)(nil)
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestParseWithAndWithoutHeader(t *testing.T) {
	plain, err := parse(strings.NewReader("1,2\n3,4\n5,6\n"))
	require.NoError(t, err)
	r, c := plain.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)

	headed, err := parse(strings.NewReader("a,b\n1,2\n3,4\n5,6\n"))
	require.NoError(t, err)
	assert.True(t, mat.Equal(plain, headed))
}

func TestParseRejectsBadRows(t *testing.T) {
	for name, input := range map[string]string{
		"empty":          "",
		"header only":    "a,b\n",
		"text in body":   "1,2\nx,4\n",
		"ragged":         "1,2\n3\n",
		"infinite value": "1,2\n3,+Inf\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parse(strings.NewReader(input))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidDataset)
		})
	}
}

func TestCSVLoaderLoadsDataset(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "toy")
	writeFile(t, dir, "train.csv", "c0,c1\n0.1,0.2\n0.3,0.4\n0.5,0.6\n")
	writeFile(t, dir, "test.csv", "0.1,0.2\n0.9,0.9\n")
	writeFile(t, dir, "labels.csv", "0,0\n1,0\n")

	train, test, labels, err := NewCSVLoader(CSVConfig{DataDir: root}, nil).Load(context.Background(), "toy")
	require.NoError(t, err)
	assert.Equal(t, 3, train.Len())
	assert.Equal(t, 2, train.Features())
	assert.Equal(t, 2, test.Len())
	assert.Equal(t, 1.0, labels.Data.At(1, 0))
	assert.Equal(t, "train", train.Name)
}

func TestCSVLoaderPrefersEntityFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "SMD")
	writeFile(t, dir, "machine-1-2_train.csv", "1\n2\n3\n4\n")
	writeFile(t, dir, "train.csv", "9\n")
	writeFile(t, dir, "test.csv", "1\n2\n")
	writeFile(t, dir, "labels.csv", "0\n1\n")

	train, _, _, err := NewCSVLoader(CSVConfig{DataDir: root}, nil).Load(context.Background(), "SMD")
	require.NoError(t, err)
	assert.Equal(t, 4, train.Len())
	assert.Equal(t, "machine-1-2_train", train.Name)
}

func TestCSVLoaderErrors(t *testing.T) {
	root := t.TempDir()
	loader := NewCSVLoader(CSVConfig{DataDir: root}, nil)

	_, _, _, err := loader.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrDatasetNotFound)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataset))

	dir := filepath.Join(root, "partial")
	writeFile(t, dir, "train.csv", "1,2\n")
	_, _, _, err = loader.Load(context.Background(), "partial")
	assert.ErrorIs(t, err, errors.ErrDatasetNotFound)

	dir = filepath.Join(root, "mismatch")
	writeFile(t, dir, "train.csv", "1,2\n")
	writeFile(t, dir, "test.csv", "1,2,3\n")
	writeFile(t, dir, "labels.csv", "0\n")
	_, _, _, err = loader.Load(context.Background(), "mismatch")
	assert.ErrorIs(t, err, errors.ErrInvalidDataset)

	dir = filepath.Join(root, "short-labels")
	writeFile(t, dir, "train.csv", "1,2\n")
	writeFile(t, dir, "test.csv", "1,2\n3,4\n")
	writeFile(t, dir, "labels.csv", "0,0\n")
	_, _, _, err = loader.Load(context.Background(), "short-labels")
	assert.ErrorIs(t, err, errors.ErrInvalidDataset)
}

func TestLessKeepsMiddleRows(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "toy")
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "0,%d\n", i)
	}
	writeFile(t, dir, "train.csv", b.String())
	writeFile(t, dir, "test.csv", "0,0\n")
	writeFile(t, dir, "labels.csv", "0\n")

	train, _, _, err := NewCSVLoader(CSVConfig{DataDir: root, Less: true}, nil).Load(context.Background(), "toy")
	require.NoError(t, err)
	assert.Equal(t, 4, train.Len())
}

func TestCutMiddle(t *testing.T) {
	data := make([]float64, 10)
	for i := range data {
		data[i] = float64(i)
	}
	m := mat.NewDense(10, 1, data)

	out := CutMiddle(m, 0.2)
	assert.Equal(t, []float64{4, 5}, out.RawMatrix().Data)

	// 2.5 rounds half to even
	out = CutMiddle(m, 0.5)
	r, _ := out.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 3.0, out.At(0, 0))

	tiny := mat.NewDense(2, 1, []float64{1, 2})
	out = CutMiddle(tiny, 0.2)
	r, _ = out.Dims()
	assert.Equal(t, 2, r)
}

func TestSyntheticLoader(t *testing.T) {
	loader, err := NewSyntheticLoader(DefaultSyntheticConfig())
	require.NoError(t, err)

	train, test, labels, err := loader.Load(context.Background(), "synthetic")
	require.NoError(t, err)
	assert.Equal(t, 100, train.Len())
	assert.Equal(t, 3, test.Features())
	assert.Equal(t, 10.0, test.Data.At(50, 1))
	assert.Equal(t, 1.0, labels.Data.At(50, 2))
	assert.Equal(t, 0.0, labels.Data.At(49, 0))

	_, err = NewSyntheticLoader(SyntheticConfig{Rows: 10, Features: 1, Spikes: []int{10}})
	assert.Error(t, err)
	_, err = NewSyntheticLoader(SyntheticConfig{Rows: 0, Features: 1})
	assert.Error(t, err)
}

func TestRouterServesSyntheticAndCSV(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "toy"), "train.csv", "1,2\n3,4\n")
	writeFile(t, filepath.Join(root, "toy"), "test.csv", "1,2\n")
	writeFile(t, filepath.Join(root, "toy"), "labels.csv", "0\n")
	router := NewRouter(CSVConfig{DataDir: root}, nil)

	train, _, _, err := router.Load(context.Background(), SyntheticName)
	require.NoError(t, err)
	assert.Equal(t, 100, train.Len())

	train, _, _, err = router.Load(context.Background(), "toy")
	require.NoError(t, err)
	assert.Equal(t, 2, train.Len())
}

func TestExportSyntheticReloadsAsCSV(t *testing.T) {
	config := DefaultSyntheticConfig()
	config.Rows = 40
	config.Spikes = []int{7}
	synthetic, err := NewSyntheticLoader(config)
	require.NoError(t, err)

	dir := t.TempDir()
	folder, err := Export(context.Background(), synthetic, SyntheticName, dir, "toy")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "toy"), folder)

	want, wantTest, wantLabels, err := synthetic.Load(context.Background(), SyntheticName)
	require.NoError(t, err)

	train, test, labels, err := NewCSVLoader(CSVConfig{DataDir: dir}, nil).Load(context.Background(), "toy")
	require.NoError(t, err)
	assert.True(t, mat.Equal(want.Data, train.Data))
	assert.True(t, mat.Equal(wantTest.Data, test.Data))
	assert.True(t, mat.Equal(wantLabels.Data, labels.Data))
	assert.Equal(t, 1.0, labels.Data.At(7, 0))
}
