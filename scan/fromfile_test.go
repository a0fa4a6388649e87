package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func writeNpy(t *testing.T, m *mat.Dense) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.npy")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, npyio.Write(f, m))
	return path
}

func TestFromFileFiveRows(t *testing.T) {
	m := mat.NewDense(5, 3, []float64{
		0, 0.5, 1.0, // time
		60, 60.5, 61, // az
		50, 50, 50, // el
		1, 1, 0, // az vel
		0, 0, 0, // el vel
	})
	fs, err := FromFile(writeNpy(t, m))
	require.NoError(t, err)

	require.Len(t, fs.Points, 3)
	assert.Equal(t, TrackPoint{Timestamp: 0, Az: 60, El: 50, AzVel: 1}, fs.Points[0])
	assert.Equal(t, TrackPoint{Timestamp: 1.0, Az: 61, El: 50}, fs.Points[2])
	assert.Equal(t, 0.5, fs.StepTime)
	assert.Equal(t, [2]float64{60, 61}, fs.AzRange)
	assert.Equal(t, [2]float64{50, 50}, fs.ElRange)

	// Flag rows absent: all flags default to zero.
	for _, p := range fs.Points {
		assert.Zero(t, p.AzFlag)
		assert.Zero(t, p.ElFlag)
	}
}

func TestFromFileSevenRows(t *testing.T) {
	m := mat.NewDense(7, 2, []float64{
		0, 1,
		60, 61,
		50, 50,
		1, 1,
		0, 0,
		1, 2, // az flags
		0, 1, // el flags
	})
	fs, err := FromFile(writeNpy(t, m))
	require.NoError(t, err)
	require.Len(t, fs.Points, 2)
	assert.Equal(t, 1, fs.Points[0].AzFlag)
	assert.Equal(t, 2, fs.Points[1].AzFlag)
	assert.Equal(t, 1, fs.Points[1].ElFlag)
}

func TestFromFileRejectsBadShape(t *testing.T) {
	m := mat.NewDense(4, 3, []float64{
		0, 1, 2,
		60, 61, 62,
		50, 50, 50,
		1, 1, 1,
	})
	_, err := FromFile(writeNpy(t, m))
	assert.Error(t, err, "4-row array must be rejected")
}

func TestFileScanNext(t *testing.T) {
	fs := &FileScan{Points: []TrackPoint{{Timestamp: 1}, {Timestamp: 2}}}
	pts, ok := fs.Next()
	require.True(t, ok)
	assert.Len(t, pts, 2)
	_, ok = fs.Next()
	assert.False(t, ok, "file scan delivers exactly one batch")
}
