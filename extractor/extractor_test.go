package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iface "YogaPoseServer/interface"
	"YogaPoseServer/trainer"
)

// The mock reader "decodes" a file by returning its content as the encoded bytes.
func mockRead(path string) (iface.ImageData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return iface.ImageData{}, err
	}
	if string(data) == "corrupt" {
		return iface.ImageData{}, errors.New("imread failed")
	}
	return iface.ImageData{Width: 10, Height: 10, Channels: 3, Encoded: data}, nil
}

type mockEstimator struct{}

func (mockEstimator) Estimate(_ context.Context, img iface.ImageData) (*iface.LandmarkSet, error) {
	switch string(img.Encoded) {
	case "empty":
		return nil, nil
	case "boom":
		return nil, errors.New("forward failed")
	case "panic":
		panic("bad tensor")
	}
	set := &iface.LandmarkSet{}
	for i := 0; i < iface.NumLandmarks; i++ {
		set.Landmarks = append(set.Landmarks, iface.Landmark{X: 0.5, Y: float64(i) / 100, Z: -0.1, Visibility: 0.9})
	}
	return set, nil
}

func (mockEstimator) Close() error { return nil }

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestHeader(t *testing.T) {
	h := Header()
	require.Len(t, h, 1+4*iface.NumLandmarks)
	assert.Equal(t, []string{"label", "x0", "y0", "z0", "v0"}, h[:5])
	assert.Equal(t, "v32", h[len(h)-1])
}

func TestWalk(t *testing.T) {
	root := writeTree(t, map[string]string{
		"Warrior_II/b.JPG":    "ok",
		"Warrior_II/a.png":    "ok",
		"Tree_Pose/1.jpeg":    "ok",
		"Tree_Pose/notes.txt": "skip",
		"stray.jpg":           "skip",
	})
	items, err := Walk(root)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "Tree_Pose", items[0].Label)
	assert.Equal(t, "a.png", filepath.Base(items[1].Path))
	assert.Equal(t, "b.JPG", filepath.Base(items[2].Path))

	_, err = Walk(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestRow(t *testing.T) {
	set := &iface.LandmarkSet{Landmarks: []iface.Landmark{{X: 0.25, Y: 0.5, Z: -1, Visibility: 1}}}
	row := Row("Tree_Pose", set)
	require.Len(t, row, 1+4*iface.NumLandmarks)
	assert.Equal(t, []string{"Tree_Pose", "0.25", "0.5", "-1", "1", "0", "0"}, row[:7])
}

func TestRun(t *testing.T) {
	root := writeTree(t, map[string]string{
		"Tree_Pose/1.jpg":    "ok",
		"Tree_Pose/2.jpg":    "ok",
		"Tree_Pose/3.jpg":    "empty",
		"Warrior_II/1.png":   "ok",
		"Warrior_II/2.png":   "corrupt",
		"Warrior_II/3.png":   "boom",
		"Warrior_II/4.jpeg":  "panic",
		"Downward_Dog/1.jpg": "empty",
	})
	out := filepath.Join(t.TempDir(), "processed", "yoga_keypoints.csv")
	st, err := Run(context.Background(), Options{
		DatasetDir: root,
		OutputPath: out,
		Workers:    3,
		Read:       mockRead,
		Estimator:  mockEstimator{},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{Images: 8, Rows: 3, Unreadable: 1, NoPose: 2, Failed: 2, Labels: 2}, st)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "label,x0,y0,z0,v0,"))
	assert.True(t, strings.HasPrefix(lines[1], "Tree_Pose,0.5,0,-0.1,0.9,"))
	assert.True(t, strings.HasPrefix(lines[3], "Warrior_II,"))

	// the output is directly consumable by the trainer
	d, err := trainer.LoadCSV(out)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 4*iface.NumLandmarks, d.NumFeatures())
}

func TestRunHeaderOnly(t *testing.T) {
	root := writeTree(t, map[string]string{"Tree_Pose/1.jpg": "empty"})
	out := filepath.Join(t.TempDir(), "k.csv")
	st, err := Run(context.Background(), Options{DatasetDir: root, OutputPath: out, Read: mockRead, Estimator: mockEstimator{}})
	require.NoError(t, err)
	assert.Equal(t, 0, st.Rows)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(Header(), ",")+"\n", string(data))
}

func TestRunFailsFast(t *testing.T) {
	out := filepath.Join(t.TempDir(), "k.csv")
	_, err := Run(context.Background(), Options{DatasetDir: "/does/not/exist", OutputPath: out, Read: mockRead, Estimator: mockEstimator{}})
	assert.Error(t, err)
	assert.NoFileExists(t, out)

	_, err = Run(context.Background(), Options{DatasetDir: t.TempDir(), OutputPath: out})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root := writeTree(t, map[string]string{"Tree_Pose/1.jpg": "ok"})
	_, err = Run(ctx, Options{DatasetDir: root, OutputPath: out, Read: mockRead, Estimator: mockEstimator{}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out)
}
