package checkpoint

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorgonia/cyclegan/nets"
	"github.com/gorgonia/cyclegan/optim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tiny = nets.GeneratorConfig{Channels: 3, Features: 2, Residuals: 1}

func trainedAdam(t *testing.T, lr float64) *optim.Adam {
	opt := optim.NewAdam(optim.WithLearnRate(lr))
	err := opt.Restore(optim.State{
		LearnRate: lr,
		Beta1:     0.5,
		Beta2:     0.999,
		Epsilon:   1e-8,
		Iter:      3,
		M:         [][]float32{{0.1, 0.2}, {0.3}},
		V:         [][]float32{{0.01, 0.02}, {0.03}},
	})
	require.NoError(t, err)
	return opt
}

func TestSaveLoad(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "genh.ckpt")

	gen := nets.NewGenerator("genH", tiny, rand.New(rand.NewSource(1)))
	opt := trainedAdam(t, 1e-5)
	if err := Save(path, gen, opt); err != nil {
		t.Fatalf("%+v", err)
	}

	restored := nets.NewGenerator("genH", tiny, rand.New(rand.NewSource(2)))
	ropt := optim.NewAdam()
	if err := Load(path, restored, ropt, 2e-4); err != nil {
		t.Fatalf("%+v", err)
	}

	for i, p := range gen.Params() {
		assert.Equal(p.Value.Data(), restored.Params()[i].Value.Data(), "%v", p.Name)
	}
	want := opt.Snapshot()
	want.LearnRate = 2e-4
	if diff := cmp.Diff(want, ropt.Snapshot()); diff != "" {
		t.Errorf("optimizer state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(1e-5, opt.LearnRate, "saving leaves the optimizer untouched")
}

func TestSaveReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gend.ckpt")
	gen := nets.NewGenerator("genD", tiny, rand.New(rand.NewSource(1)))
	opt := optim.NewAdam()

	require.NoError(t, Save(path, gen, opt))
	gen.Params()[0].Value.Data().([]float32)[0] = 42
	require.NoError(t, Save(path, gen, opt))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file is left behind")

	restored := nets.NewGenerator("genD", tiny, rand.New(rand.NewSource(2)))
	require.NoError(t, Load(path, restored, optim.NewAdam(), 1e-3))
	assert.Equal(t, float32(42), restored.Params()[0].Value.Data().([]float32)[0])

	err = Save(filepath.Join(dir, "missing", "gend.ckpt"), gen, opt)
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	gen := nets.NewGenerator("genH", tiny, rand.New(rand.NewSource(1)))
	opt := optim.NewAdam()

	assert.Error(t, Load(filepath.Join(dir, "nope.ckpt"), gen, opt, 1e-3))

	path := filepath.Join(dir, "genh.ckpt")
	require.NoError(t, Save(path, gen, opt))
	other := nets.NewGenerator("genD", tiny, rand.New(rand.NewSource(1)))
	assert.Error(t, Load(path, other, opt, 1e-3))

	garbage := filepath.Join(dir, "garbage.ckpt")
	require.NoError(t, os.WriteFile(garbage, []byte("garbage"), 0644))
	assert.Error(t, Load(garbage, gen, opt, 1e-3))
}
