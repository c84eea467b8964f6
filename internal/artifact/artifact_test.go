package artifact

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/mtgsql/mtgsql/internal/errors"
)

const pricesDoc = `{"data":{"X":{"paper":{}}}}`

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func gzipBytes(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func xzBytes(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, s string) []byte {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll([]byte(s), nil)
}

func readAll(t *testing.T, path string) string {
	t.Helper()
	rc, err := Open(path)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestOpen_Codecs(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]byte{
		"plain.json":      []byte(pricesDoc),
		"prices.json.gz":  gzipBytes(t, pricesDoc),
		"prices.json.xz":  xzBytes(t, pricesDoc),
		"prices.json.zst": zstdBytes(t, pricesDoc),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name)
			writeFile(t, p, data)
			assert.Equal(t, pricesDoc, readAll(t, p))
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeArtifactNotFound))

	bad := filepath.Join(dir, "bad.json.gz")
	writeFile(t, bad, []byte("not gzip"))
	_, err = Open(bad)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCategoryArtifact, errors.GetCategory(err))
}

func TestResolve_PrefersPlainThenCompressed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "AllPrices.json.xz"), xzBytes(t, pricesDoc))

	p, err := Resolve(dir, "AllPrices.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "AllPrices.json.xz"), p)

	writeFile(t, filepath.Join(dir, "AllPrices.json"), []byte(pricesDoc))
	p, err = Resolve(dir, "AllPrices.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "AllPrices.json"), p)

	_, err = Resolve(dir, "parquet/cards.parquet")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeArtifactNotFound))
	assert.Equal(t, "parquet/cards.parquet", errors.GetDetail(err, "artifact"))
}

func TestReadMeta(t *testing.T) {
	m, err := ReadMeta(strings.NewReader(`{"meta":{"version":"old"},"data":{"version":"5.2.2+20240101","date":"2024-01-01"}}`))
	require.NoError(t, err)
	assert.Equal(t, Meta{Version: "5.2.2+20240101", Date: "2024-01-01"}, m)

	m, err = ReadMeta(strings.NewReader(`{"meta":{"version":"5.2.1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "5.2.1", m.Version)

	_, err = ReadMeta(strings.NewReader(`{"data":{}}`))
	assert.Error(t, err)
	_, err = ReadMeta(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cards.parquet")

	missing := Fingerprint("v1", p)
	writeFile(t, p, []byte("abc"))
	present := Fingerprint("v1", p)
	assert.NotEqual(t, missing, present)
	assert.Equal(t, present, Fingerprint("v1", p))
	assert.NotEqual(t, present, Fingerprint("v2", p))

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))
	assert.NotEqual(t, present, Fingerprint("v1", p))
	assert.Len(t, present, 16)
}

func TestLocalDir_VersionAndRefresh(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, MetaFile), []byte(`{"data":{"version":"5.2.2+20240101"}}`))
	writeFile(t, filepath.Join(dir, "parquet", "cards.parquet"), []byte("x"))

	ctx := context.Background()
	src, err := NewLocalDir(dir)
	require.NoError(t, err)

	v, err := src.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5.2.2+20240101", v)

	refresh, err := src.RefreshAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, refresh)

	// version.txt takes precedence over Meta.json
	writeFile(t, filepath.Join(dir, VersionFile), []byte("5.2.2+20240102\n"))
	refresh, err = src.RefreshAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, refresh)

	fp1, err := src.Fingerprint(ctx, "parquet/cards.parquet")
	require.NoError(t, err)
	require.NoError(t, src.Acknowledge(ctx))
	v, _ = src.Version(ctx)
	assert.Equal(t, "5.2.2+20240102", v)
	fp2, err := src.Fingerprint(ctx, "parquet/cards.parquet")
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2)

	refresh, _ = src.RefreshAvailable(ctx)
	assert.False(t, refresh)

	p, err := src.Path(ctx, "parquet/cards.parquet")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "parquet", "cards.parquet"), p)
}

func TestLocalDir_Missing(t *testing.T) {
	_, err := NewLocalDir(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeArtifactNotFound))
}
