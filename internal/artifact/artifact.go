// Package artifact locates the raw dataset files views are built from and
// tracks which published dataset version a session has acknowledged.
package artifact

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/xxh3"

	"github.com/mtgsql/mtgsql/internal/errors"
)

// Source provides local paths to raw artifacts.
type Source interface {
	// Path returns a readable local path for the named artifact, fetching
	// it first if the source is remote.
	Path(ctx context.Context, name string) (string, error)

	// Version returns the acknowledged dataset version.
	Version(ctx context.Context) (string, error)

	// Fingerprint identifies the current content of the named artifact.
	Fingerprint(ctx context.Context, name string) (string, error)

	// RefreshAvailable reports whether a newer dataset version exists.
	RefreshAvailable(ctx context.Context) (bool, error)

	// Acknowledge makes the newest dataset version the current one.
	Acknowledge(ctx context.Context) error
}

// MetaFile is the dataset's metadata document.
const MetaFile = "Meta.json"

// VersionFile records the acknowledged version in a local directory.
const VersionFile = "version.txt"

// DefaultFiles maps view names to artifact paths relative to the dataset root.
var DefaultFiles = map[string]string{
	"cards":                       "parquet/cards.parquet",
	"tokens":                      "parquet/tokens.parquet",
	"sets":                        "parquet/sets.parquet",
	"card_identifiers":            "parquet/cardIdentifiers.parquet",
	"card_legalities":             "parquet/cardLegalities.parquet",
	"card_foreign_data":           "parquet/cardForeignData.parquet",
	"card_rulings":                "parquet/cardRulings.parquet",
	"card_purchase_urls":          "parquet/cardPurchaseUrls.parquet",
	"set_translations":            "parquet/setTranslations.parquet",
	"token_identifiers":           "parquet/tokenIdentifiers.parquet",
	"set_booster_content_weights": "parquet/setBoosterContentWeights.parquet",
	"set_booster_contents":        "parquet/setBoosterContents.parquet",
	"set_booster_sheet_cards":     "parquet/setBoosterSheetCards.parquet",
	"set_booster_sheets":          "parquet/setBoosterSheets.parquet",
	"tcgplayer_skus":              "parquet/TcgplayerSkus.parquet",
	"all_prices_today":            "AllPricesToday.json",
	"all_prices":                  "AllPrices.json",
}

// compressedSuffixes are tried, in order, after the plain name.
var compressedSuffixes = []string{".gz", ".xz", ".zst"}

// Candidates lists the paths an artifact may be published under.
func Candidates(name string) []string {
	out := []string{name}
	for _, s := range compressedSuffixes {
		out = append(out, name+s)
	}
	return out
}

// Resolve finds the named artifact under dir, accepting a compressed
// variant when the plain file is missing.
func Resolve(dir, name string) (string, error) {
	for _, c := range Candidates(name) {
		p := filepath.Join(dir, filepath.FromSlash(c))
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", errors.NewArtifactError(errors.CodeArtifactNotFound,
		fmt.Sprintf("artifact %s not found in %s", name, dir), nil).
		WithDetails(map[string]interface{}{"artifact": name})
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

// Open returns a reader over the decompressed content of path. The codec
// is chosen by extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewArtifactError(errors.CodeArtifactNotFound, "open "+path, err)
		}
		return nil, errors.NewArtifactError(errors.CodeUnexpected, "open "+path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, errors.NewArtifactError(errors.CodeUnexpected, "gzip "+path, err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case ".xz":
		xr, err := xz.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, errors.NewArtifactError(errors.CodeUnexpected, "xz "+path, err)
		}
		return &readCloser{Reader: xr, closers: []io.Closer{f}}, nil
	case ".zst":
		zr, err := zstd.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, errors.NewArtifactError(errors.CodeUnexpected, "zstd "+path, err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zstdCloser{zr}, f}}, nil
	default:
		return f, nil
	}
}

// Meta is the version record of a published dataset.
type Meta struct {
	Version string `json:"version"`
	Date    string `json:"date"`
}

// ReadMeta decodes a Meta.json document. The record is read from "data"
// and falls back to "meta".
func ReadMeta(r io.Reader) (Meta, error) {
	var doc struct {
		Data *Meta `json:"data"`
		Meta *Meta `json:"meta"`
	}
	if err := jsoniter.NewDecoder(r).Decode(&doc); err != nil {
		return Meta{}, errors.NewArtifactError(errors.CodeUnexpected, "decode "+MetaFile, err)
	}
	for _, m := range []*Meta{doc.Data, doc.Meta} {
		if m != nil && m.Version != "" {
			return *m, nil
		}
	}
	return Meta{}, errors.NewArtifactError(errors.CodeUnexpected, MetaFile+" carries no version", nil)
}

// ReadMetaFile reads a Meta.json document from disk.
func ReadMetaFile(path string) (Meta, error) {
	rc, err := Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer rc.Close()
	return ReadMeta(rc)
}

// Fingerprint hashes the identity of an artifact file: dataset version,
// path, size and modification time. A missing file hashes version and path.
func Fingerprint(version, path string) string {
	parts := []string{version, path}
	if info, err := os.Stat(path); err == nil {
		parts = append(parts, fmt.Sprint(info.Size()), fmt.Sprint(info.ModTime().UnixNano()))
	}
	return hashParts(parts...)
}

func hashParts(parts ...string) string {
	h := xxh3.New()
	for _, p := range parts {
		h.WriteString(p)
		h.WriteString("\x00")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
