package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BoundaryMeta is the geoBoundaries API record for one country/ADM level.
type BoundaryMeta struct {
	BoundaryID   string `json:"boundaryID"`
	BoundaryName string `json:"boundaryName"`
	BoundaryISO  string `json:"boundaryISO"`
	BoundaryType string `json:"boundaryType"`
	GeoJSONURL   string `json:"gjDownloadURL"`
	ShapefileURL string `json:"staticDownloadLink"`
}

// FetchBoundaryMeta queries the geoBoundaries API for a country's boundary
// set at the given ADM level (e.g. "TGO", "ADM2").
func FetchBoundaryMeta(ctx context.Context, f Fetcher, apiURL, iso3, admLevel string) (*BoundaryMeta, error) {
	reqURL := fmt.Sprintf("%s/%s/%s/",
		strings.TrimRight(apiURL, "/"),
		strings.ToUpper(iso3),
		strings.ToUpper(admLevel),
	)

	body, err := f.Download(ctx, reqURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: query geoBoundaries for %s %s", iso3, admLevel)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read geoBoundaries response")
	}

	var meta BoundaryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, eris.Wrap(err, "fetcher: parse geoBoundaries response")
	}
	if meta.GeoJSONURL == "" {
		return nil, eris.Errorf("fetcher: geoBoundaries has no download for %s %s", iso3, admLevel)
	}
	return &meta, nil
}

// FetchBoundary downloads the boundary GeoJSON for a country/ADM level into
// dataDir and returns the local path. Existing files are reused.
func FetchBoundary(ctx context.Context, f Fetcher, apiURL, iso3, admLevel, dataDir string) (string, error) {
	dest := filepath.Join(dataDir, fmt.Sprintf("%s_%s.geojson",
		strings.ToUpper(iso3), strings.ToUpper(admLevel)))
	if _, err := os.Stat(dest); err == nil {
		zap.L().Info("fetcher: boundary already downloaded", zap.String("path", dest))
		return dest, nil
	}

	meta, err := FetchBoundaryMeta(ctx, f, apiURL, iso3, admLevel)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "fetcher: create %s", dataDir)
	}

	n, err := f.DownloadToFile(ctx, meta.GeoJSONURL, dest)
	if err != nil {
		return "", err
	}

	zap.L().Info("fetcher: boundary downloaded",
		zap.String("country", meta.BoundaryISO),
		zap.String("level", meta.BoundaryType),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}
