package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP extracts all files from a ZIP archive to the destination directory.
// Returns the list of extracted file paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		path, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}

	return extracted, nil
}

// ExtractShapefile unpacks a zipped shapefile and returns the path of its
// .shp member. The archive must hold exactly one .shp with a .dbf beside it.
func ExtractShapefile(zipPath, destDir string) (string, error) {
	extracted, err := ExtractZIP(zipPath, destDir)
	if err != nil {
		return "", err
	}

	var shp []string
	have := make(map[string]bool, len(extracted))
	for _, p := range extracted {
		have[strings.ToLower(p)] = true
		if strings.EqualFold(filepath.Ext(p), ".shp") {
			shp = append(shp, p)
		}
	}
	if len(shp) != 1 {
		return "", eris.Errorf("zip: expected exactly 1 .shp member, got %d", len(shp))
	}

	dbf := strings.ToLower(strings.TrimSuffix(shp[0], filepath.Ext(shp[0])) + ".dbf")
	if !have[dbf] {
		return "", eris.Errorf("zip: %s has no matching .dbf", filepath.Base(shp[0]))
	}
	return shp[0], nil
}

// extractZIPEntry extracts a single zip.File to the destination directory.
// Returns the extracted file path, or empty string for directories.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	// Sanitize against zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}
