package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrNoGeoJSON is returned when an uploaded archive holds no GeoJSON entry.
var ErrNoGeoJSON = errors.New("archive contains no GeoJSON file")

var zipMagic = []byte("PK\x03\x04")

// UnpackUpload returns the GeoJSON payload of an uploaded file. Zip archives
// are searched for their first .geojson or .json entry; anything else is
// returned unchanged. maxBytes bounds the uncompressed size.
func UnpackUpload(data []byte, maxBytes int64) ([]byte, error) {
	if !bytes.HasPrefix(data, zipMagic) {
		return data, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(f.Name))
		if ext != ".geojson" && ext != ".json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		payload, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
		closeErr := rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close %s: %w", f.Name, closeErr)
		}
		if int64(len(payload)) > maxBytes {
			return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxBytes)
		}
		return payload, nil
	}
	return nil, ErrNoGeoJSON
}
