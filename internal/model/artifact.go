package model

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxArtifactSize bounds how much of an artifact file is decoded.
const maxArtifactSize = 512 << 20

// ReadJSON decodes the JSON artifact at path into v. Files ending in ".gz"
// are gunzipped first.
func ReadJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	dec := json.NewDecoder(io.LimitReader(r, maxArtifactSize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
