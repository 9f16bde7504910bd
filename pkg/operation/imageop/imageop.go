// Package imageop provides the image-processing operations: augment
// (training-set style variants) and resize (fixed-width renditions).
//
// Outputs are written with disintegration/imaging; JPEG outputs use
// quality 95.
package imageop

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// jpegQuality matches the quality the pipeline has always published at.
const jpegQuality = 95

// outputFormats lists the extensions operations may be asked to emit.
var outputFormats = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "tif": {}, "tiff": {}, "bmp": {},
}

func checkFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if _, ok := outputFormats[f]; !ok {
		return "", fmt.Errorf("unsupported output format %q", format)
	}
	return f, nil
}

// saveImage writes img under dir, creating the directory on first use.
func saveImage(img image.Image, dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := imaging.Save(img, filepath.Join(dir, name), imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}
