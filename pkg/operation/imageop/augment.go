package imageop

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/3leaps/gristmill/pkg/operation"
)

func init() {
	operation.Register("augment", newAugment)
}

// transformOrder fixes which variants an augment run produces and in what
// order, so re-running an identity always regenerates the same files.
var transformOrder = []string{
	"flip_h",
	"flip_v",
	"rotate90",
	"rotate180",
	"rotate270",
	"brighten",
	"darken",
	"contrast_up",
	"contrast_down",
	"grayscale",
	"blur",
	"sharpen",
}

func applyTransform(name string, img image.Image) (image.Image, error) {
	switch name {
	case "flip_h":
		return imaging.FlipH(img), nil
	case "flip_v":
		return imaging.FlipV(img), nil
	case "rotate90":
		return imaging.Rotate90(img), nil
	case "rotate180":
		return imaging.Rotate180(img), nil
	case "rotate270":
		return imaging.Rotate270(img), nil
	case "brighten":
		return imaging.AdjustBrightness(img, 20), nil
	case "darken":
		return imaging.AdjustBrightness(img, -20), nil
	case "contrast_up":
		return imaging.AdjustContrast(img, 20), nil
	case "contrast_down":
		return imaging.AdjustContrast(img, -20), nil
	case "grayscale":
		return imaging.Grayscale(img), nil
	case "blur":
		return imaging.Blur(img, 1.5), nil
	case "sharpen":
		return imaging.Sharpen(img, 1.5), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

// augmentOp produces per-image variant sets for dataset augmentation.
type augmentOp struct {
	transforms []string
	format     string
}

var augmentColumns = []string{"samples_generated", "transforms"}

// newAugment validates params and builds the operation.
//
// Params:
//   - samples: number of variants per image (default 4, max 12)
//   - transforms: explicit variant list, overrides samples
//   - format: output extension (default jpg)
func newAugment(params operation.Params) (operation.Operation, error) {
	if err := params.Check("samples", "transforms", "format"); err != nil {
		return nil, err
	}

	transforms, err := params.Strings("transforms")
	if err != nil {
		return nil, err
	}
	if len(transforms) > 0 {
		for _, t := range transforms {
			found := false
			for _, known := range transformOrder {
				if t == known {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("unknown transform %q (available: %s)", t, strings.Join(transformOrder, ", "))
			}
		}
	} else {
		samples, err := params.Int("samples", 4)
		if err != nil {
			return nil, err
		}
		if samples < 1 {
			return nil, fmt.Errorf("samples must be >= 1")
		}
		if samples > len(transformOrder) {
			return nil, fmt.Errorf("samples must be <= %d", len(transformOrder))
		}
		transforms = transformOrder[:samples]
	}

	format := "jpg"
	if v, ok := params["format"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("param \"format\": expected string, got %T", v)
		}
		format, err = checkFormat(s)
		if err != nil {
			return nil, err
		}
	}

	return &augmentOp{transforms: transforms, format: format}, nil
}

func (o *augmentOp) Name() string { return "augment" }

func (o *augmentOp) Columns() []string {
	return append([]string(nil), augmentColumns...)
}

func (o *augmentOp) Process(ctx context.Context, in operation.Input) (*operation.Result, error) {
	src, err := imaging.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	dir := in.WorkDir()
	for _, t := range o.transforms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := applyTransform(t, src)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s_%s.%s", in.Identity, t, o.format)
		if err := saveImage(img, dir, name); err != nil {
			return nil, err
		}
	}

	return &operation.Result{
		OutputDir: dir,
		Fields: map[string]string{
			"samples_generated": strconv.Itoa(len(o.transforms)),
			"transforms":        strings.Join(o.transforms, ","),
		},
	}, nil
}
