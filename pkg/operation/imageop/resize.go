package imageop

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/3leaps/gristmill/pkg/operation"
)

func init() {
	operation.Register("resize", newResize)
}

// resizeOp renders each image at a set of target widths, preserving the
// aspect ratio.
type resizeOp struct {
	sizes  []int
	format string
}

var resizeColumns = []string{"sizes_generated"}

// newResize validates params and builds the operation.
//
// Params:
//   - sizes: target widths in pixels (default [256])
//   - format: output extension (default jpg)
func newResize(params operation.Params) (operation.Operation, error) {
	if err := params.Check("sizes", "format"); err != nil {
		return nil, err
	}

	sizes, err := params.Ints("sizes")
	if err != nil {
		return nil, err
	}
	if len(sizes) == 0 {
		sizes = []int{256}
	}
	seen := make(map[int]struct{}, len(sizes))
	for _, s := range sizes {
		if s < 1 {
			return nil, fmt.Errorf("sizes must be positive, got %d", s)
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("duplicate size %d", s)
		}
		seen[s] = struct{}{}
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

	return &resizeOp{sizes: sizes, format: format}, nil
}

func (o *resizeOp) Name() string { return "resize" }

func (o *resizeOp) Columns() []string {
	return append([]string(nil), resizeColumns...)
}

func (o *resizeOp) Process(ctx context.Context, in operation.Input) (*operation.Result, error) {
	src, err := imaging.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	dir := in.WorkDir()
	rendered := make([]string, 0, len(o.sizes))
	for _, size := range o.sizes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img := imaging.Resize(src, size, 0, imaging.Lanczos)
		name := fmt.Sprintf("%s_%d.%s", in.Identity, size, o.format)
		if err := saveImage(img, dir, name); err != nil {
			return nil, err
		}
		rendered = append(rendered, strconv.Itoa(size))
	}

	return &operation.Result{
		OutputDir: dir,
		Fields: map[string]string{
			"sizes_generated": strings.Join(rendered, ","),
		},
	}, nil
}
