// Package textop provides the textstat operation: plain-text inputs are
// summarized into word and line counts recorded in the ledger.
package textop

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/3leaps/gristmill/pkg/operation"
)

func init() {
	operation.Register("textstat", newTextStat)
}

// maxLineBytes bounds scanner buffers for files with very long lines.
const maxLineBytes = 4 * 1024 * 1024

type textStatOp struct{}

var textStatColumns = []string{"word_count", "line_count"}

func newTextStat(params operation.Params) (operation.Operation, error) {
	if err := params.Check(); err != nil {
		return nil, err
	}
	return &textStatOp{}, nil
}

func (o *textStatOp) Name() string { return "textstat" }

func (o *textStatOp) Columns() []string {
	return append([]string(nil), textStatColumns...)
}

func (o *textStatOp) Process(ctx context.Context, in operation.Input) (*operation.Result, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	words, lines := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines++
		inWord := false
		for _, r := range scanner.Text() {
			if r == ' ' || r == '\t' {
				inWord = false
				continue
			}
			if !inWord {
				words++
				inWord = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	dir := in.WorkDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	summary := fmt.Sprintf("identity: %s\nwords: %d\nlines: %d\n", in.Identity, words, lines)
	outPath := filepath.Join(dir, in.Identity+"_stats.txt")
	if err := os.WriteFile(outPath, []byte(summary), 0o644); err != nil {
		return nil, fmt.Errorf("write stats: %w", err)
	}

	return &operation.Result{
		OutputDir: dir,
		Fields: map[string]string{
			"word_count": strconv.Itoa(words),
			"line_count": strconv.Itoa(lines),
		},
	}, nil
}
