// Package export renders analysis reports from a project's normalized
// snapshot. It never reads the raw form.
package export

import (
	"context"
	"errors"

	"github.com/saffronlab/loom/internal/domain"
)

// Result is a generated report ready for download.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var ErrDependencyMissing = errors.New("export dependency missing")

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Word renders the grounded-theory report as a DOCX document.
func (s *Service) Word(ctx context.Context, project domain.Project) (*Result, error) {
	return exportDOCX(ctx, reportHTML(project))
}
