package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func pdfConfiguration() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// extractPDF validates the file and counts pages locally, then hands the
// heavy lifting to the parser sidecar. Structural problems are permanent;
// without a configured sidecar the whole format counts as unsupported.
func (e *Extractor) extractPDF(ctx context.Context, filename string, data []byte) (*Result, error) {
	cfg := pdfConfiguration()
	if err := api.Validate(bytes.NewReader(data), cfg); err != nil {
		return nil, fmt.Errorf("%w: invalid pdf: %v", ErrRejected, err)
	}
	pageCount, err := api.PageCount(bytes.NewReader(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf page count: %v", ErrRejected, err)
	}
	res, err := e.parseRemote(ctx, kindPDF, filename, data)
	if err != nil {
		return nil, err
	}
	res.PageCount = pageCount
	return res, nil
}
