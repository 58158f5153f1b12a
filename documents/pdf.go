package documents

import (
	"bytes"
	"io"

	"github.com/versafe/versafe/types"
)

// pdfScanCap bounds how much of a file the page counter reads.
const pdfScanCap = 8 << 20

// extractPageCount makes a best-effort pass over a stored PDF for its
// page count. Extraction failures are never fatal to ingest.
func (s *Service) extractPageCount(doc *types.Document) {
	f, err := s.cfg.Storage.Open(doc.StorageRef)
	if err != nil {
		log.WithError(err).WithField("document", doc.ID).Debug("Could not open PDF for page count")
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Debug("Could not close stored file")
		}
	}()
	data, err := io.ReadAll(io.LimitReader(f, pdfScanCap))
	if err != nil {
		log.WithError(err).WithField("document", doc.ID).Debug("Could not read PDF for page count")
		return
	}
	doc.PageCount = countPDFPages(data)
}

// countPDFPages counts page object markers. Both "/Type /Page" and
// "/Type/Page" spellings occur in the wild; "/Pages" tree nodes are
// excluded.
func countPDFPages(data []byte) int {
	count := 0
	for _, marker := range [][]byte{[]byte("/Type /Page"), []byte("/Type/Page")} {
		pages := append(append([]byte{}, marker...), 's')
		count += bytes.Count(data, marker) - bytes.Count(data, pages)
	}
	if count < 0 {
		return 0
	}
	return count
}
