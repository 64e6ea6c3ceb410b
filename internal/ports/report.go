package ports

import "partcad/internal/types"

type BOMReportPort interface {
	WriteBOM(path string, report types.BOMReport) error
}
