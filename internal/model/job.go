package model

// ImportJob is the queue message that kicks off an import run. Paths are S3
// keys for the case data sheet and the data dictionary CSV.
type ImportJob struct {
	RunID          string            `json:"run_id"`
	SheetPath      string            `json:"sheet_path"`
	DataDictPath   string            `json:"data_dict_path"`
	RequiredOneOfs []string          `json:"required_one_ofs,omitempty"`
	ExtraFields    map[string]string `json:"extra_fields,omitempty"`
}

type ImportRequest struct {
	SheetPath      string            `json:"sheet_path" binding:"required"`
	DataDictPath   string            `json:"data_dict_path" binding:"required"`
	RequiredOneOfs []string          `json:"required_one_ofs"`
	ExtraFields    map[string]string `json:"extra_fields"`
}
