package httpdto

// PresignUploadRequest is used for POST /api/attachments/presign
type PresignUploadRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}
