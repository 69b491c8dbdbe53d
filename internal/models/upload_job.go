package models

// UploadJob asks the derivative worker to render the variants of an image.
type UploadJob struct {
	UserID int64 `json:"userId"`
	FileID int64 `json:"fileId"`
}
