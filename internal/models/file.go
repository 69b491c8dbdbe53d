package models

import "time"

type FileType string

const (
	TypeFolder FileType = "folder"
	TypeFile   FileType = "file"
	TypeImage  FileType = "image"
)

// RootParentID is the parent id of records stored at the top level.
const RootParentID int64 = 0

// VariantWidths are the widths of the derivatives generated for images.
var VariantWidths = []int{500, 250, 100}

// ParseFileType reports whether s names a known file type.
func ParseFileType(s string) (FileType, bool) {
	switch t := FileType(s); t {
	case TypeFolder, TypeFile, TypeImage:
		return t, true
	default:
		return "", false
	}
}

// IsVariantWidth reports whether width is one of VariantWidths.
func IsVariantWidth(width int) bool {
	for _, w := range VariantWidths {
		if w == width {
			return true
		}
	}
	return false
}

// File is the metadata record of a folder, file or image.
// LocalPath locates the stored object and is never sent to clients.
type File struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	Type      FileType  `json:"type"`
	IsPublic  bool      `json:"isPublic"`
	ParentID  int64     `json:"parentId"`
	LocalPath string    `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// VisibleTo applies the read rule: owner, or anyone when public.
func (f *File) VisibleTo(userID int64) bool {
	return f.IsPublic || (userID > 0 && f.UserID == userID)
}
