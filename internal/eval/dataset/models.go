package dataset

import (
	"path/filepath"
	"strings"
)

// ShelfRecord is one labeled shelf photo: the image and the books a
// librarian read off the spines.
type ShelfRecord struct {
	ID        string         `json:"id" parquet:"id"`
	ImagePath string         `json:"image_path" parquet:"image_path"` // local path or http(s) URL
	Location  string         `json:"location,omitempty" parquet:"location,optional"`
	Books     []ExpectedBook `json:"books" parquet:"books,list"`
}

// ExpectedBook is a ground-truth spine.
type ExpectedBook struct {
	Title  string `json:"title" parquet:"title"`
	Author string `json:"author,omitempty" parquet:"author,optional"`
	ISBN   string `json:"isbn,omitempty" parquet:"isbn,optional"`
}

// IsRemote reports whether the image has to be downloaded.
func (r *ShelfRecord) IsRemote() bool {
	return strings.HasPrefix(r.ImagePath, "http://") || strings.HasPrefix(r.ImagePath, "https://")
}

// ResolveImage returns the image location, joining relative paths onto baseDir.
func (r *ShelfRecord) ResolveImage(baseDir string) string {
	if r.IsRemote() || r.ImagePath == "" || filepath.IsAbs(r.ImagePath) {
		return r.ImagePath
	}
	return filepath.Join(baseDir, r.ImagePath)
}

// Titles lists the non-empty expected titles.
func (r *ShelfRecord) Titles() []string {
	out := make([]string, 0, len(r.Books))
	for _, b := range r.Books {
		if t := strings.TrimSpace(b.Title); t != "" {
			out = append(out, t)
		}
	}
	return out
}
