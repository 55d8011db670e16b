package models

import "gorm.io/gorm"

// Textbook is a retrieval-capable knowledge source. Rows are created by the
// offline ingest command and are read-only from the pipeline's perspective.
type Textbook struct {
	gorm.Model
	Title           string `gorm:"size:300;uniqueIndex;not null" json:"title"`
	Author          string `gorm:"size:200;not null" json:"author"`
	Description     string `gorm:"type:text" json:"description"`
	VectorIndexPath string `gorm:"size:500;not null" json:"-"`
	TextFilePath    string `gorm:"size:500" json:"-"`
}
