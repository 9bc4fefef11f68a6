package model

import "time"

// CatalogEntry 是 track_catalog 表中的一行，镜像 metadata.yaml 的摘要
type CatalogEntry struct {
	Name          string    `json:"name" gorm:"primaryKey;size:16"`
	UUID          string    `json:"uuid" gorm:"size:36;uniqueIndex;not null"`
	SourcePath    string    `json:"sourcePath" gorm:"size:1024"`
	SourceRelPath string    `json:"sourceRelPath" gorm:"size:1024"`
	OutputDir     string    `json:"outputDir" gorm:"size:1024;not null"`
	StemCount     int       `json:"stemCount" gorm:"default:0"`
	RenderedCount int       `json:"renderedCount" gorm:"default:0"`
	Normalized    bool      `json:"normalized" gorm:"default:false;index"`
	OverallGain   float64   `json:"overallGain"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (CatalogEntry) TableName() string {
	return "track_catalog"
}

// NewCatalogEntry summarizes a track record.
func NewCatalogEntry(t *TrackRecord) *CatalogEntry {
	e := &CatalogEntry{
		Name:          t.Name,
		UUID:          t.UUID,
		SourcePath:    t.SourcePath,
		SourceRelPath: t.SourceRelPath,
		OutputDir:     t.OutputDir,
		StemCount:     len(t.Stems),
		RenderedCount: t.RenderedCount(),
		Normalized:    t.Normalized(),
	}
	if t.Mixture != nil {
		e.OverallGain = t.Mixture.OverallGain
	}
	return e
}
