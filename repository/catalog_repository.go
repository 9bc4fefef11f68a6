package repository

import (
	"context"

	"StemForge/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository 曲目目录数据访问接口
type CatalogRepository interface {
	Upsert(ctx context.Context, entry *model.CatalogEntry) error
	GetByName(ctx context.Context, name string) (*model.CatalogEntry, error)
	List(ctx context.Context, limit, offset int) ([]*model.CatalogEntry, error)
	CountNormalized(ctx context.Context) (int64, error)
}

// gormCatalogRepository GORM 实现
type gormCatalogRepository struct {
	db *gorm.DB
}

// NewGormCatalogRepository 创建 GORM 曲目目录仓库
func NewGormCatalogRepository(db *gorm.DB) CatalogRepository {
	return &gormCatalogRepository{db: db}
}

// Upsert 插入或更新目录行，以 name 为主键
func (r *gormCatalogRepository) Upsert(ctx context.Context, entry *model.CatalogEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"uuid", "source_path", "source_rel_path", "output_dir",
				"stem_count", "rendered_count", "normalized", "overall_gain", "updated_at",
			}),
		}).
		Create(entry).Error
}

// GetByName 根据目录名获取
func (r *gormCatalogRepository) GetByName(ctx context.Context, name string) (*model.CatalogEntry, error) {
	var entry model.CatalogEntry
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// List 分页列出目录
func (r *gormCatalogRepository) List(ctx context.Context, limit, offset int) ([]*model.CatalogEntry, error) {
	var entries []*model.CatalogEntry
	err := r.db.WithContext(ctx).
		Order("name ASC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// CountNormalized 统计已完成混音的曲目数
func (r *gormCatalogRepository) CountNormalized(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.CatalogEntry{}).
		Where("normalized = ?", true).
		Count(&count).Error
	return count, err
}
