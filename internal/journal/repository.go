/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package journal

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// DefaultPageSize applies when a filter gives no page size
const DefaultPageSize = 50

// ErrRecordNameEmpty is returned when a record has no process name
var ErrRecordNameEmpty = errors.New("journal: record name is empty")

// Repository provides data access operations for transition records.
// Repository 提供状态变化记录的数据访问操作。
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository instance.
// NewRepository 创建一个新的 Repository 实例。
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the journal table
// Migrate 创建或更新历史记录表
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Record{})
}

// Create inserts one record
// Create 插入一条记录
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	if rec.Name == "" {
		return ErrRecordNameEmpty
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// CreateBatch inserts records in one transaction
// CreateBatch 在一个事务中批量插入记录
func (r *Repository) CreateBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	for _, rec := range recs {
		if rec.Name == "" {
			return ErrRecordNameEmpty
		}
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(recs, len(recs)).Error
	})
}

// List retrieves records with filtering and pagination, newest first.
// List 获取带过滤和分页的记录列表，按时间倒序。
func (r *Repository) List(ctx context.Context, filter *Filter) ([]*Record, int64, error) {
	if filter == nil {
		filter = &Filter{}
	}
	var records []*Record
	var total int64

	query := r.db.WithContext(ctx).Model(&Record{})

	// Apply filters / 应用过滤条件
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.ToState != "" {
		query = query.Where("to_state = ?", filter.ToState)
	}
	if filter.StartTime != nil {
		query = query.Where("occurred_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("occurred_at <= ?", filter.EndTime)
	}

	// Count total / 统计总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination / 应用分页
	page, pageSize := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	query = query.Offset((page - 1) * pageSize).Limit(pageSize)

	// Ties on occurred_at keep insert order / 发生时间相同时按写入顺序
	if err := query.Order("occurred_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Prune deletes records older than before and returns how many were removed
// Prune 删除早于 before 的记录并返回删除数量
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("occurred_at < ?", before).Delete(&Record{})
	return res.RowsAffected, res.Error
}
