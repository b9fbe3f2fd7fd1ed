package dto

// ── 分页 ──

// PageQuery 单个列表的分页参数
type PageQuery struct {
	Page     int
	PageSize int
}

// NewPageQuery 规范化页码，page 小于 1 时取第一页
func NewPageQuery(page, pageSize int) PageQuery {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return PageQuery{Page: page, PageSize: pageSize}
}

// GetOffset 计算偏移量
func (p PageQuery) GetOffset() int {
	return (p.Page - 1) * p.PageSize
}
