package repo

// PageInfo — производные величины пагинации. Инварианты:
// pageEnd - pageStart + 1 == pageTotal; totalPages == ceil(total/pageSize)
// (или 1 при total == 0). pageStart/pageEnd — 1-based.
type PageInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
	PageStart  int `json:"pageStart"`
	PageEnd    int `json:"pageEnd"`
	PageTotal  int `json:"pageTotal"`
}

// CalcPage считает величины пагинации. Правило границы: размер последней
// страницы = total mod pageSize, либо pageSize если остаток нулевой.
func CalcPage(total, page, pageSize int) PageInfo {
	if pageSize <= 0 {
		pageSize = 1
	}
	if total <= 0 {
		return PageInfo{
			Page: 1, PageSize: pageSize,
			Total: 0, TotalPages: 1,
			PageStart: 0, PageEnd: 0, PageTotal: 0,
		}
	}
	totalPages := (total + pageSize - 1) / pageSize
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	pageTotal := pageSize
	if page == totalPages {
		if rem := total % pageSize; rem != 0 {
			pageTotal = rem
		}
	}
	start := (page-1)*pageSize + 1
	return PageInfo{
		Page: page, PageSize: pageSize,
		Total: total, TotalPages: totalPages,
		PageStart: start, PageEnd: start + pageTotal - 1, PageTotal: pageTotal,
	}
}
