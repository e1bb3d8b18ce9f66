package api

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ==== Типы сортировки и параметров листинга ====

type SortKey struct {
	Field string
	Desc  bool
}

type ListParams struct {
	Limit   int
	Offset  int
	Sort    []SortKey
	Filters map[string][]string
	Nulls   string // "last" (default) | "first"
}

// ==== Парсинг query-параметров ====

func parseListParams(q url.Values) ListParams {
	// limit
	limit := 50
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= 10000 {
			limit = n
		}
	}

	// offset
	offset := 0
	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			offset = n
		}
	}

	// sort: "-last_name,first_name"
	var sortKeys []SortKey
	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("sort"))
	}
	if sv != "" {
		for _, p := range strings.Split(sv, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			desc := false
			if strings.HasPrefix(p, "-") {
				desc = true
				p = strings.TrimPrefix(p, "-")
			} else if strings.HasPrefix(p, "+") {
				p = strings.TrimPrefix(p, "+")
			}
			if p != "" {
				sortKeys = append(sortKeys, SortKey{Field: p, Desc: desc})
			}
		}
	}

	// nulls
	nulls := strings.ToLower(strings.TrimSpace(q.Get("nulls")))
	if nulls != "first" && nulls != "last" {
		nulls = "last"
	}

	// фильтры (исключаем служебные ключи)
	filters := make(map[string][]string)
	for key, vals := range q {
		switch key {
		case "offset", "limit", "sort",
			"_offset", "_limit", "_sort",
			"nulls":
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			filters[key] = clean
		}
	}

	return ListParams{
		Limit:   limit,
		Offset:  offset,
		Sort:    sortKeys,
		Filters: filters,
		Nulls:   nulls,
	}
}

// ==== Фильтрация по равенству ====

func filterRecords(records []*Record, filters map[string][]string) []*Record {
	if len(filters) == 0 {
		return records
	}
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		ok := true
		for field, wants := range filters {
			v, has := r.Data[field]
			if field == "id" {
				v, has = r.ID, true
			}
			matched := false
			if has {
				s := fmt.Sprintf("%v", v)
				for _, w := range wants {
					if s == w {
						matched = true
						break
					}
				}
			}
			if !matched {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// ==== Сортировка с политикой nulls ====

func isNull(v any, ok bool) bool { return !ok || v == nil }

// сравнение двух записей по одному ключу с учётом nullsPolicy и направления
func cmpByKey(a, b *Record, key string, nullsPolicy string, desc bool) int {
	va, oka := a.Data[key]
	vb, okb := b.Data[key]

	na := isNull(va, oka)
	nb := isNull(vb, okb)

	if na && nb {
		return 0
	}
	if na != nb {
		if nullsPolicy == "last" {
			if na {
				return +1 // a=null → в конец при asc
			}
			return -1
		}
		// nulls=first
		if na {
			return -1
		}
		return +1
	}

	// оба не null — сравним строково
	sa := fmt.Sprintf("%v", va)
	sb := fmt.Sprintf("%v", vb)
	rel := 0
	if sa < sb {
		rel = -1
	} else if sa > sb {
		rel = +1
	}
	if desc {
		rel = -rel
	}
	return rel
}

// мультисортировка с учётом nullsPolicy
func sortRecordsMulti(records []*Record, keys []SortKey, nullsPolicy string) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			if k.Field == "" {
				continue
			}
			if c := cmpByKey(records[i], records[j], k.Field, nullsPolicy, k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}
