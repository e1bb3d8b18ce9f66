package entity

import "strings"

// ReadMapped идёт по dotted-пути через вложенный объект.
// Любой отсутствующий промежуточный ключ даёт nil, не панику.
func ReadMapped(obj map[string]any, path string) any {
	if obj == nil || path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	cur := any(obj)
	for _, key := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// ReverseMap синтезирует минимальную вложенную форму, которая при чтении
// по тому же пути вернёт v. Используется при реконструкции originalData
// после сохранения.
func ReverseMap(path string, v any) map[string]any {
	parts := strings.Split(path, ".")
	out := map[string]any{}
	cur := out
	for i, key := range parts {
		if i == len(parts)-1 {
			cur[key] = v
			break
		}
		next := map[string]any{}
		cur[key] = next
		cur = next
	}
	return out
}

// DeepMerge вливает src в dst (вложенные map'ы сливаются рекурсивно,
// остальное перетирается). Возвращает dst.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = DeepMerge(dm, sm)
				continue
			}
			dst[k] = DeepMerge(map[string]any{}, sm)
			continue
		}
		dst[k] = sv
	}
	return dst
}
