// Package remote — репозиторный бэкенд поверх record-сервера:
// HTTP-транспорт, reader/writer для wire-формата, оптимистичная
// конкуренция через версии.
package remote

import "encoding/json"

// Reader разбирает сырой payload в плоские записи.
type Reader interface {
	Read(raw []byte) ([]map[string]any, error)
}

// Writer собирает плоские записи в сырой payload.
type Writer interface {
	Write(records []map[string]any) ([]byte, error)
}

// JSONCodec — json-реализация обоих контрактов. Read принимает и массив,
// и одиночный объект (ответы create/update).
type JSONCodec struct{}

func (JSONCodec) Read(raw []byte) ([]map[string]any, error) {
	var val any
	if err := json.Unmarshal(raw, &val); err != nil {
		return nil, err
	}
	switch v := val.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, it := range v {
			if m, ok := it.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case nil:
		return nil, nil
	default:
		return nil, nil
	}
}

func (JSONCodec) Write(records []map[string]any) ([]byte, error) {
	if len(records) == 1 {
		return json.Marshal(records[0])
	}
	return json.Marshal(records)
}
