package property

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sklad/internal/schema"
)

// Форматы дат, в которых принимаем сырые значения.
const (
	DateLayout = "2006-01-02"
)

var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	DateLayout,
}

// Parse приводит сырое значение к типизированному. Функция тотальна:
// nil → nil, мусор → nil, паники нет. Несовпадение типа — забота
// валидации (SetValue), не парсера.
func Parse(def schema.PropertyDef, raw any) any {
	if raw == nil {
		return nil
	}
	// временный идентификатор строковый по определению и живёт до
	// подтверждения хранилищем: пропускаем его сквозь любой тип,
	// промоушен (markSaved) снимет префикс и распарсит тело
	if s, ok := raw.(string); ok && strings.HasPrefix(s, TempIDPrefix) {
		return s
	}
	switch def.Type {
	case schema.TypeString, schema.TypeEnum, schema.TypeULID:
		return parseString(raw)
	case schema.TypeInt:
		return parseInt(raw)
	case schema.TypeFloat:
		return parseFloat(raw)
	case schema.TypeCurrency:
		f := parseFloat(raw)
		if f == nil {
			return nil
		}
		// деньги держим с точностью до сотых
		return math.Round(f.(float64)*100) / 100
	case schema.TypeBool:
		return parseBool(raw)
	case schema.TypeDate:
		t := parseTime(raw)
		if t == nil {
			return nil
		}
		tt := t.(time.Time)
		return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
	case schema.TypeDatetime:
		return parseTime(raw)
	case schema.TypeJSON:
		return parseJSON(raw)
	default:
		return nil
	}
}

func parseString(raw any) any {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", v)
	case fmt.Stringer:
		return v.String()
	default:
		return nil
	}
}

func parseInt(raw any) any {
	switch v := raw.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		// json-числа приходят как float64; дробные не коэрсим молча
		if v == math.Trunc(v) {
			return int64(v)
		}
		return nil
	case float32:
		return parseInt(float64(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		return nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return nil
	default:
		return nil
	}
}

func parseFloat(raw any) any {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}

func parseBool(raw any) any {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
		return nil
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return nil
	}
}

func parseTime(raw any) any {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC()
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return nil
	default:
		return nil
	}
}

// parseJSON канонизирует значение через marshal/unmarshal round-trip,
// чтобы структурное сравнение не зависело от исходных типов.
func parseJSON(raw any) any {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		data = b
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
