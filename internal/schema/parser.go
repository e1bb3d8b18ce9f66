package schema

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	entityRe      = regexp.MustCompile(`^entity\s+(\w+):`)
	propRe        = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe        = regexp.MustCompile(`^enum\[(.*)\]$`)
	moduleRe      = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
	reSortersLine = regexp.MustCompile(`^\s*sorters\s*:\s*$`)
)

// splitOptionTokens делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены,
// не рвёт по пробелам внутри кавычек/скобок
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			// разделитель — пробел И ТОЛЬКО если мы не в кавычках и не внутри [...]
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// ParseFile читает один .dsl файл и возвращает список схем.
func ParseFile(path string) ([]*Schema, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var schemas []*Schema
	var current *Schema
	currentModule := ""
	inSorters := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// module ...
		if m := moduleRe.FindStringSubmatch(line); m != nil {
			currentModule = m[1]
			continue
		}

		// entity <Name>:
		if m := entityRe.FindStringSubmatch(line); m != nil {
			// закрыть предыдущую сущность
			if current != nil {
				current.normalize()
				schemas = append(schemas, current)
			}
			current = &Schema{Name: m[1], Module: currentModule}
			inSorters = false
			continue
		}
		if current == nil {
			// игнорируем всё вне сущности
			continue
		}

		// ----- БЛОК SORTERS -----
		if reSortersLine.MatchString(line) {
			inSorters = true
			continue
		}
		if inSorters {
			// строки вида "name" или "-name" — сортировки по умолчанию
			if !strings.Contains(line, ":") {
				name := line
				desc := false
				if strings.HasPrefix(name, "-") {
					desc = true
					name = strings.TrimPrefix(name, "-")
				}
				if name != "" {
					current.Sorters = append(current.Sorters, SorterDef{Property: name, Desc: desc})
				}
				continue
			}
			// любая другая строка — выходим из блока и обработаем её ниже
			inSorters = false
		}

		// Свойства
		if m := propRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			rawType := m[2]
			tail := m[3] // остаток после типа (опции)

			// склейка оборванного enum[...] со скобками
			if strings.HasPrefix(rawType, "enum[") && !strings.Contains(rawType, "]") {
				if idx := strings.Index(tail, "]"); idx >= 0 {
					rawType = rawType + tail[:idx+1]
					tail = tail[idx+1:]
				}
			}

			optsRaw := strings.TrimSpace(tail)
			// срезать комментарий
			if i := strings.IndexByte(optsRaw, '#'); i >= 0 {
				optsRaw = strings.TrimSpace(optsRaw[:i])
			}
			// убрать необязательный префикс "options:"
			if strings.HasPrefix(strings.ToLower(optsRaw), "options:") {
				optsRaw = strings.TrimSpace(optsRaw[len("options:"):])
			}

			def := PropertyDef{
				Name:    name,
				Type:    strings.ToLower(rawType),
				Options: map[string]string{},
			}

			if mm := enumRe.FindStringSubmatch(rawType); mm != nil {
				def.Type = TypeEnum
				inside := strings.TrimSpace(mm[1])
				for _, p := range strings.Split(inside, ",") {
					s := strings.Trim(strings.TrimSpace(p), `"'`)
					if s != "" {
						def.Enum = append(def.Enum, s)
					}
				}
			}

			for _, tok := range splitOptionTokens(optsRaw) {
				tok = strings.TrimSpace(tok)
				if tok == "" {
					continue
				}
				// флаг без значения → "true"
				if !strings.Contains(tok, "=") {
					applyOption(current, &def, strings.ToLower(tok), "true")
					continue
				}
				kv := strings.SplitN(tok, "=", 2)
				k := strings.ToLower(strings.TrimSpace(kv[0]))
				v := strings.TrimSpace(kv[1])
				// снять кавычки, если есть
				if len(v) >= 2 {
					if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
						v = v[1 : len(v)-1]
					}
				}
				if k != "" {
					applyOption(current, &def, k, v)
				}
			}

			current.Properties = append(current.Properties, def)
			continue
		}
	}

	if current != nil {
		current.normalize()
		schemas = append(schemas, current)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return schemas, nil
}

// applyOption раскладывает известные опции по полям PropertyDef,
// остальное складывает в Options как есть.
func applyOption(s *Schema, def *PropertyDef, key, val string) {
	truthy := strings.EqualFold(val, "true")
	switch key {
	case "id":
		if truthy {
			s.IDProperty = def.Name
		}
	case "display":
		if truthy {
			s.DisplayProperty = def.Name
		}
	case "required":
		def.Required = truthy
	case "unique":
		def.Unique = truthy
	case "sortable":
		def.Sortable = truthy
	case "allownull", "allow_null":
		def.AllowNull = truthy
	case "mapping":
		def.Mapping = val
	case "depends":
		for _, d := range strings.Split(val, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				def.Depends = append(def.Depends, d)
			}
		}
	case "default":
		def.Default = val
	case "pattern":
		def.Pattern = val
	default:
		def.Options[key] = val
	}
}

// LoadAll обходит каталог и собирает все схемы из *.dsl файлов.
func LoadAll(root string) (map[string]*Schema, error) {
	result := make(map[string]*Schema)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}

		schemas, err := ParseFile(path)
		if err != nil {
			return err
		}
		for _, s := range schemas {
			fqn := s.FQN()
			if _, exists := result[fqn]; exists {
				return fmt.Errorf("duplicate entity %q in module %q (file: %s)", s.Name, s.Module, path)
			}
			result[fqn] = s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
