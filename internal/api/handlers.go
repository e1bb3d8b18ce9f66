package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sklad/internal/property"

	"github.com/gin-gonic/gin"
)

func ferr(code, field, msg string) property.FieldError {
	return property.Ferr(code, field, msg)
}

// readExpectedVersion достаёт ожидаемую версию из If-Match либо из
// body.version (и удаляет её из payload).
func readExpectedVersion(c *gin.Context, obj map[string]any) (int64, bool) {
	if im := strings.Trim(c.GetHeader("If-Match"), `" `); im != "" {
		if n, err := strconv.ParseInt(im, 10, 64); err == nil {
			delete(obj, "version")
			return n, true
		}
	}
	if v, ok := obj["version"]; ok {
		delete(obj, "version")
		switch t := v.(type) {
		case float64:
			return int64(t), true
		case int64:
			return t, true
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// stripSystem убирает служебные поля из payload.
func stripSystem(obj map[string]any) {
	delete(obj, "created_at")
	delete(obj, "updated_at")
}

// POST /api/:module/:entity
func CreateHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, sch, ok := storage.Lookup(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		stripSystem(obj)
		delete(obj, "version")

		// клиент может принести свой id (реплей оффлайн-очереди);
		// иначе выдаём свой
		id, _ := obj["id"].(string)
		delete(obj, "id")

		// Валидация — БЕЗ write-lock
		if errs := validateRecord(sch, obj); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}
		for _, def := range sch.Properties {
			if def.Unique {
				if v, ok := obj[def.Name]; ok && !storage.uniqueOK(fqn, def.Name, v, "") {
					c.JSON(http.StatusConflict, gin.H{
						"errors": []property.FieldError{ferr(property.ErrUniqueViolation, def.Name,
							"Field '"+def.Name+"' must be unique")},
					})
					return
				}
			}
		}

		// Запись — под write-lock
		storage.mu.Lock()
		if storage.Data[fqn] == nil {
			storage.Data[fqn] = make(map[string]*Record)
		}
		if id == "" {
			id = storage.newID()
		} else if existing := storage.Data[fqn][id]; existing != nil && !existing.Deleted {
			storage.mu.Unlock()
			c.JSON(http.StatusConflict, gin.H{
				"errors": []property.FieldError{ferr(property.ErrUniqueViolation, "id",
					fmt.Sprintf("record %q already exists", id))},
			})
			return
		}

		now := time.Now().UTC()
		rec := &Record{
			ID:        id,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
			Data:      obj,
		}
		storage.Data[fqn][id] = rec
		storage.mu.Unlock()

		c.JSON(http.StatusCreated, flatten(rec))
	}
}

// GET /api/:module/:entity
func ListHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, _, ok := storage.Lookup(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		all := storage.liveRecords(fqn)

		lp := parseListParams(c.Request.URL.Query())
		filtered := filterRecords(all, lp.Filters)
		if len(lp.Sort) > 0 {
			sortRecordsMulti(filtered, lp.Sort, lp.Nulls)
		}

		start := lp.Offset
		if start > len(filtered) {
			start = len(filtered)
		}
		end := start + lp.Limit
		if end > len(filtered) {
			end = len(filtered)
		}
		page := filtered[start:end]

		out := make([]map[string]any, 0, len(page))
		for _, rec := range page {
			out = append(out, flatten(rec))
		}
		c.Header("X-Total-Count", strconv.Itoa(len(filtered)))
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/:module/:entity/:id
func GetOneHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, _, ok := storage.Lookup(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		id := c.Param("id")

		storage.mu.RLock()
		rec := storage.Data[fqn][id]
		storage.mu.RUnlock()
		if rec == nil || rec.Deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		c.Header("ETag", fmt.Sprintf(`"%d"`, rec.Version))
		c.JSON(http.StatusOK, flatten(rec))
	}
}

// PUT /api/:module/:entity/:id
func UpdateHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, sch, ok := storage.Lookup(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		id := c.Param("id")

		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		// ожидаемую версию берём ДО того, как уберём служебные поля
		expVer, okExp := readExpectedVersion(c, obj)
		stripSystem(obj)
		delete(obj, "id")

		if errs := validateRecord(sch, obj); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}

		// читаем текущую версию под RLock
		storage.mu.RLock()
		rec := storage.Data[fqn][id]
		curVer := int64(0)
		if rec != nil && !rec.Deleted {
			curVer = rec.Version
		}
		storage.mu.RUnlock()
		if rec == nil || rec.Deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}

		if !okExp || expVer != curVer {
			c.JSON(http.StatusConflict, gin.H{
				"errors": []property.FieldError{ferr(property.ErrVersionConflict, "version",
					fmt.Sprintf("expected version %d", curVer))},
			})
			return
		}

		// применяем под write-lock с повторной проверкой версии (на случай гонки)
		now := time.Now().UTC()
		storage.mu.Lock()
		rec2 := storage.Data[fqn][id]
		if rec2 == nil || rec2.Deleted {
			storage.mu.Unlock()
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		if rec2.Version != curVer {
			storage.mu.Unlock()
			c.JSON(http.StatusConflict, gin.H{
				"errors": []property.FieldError{ferr(property.ErrVersionConflict, "version",
					fmt.Sprintf("expected version %d", rec2.Version))},
			})
			return
		}
		rec2.Data = obj
		rec2.Version++
		rec2.UpdatedAt = now
		storage.mu.Unlock()

		c.JSON(http.StatusOK, flatten(rec2))
	}
}

// DELETE /api/:module/:entity/:id  (soft delete)
func DeleteHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, _, ok := storage.Lookup(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		id := c.Param("id")

		storage.mu.Lock()
		rec := storage.Data[fqn][id]
		if rec == nil || rec.Deleted {
			storage.mu.Unlock()
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		rec.Deleted = true
		rec.UpdatedAt = time.Now().UTC()
		storage.mu.Unlock()

		c.Status(http.StatusNoContent)
	}
}

// GET /api/:module/:entity/_count
func CountHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		fqn, _, ok := storage.Lookup(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(storage.liveRecords(fqn))})
	}
}
