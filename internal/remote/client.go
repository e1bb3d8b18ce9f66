package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"sklad/internal/entity"
	"sklad/internal/property"
	"sklad/internal/repo"
	"sklad/internal/schema"
)

// DefaultPageLimit — сколько записей просим у сервера за один Load.
const DefaultPageLimit = 1000

// Client — бэкенд репозитория поверх HTTP record-API.
//
// Версии записей (оптимистичная конкуренция) живут на клиенте, в
// versions: сущность про них не знает, это транспортная деталь.
type Client struct {
	base  string // например http://host:8080
	sch   *schema.Schema
	hc    *http.Client
	codec JSONCodec
	limit int

	mu       sync.Mutex
	versions map[string]int64 // id -> последняя подтверждённая версия
}

// NewClient создаёт клиента для одной сущности каталога.
func NewClient(base string, sch *schema.Schema, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		base:     strings.TrimRight(base, "/"),
		sch:      sch,
		hc:       hc,
		limit:    DefaultPageLimit,
		versions: make(map[string]int64),
	}
}

var _ repo.Backend = (*Client)(nil)

// NewRepository — репозиторий поверх remote-клиента.
func NewRepository(base string, sch *schema.Schema, hc *http.Client, cfg repo.Config) (*repo.Repository, *Client, error) {
	c := NewClient(base, sch, hc)
	r, err := repo.New(sch, c, cfg)
	if err != nil {
		return nil, nil, err
	}
	return r, c, nil
}

// SetPageLimit меняет размер страницы загрузки.
func (c *Client) SetPageLimit(n int) {
	if n > 0 {
		c.limit = n
	}
}

// Version возвращает известную клиенту версию записи (0 если нет).
func (c *Client) Version(id string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[id]
}

func (c *Client) collectionURL() string {
	return fmt.Sprintf("%s/api/%s/%s", c.base, url.PathEscape(c.sch.Module), url.PathEscape(c.sch.Name))
}

func (c *Client) recordURL(id string) string {
	return c.collectionURL() + "/" + url.PathEscape(id)
}

func (c *Client) rememberVersion(id string, rec map[string]any) {
	v, ok := rec["version"]
	if !ok {
		return
	}
	var n int64
	switch t := v.(type) {
	case float64:
		n = int64(t)
	case int64:
		n = t
	case json.Number:
		n, _ = t.Int64()
	default:
		return
	}
	c.mu.Lock()
	c.versions[id] = n
	c.mu.Unlock()
}

func (c *Client) forgetVersion(id string) {
	c.mu.Lock()
	delete(c.versions, id)
	c.mu.Unlock()
}

// decodeError переводит тело ошибки сервера в property.FieldError, если
// оно в нашем формате {"errors":[...]}.
func decodeError(status int, body []byte) error {
	var payload struct {
		Errors []property.FieldError `json:"errors"`
		Error  string                `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Errors) > 0 {
			return payload.Errors[0]
		}
		if payload.Error != "" {
			if status == http.StatusNotFound {
				return property.Ferr(property.ErrNotFound, "", payload.Error)
			}
			return fmt.Errorf("remote: %s (HTTP %d)", payload.Error, status)
		}
	}
	return fmt.Errorf("remote: HTTP %d", status)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, ifMatch int64) (int, http.Header, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return 0, nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ifMatch > 0 {
		req.Header.Set("If-Match", fmt.Sprintf(`"%d"`, ifMatch))
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, err
	}
	return resp.StatusCode, resp.Header, data, nil
}

// DoLoad забирает полный набор записей и запоминает их версии.
func (c *Client) DoLoad(ctx context.Context) ([]map[string]any, int, error) {
	u := c.collectionURL() + "?_limit=" + strconv.Itoa(c.limit)
	status, hdr, body, err := c.do(ctx, http.MethodGet, u, nil, 0)
	if err != nil {
		return nil, 0, err
	}
	if status != http.StatusOK {
		return nil, 0, decodeError(status, body)
	}
	records, err := c.codec.Read(body)
	if err != nil {
		return nil, 0, err
	}
	total := len(records)
	if tc := hdr.Get("X-Total-Count"); tc != "" {
		if n, err := strconv.Atoi(tc); err == nil {
			total = n
		}
	}
	for _, rec := range records {
		if id, ok := rec["id"].(string); ok {
			c.rememberVersion(id, rec)
		}
	}
	return records, total, nil
}

// DoAdd создаёт записи по одной. Посылаем постоянный id (временный без
// префикса), чтобы реплей очереди не плодил дубликатов при повторе.
func (c *Client) DoAdd(ctx context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		payload := e.SubmitData()
		if id := e.IDString(); id != "" {
			payload["id"] = strings.TrimPrefix(id, property.TempIDPrefix)
		}
		body, err := c.codec.Write([]map[string]any{payload})
		if err != nil {
			return err
		}
		status, _, respBody, err := c.do(ctx, http.MethodPost, c.collectionURL(), body, 0)
		if err != nil {
			return err
		}
		if status != http.StatusCreated {
			return decodeError(status, respBody)
		}
		recs, err := c.codec.Read(respBody)
		if err != nil {
			return fmt.Errorf("remote: bad create response: %w", err)
		}
		if len(recs) == 0 {
			return fmt.Errorf("remote: empty create response")
		}
		rec := recs[0]
		if err := e.MarkSaved(); err != nil {
			return err
		}
		if id, ok := rec["id"].(string); ok && id != "" {
			if id != e.IDString() {
				if err := e.AssignID(id); err != nil {
					return err
				}
			}
			c.rememberVersion(id, rec)
		}
	}
	return nil
}

// DoEdit обновляет записи по одной; версия уходит в If-Match.
func (c *Client) DoEdit(ctx context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		id := e.IDString()
		body, err := c.codec.Write([]map[string]any{e.SubmitData()})
		if err != nil {
			return err
		}
		status, _, respBody, err := c.do(ctx, http.MethodPut, c.recordURL(id), body, c.Version(id))
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return decodeError(status, respBody)
		}
		recs, err := c.codec.Read(respBody)
		if err != nil {
			return fmt.Errorf("remote: bad update response: %w", err)
		}
		if len(recs) == 0 {
			return fmt.Errorf("remote: empty update response")
		}
		c.rememberVersion(id, recs[0])
		if err := e.MarkSaved(); err != nil {
			return err
		}
	}
	return nil
}

// DoDelete удаляет записи по одной. 404 считаем успехом: запись уже
// удалена, реплей идемпотентен.
func (c *Client) DoDelete(ctx context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		id := e.IDString()
		status, _, respBody, err := c.do(ctx, http.MethodDelete, c.recordURL(id), nil, 0)
		if err != nil {
			return err
		}
		if status != http.StatusNoContent && status != http.StatusNotFound {
			return decodeError(status, respBody)
		}
		c.forgetVersion(id)
	}
	return nil
}
