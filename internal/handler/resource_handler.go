package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/crmadmin/internal/dataprovider"
	"github.com/hitoshi/crmadmin/internal/middleware"
	"github.com/hitoshi/crmadmin/internal/model"
	"github.com/hitoshi/crmadmin/internal/record"
)

// DataProviderInterface はリソースハンドラーが必要とするデータ操作のインターフェース。
// dataprovider.Provider が実装する。
type DataProviderInterface interface {
	GetList(ctx context.Context, name string, params dataprovider.ListParams) (*dataprovider.ListResult, error)
	GetOne(ctx context.Context, name, id string) (record.Record, error)
	GetMany(ctx context.Context, name string, ids []string) ([]record.Record, error)
	GetManyReference(ctx context.Context, name string, params dataprovider.ReferenceParams) (*dataprovider.ListResult, error)
	Create(ctx context.Context, name string, data map[string]any) (record.Record, error)
	Update(ctx context.Context, name, id string, data map[string]any) (record.Record, error)
	UpdateMany(ctx context.Context, name string, ids []string, data map[string]any) (*dataprovider.BatchResult, error)
	Delete(ctx context.Context, name, id string, previous record.Record) (record.Record, error)
	DeleteMany(ctx context.Context, name string, ids []string) (*dataprovider.BatchResult, error)
	Duplicate(ctx context.Context, name, id string) (record.Record, error)
	DuplicateCollection(ctx context.Context, name string) (*dataprovider.DuplicateReport, error)
}

// ResourceHandler は /api/{resource} 配下のCRUD操作のHTTPハンドラー。
type ResourceHandler struct {
	provider DataProviderInterface
}

// NewResourceHandler はResourceHandlerを生成する。
func NewResourceHandler(provider DataProviderInterface) *ResourceHandler {
	return &ResourceHandler{provider: provider}
}

// dataResponse は単一レコードのレスポンス。
type dataResponse struct {
	Data record.Record `json:"data"`
}

// manyResponse は複数レコードのレスポンス。
type manyResponse struct {
	Data []record.Record `json:"data"`
}

// List はログイン中ユーザーのレコード一覧を返す。
// GET /api/{resource}?_page=1&_perPage=25&_sort=name&_order=ASC&filter={}
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pagination, err := parsePagination(q.Get("_page"), q.Get("_perPage"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	filter, err := parseFilter(q.Get("filter"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.provider.GetList(r.Context(), resourceName(r), dataprovider.ListParams{
		Pagination: pagination,
		Sort:       dataprovider.Sort{Field: q.Get("_sort"), Order: q.Get("_order")},
		Filter:     filter,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetMany は指定IDのレコードを指定順で返す。
// GET /api/{resource}/many?ids=a,b
func (h *ResourceHandler) GetMany(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	recs, err := h.provider.GetMany(r.Context(), resourceName(r), ids)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manyResponse{Data: recs})
}

// GetManyReference は参照元レコードに紐づくレコード一覧を返す。
// GET /api/{resource}/reference?target=companyId&id=c1
func (h *ResourceHandler) GetManyReference(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pagination, err := parsePagination(q.Get("_page"), q.Get("_perPage"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	filter, err := parseFilter(q.Get("filter"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.provider.GetManyReference(r.Context(), resourceName(r), dataprovider.ReferenceParams{
		Target:     q.Get("target"),
		ID:         q.Get("id"),
		Pagination: pagination,
		Sort:       dataprovider.Sort{Field: q.Get("_sort"), Order: q.Get("_order")},
		Filter:     filter,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetOne は1件のレコードを返す。
// GET /api/{resource}/{id}
func (h *ResourceHandler) GetOne(w http.ResponseWriter, r *http.Request) {
	rec, err := h.provider.GetOne(r.Context(), resourceName(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: rec})
}

// Create はレコードを作成する。
// POST /api/{resource}
func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if !decodeJSONBody(w, r, &data) {
		return
	}

	rec, err := h.provider.Create(r.Context(), resourceName(r), data)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: rec})
}

// Update はレコードを部分更新する。
// PUT /api/{resource}/{id}
func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if !decodeJSONBody(w, r, &data) {
		return
	}

	rec, err := h.provider.Update(r.Context(), resourceName(r), chi.URLParam(r, "id"), data)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: rec})
}

// UpdateMany は複数レコードに同じ変更を適用する。失敗した分は failures に列挙する。
// PUT /api/{resource}?ids=a,b
func (h *ResourceHandler) UpdateMany(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	var data map[string]any
	if !decodeJSONBody(w, r, &data) {
		return
	}

	result, err := h.provider.UpdateMany(r.Context(), resourceName(r), ids, data)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Delete はレコードを削除する。ボディに削除前のデータがあればそのまま返す。
// DELETE /api/{resource}/{id}
func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var previous record.Record
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&previous); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, model.NewInvalidRequestError("ボディをJSONとして読み込めません"))
		return
	}

	rec, err := h.provider.Delete(r.Context(), resourceName(r), chi.URLParam(r, "id"), previous)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: rec})
}

// DeleteMany は複数レコードを削除する。失敗した分は failures に列挙する。
// DELETE /api/{resource}?ids=a,b
func (h *ResourceHandler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.provider.DeleteMany(r.Context(), resourceName(r), ids)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Duplicate はレコードを複製する。
// POST /api/{resource}/{id}/duplicate
func (h *ResourceHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	rec, err := h.provider.Duplicate(r.Context(), resourceName(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: rec})
}

// DuplicateCollection はログイン中ユーザーの全レコードを複製する。
// POST /api/{resource}/duplicate
func (h *ResourceHandler) DuplicateCollection(w http.ResponseWriter, r *http.Request) {
	report, err := h.provider.DuplicateCollection(r.Context(), resourceName(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func resourceName(r *http.Request) string {
	return chi.URLParam(r, "resource")
}

// parseIDs はカンマ区切りのID列を分解する。空要素は無視し、1件も無ければエラー。
func parseIDs(raw string) ([]string, error) {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, model.NewInvalidRequestError("ids が指定されていません")
	}
	return ids, nil
}

// parsePagination は _page と _perPage を読み込む。未指定は0のまま返す。
func parsePagination(page, perPage string) (dataprovider.Pagination, error) {
	var p dataprovider.Pagination
	var err error
	if page != "" {
		if p.Page, err = strconv.Atoi(page); err != nil || p.Page < 1 {
			return p, model.NewInvalidRequestError("_page は1以上の整数で指定してください")
		}
	}
	if perPage != "" {
		if p.PerPage, err = strconv.Atoi(perPage); err != nil || p.PerPage < 1 {
			return p, model.NewInvalidRequestError("_perPage は1以上の整数で指定してください")
		}
	}
	return p, nil
}

// parseFilter は filter パラメータのJSONオブジェクトを読み込む。
func parseFilter(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var filter map[string]any
	if err := json.Unmarshal([]byte(raw), &filter); err != nil {
		return nil, model.NewInvalidRequestError("filter はJSONオブジェクトで指定してください")
	}
	return filter, nil
}
