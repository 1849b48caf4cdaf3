package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"clipmind/internal/db"
	"clipmind/internal/search"
)

const maxLimit = 1000

// ItemView is the JSON shape of an item. Text payloads travel as Content,
// binary payloads (images, ciphertext) as ContentBase64 via []byte encoding.
type ItemView struct {
	ID            int64             `json:"id"`
	ContentType   db.ContentType    `json:"content_type"`
	Content       *string           `json:"content,omitempty"`
	ContentBase64 []byte            `json:"content_base64,omitempty"`
	OCRText       *string           `json:"ocr_text,omitempty"`
	CodeLanguage  *string           `json:"code_language,omitempty"`
	SourceApp     string            `json:"source_app"`
	WindowTitle   *string           `json:"window_title,omitempty"`
	Timestamp     int64             `json:"timestamp"`
	IsPassword    bool              `json:"is_password"`
	IsEncrypted   bool              `json:"is_encrypted"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewItemView renders it for clients. Encrypted content is withheld.
func NewItemView(it *db.Item) ItemView {
	v := ItemView{
		ID:           it.ID,
		ContentType:  it.ContentType,
		OCRText:      it.OCRText,
		CodeLanguage: it.CodeLanguage,
		SourceApp:    it.SourceApp,
		WindowTitle:  it.WindowTitle,
		Timestamp:    it.Timestamp,
		IsPassword:   it.IsPassword,
		IsEncrypted:  it.IsEncrypted,
		Metadata:     it.Metadata,
	}
	switch {
	case it.IsEncrypted:
	case it.ContentType == db.TypeImage || !utf8.Valid(it.Content):
		v.ContentBase64 = it.Content
	default:
		text := string(it.Content)
		v.Content = &text
	}
	return v
}

type resultView struct {
	Item  ItemView          `json:"item"`
	Score float64           `json:"score"`
	Type  search.ResultType `json:"result_type"`
	Exact bool              `json:"exact"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

// parseFilter reads type (repeatable), source, since and until (RFC 3339).
func parseFilter(r *http.Request) (db.Filter, error) {
	q := r.URL.Query()
	var f db.Filter
	for _, raw := range q["type"] {
		t, err := db.ParseContentType(raw)
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, t)
	}
	f.SourceApp = q.Get("source")
	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if raw := q.Get(key); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return f, errors.New(key + " must be an RFC 3339 timestamp")
			}
			*dst = ts
		}
	}
	return f, nil
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func (s *Server) healthLive(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if n, err := s.items.Count(r.Context()); err == nil {
		resp["items"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.items.GetRecent(r.Context(), limit, f)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	views := make([]ItemView, len(items))
	for i := range items {
		views[i] = NewItemView(&items[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views, "count": len(views)})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := s.items.GetItem(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewItemView(item))
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.items.DeleteItem(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearItems(w http.ResponseWriter, r *http.Request) {
	n, err := s.items.ClearAll(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// searchClient identifies a search-as-you-type client. Requests from the same
// client cancel each other, newest wins.
func searchClient(r *http.Request) string {
	if c := r.URL.Query().Get("client"); c != "" {
		return c
	}
	return r.Header.Get("X-Clipmind-Client")
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	mode, err := search.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := search.Query{
		Text:   r.URL.Query().Get("q"),
		Mode:   mode,
		Limit:  limit,
		Filter: f,
	}
	var results []search.Result
	if client := searchClient(r); client != "" {
		results, err = s.session(client).Search(r.Context(), q)
	} else {
		results, err = s.searcher.Search(r.Context(), q)
	}
	if errors.Is(err, search.ErrSuperseded) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	views := make([]resultView, len(results))
	for i, res := range results {
		views[i] = resultView{Item: NewItemView(&res.Item), Score: res.Score, Type: res.Type, Exact: res.Exact}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": views, "count": len(views)})
}
