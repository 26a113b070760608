package handler

import (
	"context"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/api/transport"
	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/pkg/httpcontext"
)

// SearchService answers property queries against the index.
type SearchService interface {
	Search(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error)
	Get(ctx context.Context, id string) (*domain.PropertyDocument, error)
	Stats(ctx context.Context) (*domain.IndexStats, error)
	Suggest(ctx context.Context, prefix string) ([]string, error)
}

type SearchHandler struct {
	baseHandler
	search SearchService
}

func NewSearchHandler(search SearchService, adapter *httpcontext.Adapter, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		baseHandler: newBaseHandler(adapter, logger),
		search:      search,
	}
}

// @Summary Search properties
// @Tags search
// @Router /api/v1/search/properties [get]
func (h *SearchHandler) Search(ctx *fasthttp.RequestCtx) {
	query := transport.ParseSearchQuery(ctx.QueryArgs())

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	result, err := h.search.Search(stdCtx, query)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, result)
}

// @Summary Get an indexed property
// @Tags search
// @Router /api/v1/search/properties/{id} [get]
func (h *SearchHandler) Get(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if id == "" {
		h.respondError(ctx, domain.NewError(domain.ErrCodeInvalid, "id is required"))
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	doc, err := h.search.Get(stdCtx, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, doc)
}

// @Summary Index statistics
// @Tags search
// @Router /api/v1/search/stats [get]
func (h *SearchHandler) Stats(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	stats, err := h.search.Stats(stdCtx)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, stats)
}

// @Summary Title suggestions
// @Tags search
// @Router /api/v1/search/suggest [get]
func (h *SearchHandler) Suggest(ctx *fasthttp.RequestCtx) {
	prefix := string(ctx.QueryArgs().Peek("q"))
	if prefix == "" {
		prefix = string(ctx.QueryArgs().Peek("query"))
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	titles, err := h.search.Suggest(stdCtx, prefix)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, titles)
}
