package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chiahui-lin/specmatrix/internal/catalog"
)

// CatalogHandler exposes the curated part/spec knowledge base. All routes
// answer 503 when Postgres is not configured.
type CatalogHandler struct {
	parts   catalog.PartsRepo
	aliases catalog.AliasRepo
	logger  *log.Logger
}

func NewCatalogHandler(parts catalog.PartsRepo, aliases catalog.AliasRepo) *CatalogHandler {
	return &CatalogHandler{
		parts:   parts,
		aliases: aliases,
		logger:  log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
}

func (h *CatalogHandler) Register(g *echo.Group) {
	parts := g.Group("/parts")
	parts.GET("/:part_no", h.getPart)
	parts.PATCH("/:part_no/specs", h.upsertSpecs)
	parts.POST("/:part_no/specs:markIncorrect", h.markIncorrect)

	aliases := g.Group("/aliases")
	aliases.POST("/resolve", h.resolveAliases)
	aliases.POST("/batch_upsert", h.batchUpsertAliases)
}

func (h *CatalogHandler) ready() error {
	if h.parts == nil || h.aliases == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "catalog database not configured")
	}
	return nil
}

func (h *CatalogHandler) getPart(c echo.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	part, err := h.parts.GetPart(c.Request().Context(), c.Param("part_no"))
	if errors.Is(err, catalog.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown part")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, part)
}

type upsertSpecsRequest struct {
	Items          []catalog.SpecItem `json:"items"`
	Actor          string             `json:"actor"`
	SourceFilename string             `json:"source_filename"`
}

func (h *CatalogHandler) upsertSpecs(c echo.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	var req upsertSpecsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if len(req.Items) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "items required")
	}
	for i := range req.Items {
		if strings.TrimSpace(req.Items[i].Key) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "every item needs a key")
		}
		if req.Items[i].Status == "" {
			req.Items[i].Status = catalog.SpecStatusEdited
		}
	}
	partNo := c.Param("part_no")
	if err := h.parts.UpsertSpecs(c.Request().Context(), partNo, req.Items, req.Actor, req.SourceFilename); err != nil {
		return err
	}
	h.logger.Printf("part %s: %d specs upserted by %s", partNo, len(req.Items), req.Actor)
	return c.NoContent(http.StatusNoContent)
}

type markIncorrectRequest struct {
	Keys  []string `json:"keys"`
	Note  string   `json:"note"`
	Actor string   `json:"actor"`
}

func (h *CatalogHandler) markIncorrect(c echo.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	var req markIncorrectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if len(req.Keys) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "keys required")
	}
	if err := h.parts.MarkIncorrect(c.Request().Context(), c.Param("part_no"), req.Keys, req.Note, req.Actor); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type resolveAliasesRequest struct {
	Candidates []string `json:"candidates"`
}

func (h *CatalogHandler) resolveAliases(c echo.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	var req resolveAliasesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	mapping, err := h.aliases.Resolve(c.Request().Context(), req.Candidates)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"resolved": mapping})
}

type batchUpsertAliasesRequest struct {
	Items []catalog.FieldAlias `json:"items"`
}

func (h *CatalogHandler) batchUpsertAliases(c echo.Context) error {
	if err := h.ready(); err != nil {
		return err
	}
	var req batchUpsertAliasesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.Canonical) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "every item needs a canonical name")
		}
	}
	if err := h.aliases.BatchUpsert(c.Request().Context(), req.Items); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
