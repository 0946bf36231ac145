package files

import (
	"fmt"
	"io"
	"mime"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"filedepot/internal/auth"
)

// Handler exposes the file service over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the file routes. Fixed paths are registered
// before the /:id routes so they are matched first.
func RegisterRoutes(app *fiber.App, h *Handler, actorMW fiber.Handler) {
	grp := app.Group("/files", actorMW)

	grp.Get("/sources", h.Sources)
	grp.Get("/search", h.Search)
	grp.Post("/batch", h.Batch)
	grp.Post("/upload/:source", h.Upload)
	grp.Get("/:id", h.Info)
	grp.Get("/:id/download", h.Download)
	grp.Patch("/:id/search-text", h.UpdateSearchText)
	grp.Delete("/:id", h.Delete)
}

func (h *Handler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return InvalidPayloadError("Missing file in form data")
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read uploaded file: %w", err)
	}

	rec, err := h.svc.Upload(c.Context(), c.Params("source"),
		file.Filename, file.Header.Get("Content-Type"), content, auth.GetActor(c))
	if err != nil {
		return err
	}

	return c.Status(201).JSON(fiber.Map{
		"file_id":      rec.ID,
		"filename":     rec.Filename,
		"content_type": rec.ContentType,
		"size":         rec.Size,
		"url":          "/files/" + rec.ID,
	})
}

func (h *Handler) Info(c *fiber.Ctx) error {
	rec, err := h.svc.GetFile(c.Context(), c.Params("id"), auth.GetActor(c))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (h *Handler) Download(c *fiber.Ctx) error {
	result, err := h.svc.Download(c.Context(), c.Params("id"), auth.GetActor(c))
	if err != nil {
		return err
	}
	if result.RedirectURL != "" {
		return c.Redirect(result.RedirectURL, fiber.StatusFound)
	}
	c.Set("Content-Type", result.ContentType)
	// FormatMediaType quotes and escapes the filename.
	c.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": result.Filename}))
	return c.Send(result.Content)
}

func (h *Handler) UpdateSearchText(c *fiber.Ctx) error {
	var body struct {
		SearchText string `json:"search_text"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	rec, err := h.svc.UpdateSearchText(c.Context(), c.Params("id"), body.SearchText, auth.GetActor(c))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.svc.Delete(c.Context(), c.Params("id"), auth.GetActor(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": true})
}

func (h *Handler) Search(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return InvalidPayloadError("limit must be a positive integer")
		}
		limit = n
	}

	result, err := h.svc.Search(c.Context(), c.Query("q"), c.Query("source"), limit, auth.GetActor(c))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *Handler) Batch(c *fiber.Ctx) error {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	found, err := h.svc.BatchLookup(c.Context(), body.IDs, auth.GetActor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"files": found})
}

func (h *Handler) Sources(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sources": h.svc.Sources()})
}
