package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"filedepot/internal/access"
	"filedepot/internal/auth"
	"filedepot/internal/config"
	"filedepot/internal/files"
	"filedepot/internal/index"
	"filedepot/internal/registry"
	"filedepot/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s, sources: %d)",
		cfg.Server.Port, cfg.Database.Driver, len(cfg.Sources))

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// 3. Create metadata tables and the search projection
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap tables: %v", err)
	}
	log.Println("Metadata index ready")

	// 4. Build the source registry from config. A misconfigured source
	// aborts startup rather than being skipped.
	idx := index.New(db)
	reg, err := registry.Build(ctx, cfg.Sources, idx)
	if err != nil {
		log.Fatalf("Failed to build source registry: %v", err)
	}

	// 5. Parse permission rules once, up front
	rules, err := access.ParseRules(cfg.Permissions)
	if err != nil {
		log.Fatalf("Failed to parse permission rules: %v", err)
	}
	resolver := access.NewResolver(rules, reg.Slugs())

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 7. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. File routes with actor resolution
	svc := files.NewService(idx, reg, resolver)
	actorMW := auth.ActorMiddleware(cfg.JWTSecret, cfg.APITokens)
	files.RegisterRoutes(app, files.NewHandler(svc), actorMW)

	// 9. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		return c.Status(code).JSON(files.ErrorResponse{
			Error: files.NewAppError("HTTP_ERROR", code, fiberErr.Message),
		})
	}

	var appErr *files.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(files.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(files.ErrorResponse{
		Error: files.NewAppError("INTERNAL_ERROR", code, "Internal server error"),
	})
}
