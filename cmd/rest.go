package cmd

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	coreconfig "github.com/atendezap/zapdesk/core/config"
	"github.com/atendezap/zapdesk/ui/rest"
	"github.com/atendezap/zapdesk/ui/rest/middleware"
	"github.com/atendezap/zapdesk/ui/websocket"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the ingestion pipeline over HTTP",
	Run:   restServer,
}

func init() {
	restCmd.Flags().StringP("port", "p", "", "override listen port | example: --port=8080")
	_ = viper.BindPFlag("app_port", restCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	cfg := coreconfig.Global
	if port := viper.GetString("app_port"); port != "" {
		cfg.App.Port = port
	}

	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		BodyLimit:               int(cfg.Broker.MaxDownloadSize),
		Network:                 "tcp",
		AppName:                 "Zapdesk Ingestion Engine",
		DisableStartupMessage:   false,
		ServerHeader:            "Hidden",
	}

	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedHost
	}

	app := fiber.New(fiberConfig)

	app.Use(requestid.New())

	origins := strings.Join(cfg.App.CorsAllowedOrigins, ", ")
	if !strings.Contains(origins, cfg.App.BaseUrl) {
		origins += ", " + cfg.App.BaseUrl
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Hub-Signature-256, X-Request-ID",
	}))
	app.Use(middleware.Recovery())

	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	if cfg.App.Debug {
		app.Use(logger.New())
	}

	app.Static(cfg.App.BasePath+"/statics", "./"+cfg.Paths.Statics)

	base := app.Group(cfg.App.BasePath)

	// Graceful shutdown handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}

		StopApp()
	}()

	rest.InitRestApp(base)
	rest.InitRestWebhook(base, inboundUsecase, campaignUsecase, cfg.Webhook.Secret)
	rest.InitRestInstance(base, instanceUsecase)
	rest.InitRestQueue(base, queueUsecase)
	rest.InitRestCache(base, cacheUsecase)
	rest.InitRestHealth(base, healthUsecase)
	rest.InitRestMonitoring(base, metricsReg)
	rest.InitRestWorkerPool(base, workerPool)
	rest.InitRestMedia(base, mediaStore)

	// Websocket
	websocket.RegisterRoutes(base)
	go websocket.RunHub()

	base.All("/api/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API Endpoint not found",
			"path":  c.Path(),
		})
	})

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalln("Failed to start: ", err.Error())
	}
}
