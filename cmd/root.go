package cmd

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/atendezap/zapdesk/core/config"
	"github.com/atendezap/zapdesk/core/database"
	domainCache "github.com/atendezap/zapdesk/domains/cache"
	domainCampaign "github.com/atendezap/zapdesk/domains/campaign"
	domainHealth "github.com/atendezap/zapdesk/domains/health"
	domainInbound "github.com/atendezap/zapdesk/domains/inbound"
	domainInstance "github.com/atendezap/zapdesk/domains/instance"
	domainQueue "github.com/atendezap/zapdesk/domains/queue"
	domainRealtime "github.com/atendezap/zapdesk/domains/realtime"
	"github.com/atendezap/zapdesk/infrastructure/blob"
	"github.com/atendezap/zapdesk/infrastructure/broker"
	"github.com/atendezap/zapdesk/infrastructure/mq"
	"github.com/atendezap/zapdesk/infrastructure/store"
	"github.com/atendezap/zapdesk/infrastructure/valkey"
	"github.com/atendezap/zapdesk/pkg/crypto"
	"github.com/atendezap/zapdesk/pkg/dedupe"
	"github.com/atendezap/zapdesk/pkg/jobs"
	"github.com/atendezap/zapdesk/pkg/metrics"
	"github.com/atendezap/zapdesk/pkg/ttlcache"
	"github.com/atendezap/zapdesk/pkg/utils"
	uiWebsocket "github.com/atendezap/zapdesk/ui/websocket"
	"github.com/atendezap/zapdesk/usecase"
)

var (
	appDB *gorm.DB

	// Infrastructure
	vkClient      *valkey.Client
	workerPool    *jobs.Pool
	brokerManager *broker.Manager
	mediaStore    *blob.Store
	amqpQueue     *mq.AMQPQueue
	metricsReg    *metrics.Registry
	serverID      string

	// Usecase
	queueUsecase    domainQueue.IQueueUsecase
	instanceUsecase domainInstance.IInstanceUsecase
	inboundUsecase  domainInbound.IInboundUsecase
	campaignUsecase domainCampaign.ICampaignUsecase
	cacheUsecase    domainCache.ICacheUsecase
	healthUsecase   domainHealth.IHealthUsecase
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zapdesk",
	Short: "Inbound message ingestion and provisioning pipeline",
	Long: `Zapdesk receives messaging-broker events over webhooks or in-process
sessions and turns them into tenants, queues, contacts, tickets and lead
activity, provisioning whatever is missing along the way.`,
}

func init() {
	// Load environment variables first
	_ = godotenv.Load()

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	cobra.OnInitialize(initApp)
}

func initApp() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("[APP] Failed to load configuration: %v", err)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	viper.AutomaticEnv()

	if err := utils.CreateFolder(cfg.Paths.Storages, cfg.Paths.Statics, cfg.Media.Path); err != nil {
		logrus.Errorln(err)
	}

	crypto.SetSigningKey(cfg.Media.SigningKey)
	serverID = utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)

	ctx := context.Background()

	// 1. Storage
	appDB, err = database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[APP] Failed to open database: %v", err)
	}
	if err := store.AutoMigrate(appDB); err != nil {
		logrus.Fatalf("[APP] Failed to run migrations: %v", err)
	}

	tenantRepo := store.NewTenantRepository(appDB)
	instanceRepo := store.NewInstanceRepository(appDB)
	queueRepo := store.NewQueueRepository(appDB)
	contactRepo := store.NewContactRepository(appDB)
	leadRepo := store.NewLeadRepository(appDB)
	ticketRepo := store.NewTicketRepository(appDB)
	campaignRepo := store.NewCampaignRepository(appDB)

	// 2. Caches and dedupe registries. Valkey makes them cross-server;
	// without it everything stays in process memory.
	if cfg.Database.ValkeyEnabled {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.Errorf("[APP] Valkey unavailable, falling back to in-memory caches: %v", err)
			vkClient = nil
		}
	}

	queueCache := ttlcache.NewMemory(cfg.Pipeline.QueueCacheTTL)
	var allocDedupe, activityDedupe dedupe.Registry
	if vkClient != nil {
		allocDedupe = valkey.NewDedupeRegistry(vkClient, "alloc")
		activityDedupe = valkey.NewDedupeRegistry(vkClient, "activity")
	} else {
		allocDedupe = dedupe.NewMemory()
		activityDedupe = dedupe.NewMemory()
	}

	// 3. Runtime plumbing
	metricsReg = metrics.New(200)
	workerPool = jobs.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)
	workerPool.Start(ctx)

	uiWebsocket.SetJWTSecret(cfg.Realtime.JWTSecret)
	var notifier domainRealtime.Notifier = uiWebsocket.Notifier{}

	// 4. Usecases, in dependency order
	tenantUsecase := usecase.NewTenantService(tenantRepo, cfg.Pipeline.TenantAllowlist)
	queueUsecase = usecase.NewQueueService(queueRepo, tenantUsecase, queueCache, cfg.Pipeline.QueueCacheTTL, notifier, metricsReg)
	instanceUsecase = usecase.NewInstanceService(instanceRepo, tenantUsecase, queueUsecase, metricsReg, cfg.Pipeline.AutoProvisionMatch)
	contactUsecase := usecase.NewContactService(contactRepo)
	leadUsecase := usecase.NewLeadService(leadRepo, activityDedupe, cfg.Pipeline.ActivityDedupeTTL, notifier, metricsReg, cfg.Pipeline.PreviewMaxRunes)
	ticketUsecase := usecase.NewTicketService(ticketRepo, queueUsecase, notifier, metricsReg)

	// 5. Broker sessions and media pipeline
	brokerManager = broker.NewManager(cfg.Broker)
	downloader := broker.NewDownloader(brokerManager, cfg.Broker.MaxDownloadSize)
	mediaStore = blob.NewStore(cfg.Media)

	enqueuer := buildMediaRetryQueue(ctx, cfg)
	mediaUsecase := usecase.NewMediaService(downloader, mediaStore, enqueuer, notifier, metricsReg, cfg.Media.RetryAttempts, cfg.Media.RetryBackoff)
	setMediaRetryExecutor(enqueuer, mediaUsecase)

	inboundUsecase = usecase.NewInboundService(instanceUsecase, queueUsecase, contactUsecase, ticketUsecase, leadUsecase, mediaUsecase, workerPool, metricsReg)
	campaignUsecase = usecase.NewCampaignService(campaignRepo, allocDedupe, cfg.Pipeline.AllocDedupeTTL, notifier, metricsReg)
	cacheUsecase = usecase.NewCacheService(queueCache, allocDedupe, activityDedupe, mediaStore)

	if cfg.Broker.Enabled {
		broker.NewBridge(brokerManager, inboundUsecase, instanceUsecase)
	}

	// 6. Health probes and distributed websocket fan-out
	healthUsecase = usecase.NewHealthService(appDB, valkeyProbe(), amqpProbe(), brokerProbe(cfg))
	healthUsecase.StartPeriodicChecks(ctx)

	if vkClient != nil {
		uiWebsocket.SetValkeyClient(vkClient, serverID)
	}
}

// buildMediaRetryQueue picks the retry transport: AMQP when a URI is
// configured, otherwise the sharded in-process pool.
func buildMediaRetryQueue(ctx context.Context, cfg *config.Config) domainInbound.MediaRetryEnqueuer {
	if cfg.AMQP.URI == "" {
		return mq.NewInProcQueue(workerPool)
	}

	queue, err := mq.DialAMQP(ctx, cfg.AMQP)
	if err != nil {
		logrus.Errorf("[APP] AMQP unavailable, using in-process media retries: %v", err)
		return mq.NewInProcQueue(workerPool)
	}
	amqpQueue = queue
	return queue
}

func setMediaRetryExecutor(enqueuer domainInbound.MediaRetryEnqueuer, media usecase.IMediaUsecase) {
	switch q := enqueuer.(type) {
	case *mq.InProcQueue:
		q.SetExecutor(media.ExecuteRetry)
	case *mq.AMQPQueue:
		q.SetExecutor(media.ExecuteRetry)
		if err := q.StartConsumer(context.Background()); err != nil {
			logrus.Errorf("[APP] Failed to start AMQP consumer: %v", err)
		}
	}
}

func valkeyProbe() usecase.ValkeyProbe {
	if vkClient == nil {
		return nil
	}
	return vkClient
}

func amqpProbe() usecase.AMQPProbe {
	if amqpQueue == nil {
		return nil
	}
	return amqpQueue
}

func brokerProbe(cfg *config.Config) usecase.BrokerProbe {
	if !cfg.Broker.Enabled {
		return nil
	}
	return brokerManager
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp performs a clean shutdown of every long-lived connection.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if workerPool != nil {
		workerPool.Stop()
	}
	if brokerManager != nil {
		brokerManager.Stop()
	}
	if amqpQueue != nil {
		_ = amqpQueue.Close()
	}
	if vkClient != nil {
		vkClient.Close()
	}
	if appDB != nil {
		if sqlDB, err := appDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
