// Command mofox-core boots every subsystem the conversational-agent
// platform core is built from: persistence, the staging journals, the
// tiered memory engine, the plugin host and built-in permission plugin,
// the event manager and unified scheduler, the message bus with the
// command dispatcher and reply generator wired in as routes (command
// dispatch registered first, so a command invocation is never handed to
// the reply generator), and the HTTP/WebSocket/NATS adapter transports —
// then tears them down in order on signal.
//
// Grounded in the teacher's cmd/main.go bootstrap shape (env-driven
// config, sequential component construction with graceful-degrade
// logging, signal-driven shutdown), generalized from the StreamSpace
// API server's components to this module's own.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/xianshu-virtuous/MoFox-Core/internal/adapter/httpadapter"
	"github.com/xianshu-virtuous/MoFox-Core/internal/adapter/natsadapter"
	"github.com/xianshu-virtuous/MoFox-Core/internal/adapter/wsadapter"
	"github.com/xianshu-virtuous/MoFox-Core/internal/bus"
	"github.com/xianshu-virtuous/MoFox-Core/internal/cache"
	"github.com/xianshu-virtuous/MoFox-Core/internal/command"
	"github.com/xianshu-virtuous/MoFox-Core/internal/config"
	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	"github.com/xianshu-virtuous/MoFox-Core/internal/eventbus"
	"github.com/xianshu-virtuous/MoFox-Core/internal/journal"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/longterm"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/perceptual"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/retrieval"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/shortterm"
	"github.com/xianshu-virtuous/MoFox-Core/internal/permission"
	"github.com/xianshu-virtuous/MoFox-Core/internal/plugin"
	"github.com/xianshu-virtuous/MoFox-Core/internal/reply"
	"github.com/xianshu-virtuous/MoFox-Core/internal/scheduler"
	"github.com/xianshu-virtuous/MoFox-Core/internal/shutdown"
	"github.com/xianshu-virtuous/MoFox-Core/internal/store"
	"github.com/xianshu-virtuous/MoFox-Core/internal/stream"
	"github.com/xianshu-virtuous/MoFox-Core/internal/workerpool"
)

func main() {
	cfg, err := config.Load(os.Getenv("MOFOX_CONFIG_FILE"))
	if err != nil {
		panic(err)
	}

	logger.Initialize(cfg.Logging.Level, cfg.Logging.Pretty)
	log := logger.Component("main")
	log.Info().Msg("starting mofox-core")

	st, err := store.Open(store.Config{
		Host: cfg.Database.Host, Port: strconv.Itoa(cfg.Database.Port), User: cfg.Database.User,
		Password: cfg.Database.Password, DBName: cfg.Database.DBName, SSLMode: cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisCache, err := cache.NewCache(cache.Config{
		Host: cfg.Cache.Host, Port: strconv.Itoa(cfg.Cache.Port), DB: cfg.Cache.DB, Enabled: cfg.Cache.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("cache unavailable, continuing without it")
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer redisCache.Close()

	journalStore, err := journal.New(cfg.Journal.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open staging journal directory")
	}

	// The embedding/vector-store/LLM providers are out-of-scope
	// collaborators (spec.md §1); until a concrete provider is wired in,
	// the engine boots against the logged no-op stand-ins.
	embedder := memory.UnconfiguredEmbedder{}
	vstore := memory.UnconfiguredVectorStore{}
	llm := memory.UnconfiguredLLM{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := plugin.NewRegistry()
	host := plugin.NewHost(registry, nil, nil)

	masterIDs := make([]string, 0, len(cfg.Permission.MasterUsers))
	for _, m := range cfg.Permission.MasterUsers {
		masterIDs = append(masterIDs, m.UserID)
	}
	permPlugin := permission.New(st, masterIDs)
	if err := host.LoadPlugin(ctx, permPlugin); err != nil {
		log.Error().Err(err).Msg("failed to load built-in permission plugin")
	}

	evBus := eventbus.New()
	sched := scheduler.New(evBus)
	go sched.Run(ctx)

	ttm := cfg.ThreeTierMemory
	longCfg := longterm.Config{
		DecayFactor:             ttm.LongTermDecayFactor,
		DedupMergeThreshold:     0.85,
		DedupHardThreshold:      0.95,
		AutoTransferInterval:    time.Duration(ttm.LongTermAutoTransferInterval) * time.Second,
		BatchSize:               ttm.LongTermBatchSize,
		ReferenceEdgeImportance: 0.4,
		RelationDiscoveryWindow: time.Hour,
	}
	longGraph := longterm.New(longCfg, embedder, vstore)
	transferQueue := longterm.NewQueue(ttm.ShortTermMaxMemories)

	shortCfg := shortterm.DefaultConfig()
	shortCfg.MaxMemories = ttm.ShortTermMaxMemories
	shortCfg.TransferThreshold = ttm.ShortTermTransferThreshold
	shortCfg.DecayFactor = ttm.ShortTermDecayFactor
	shortStore := shortterm.New(shortCfg, embedder, vstore, llm, transferQueue)

	pool := workerpool.New(8, 256)
	pool.Start(ctx)
	defer pool.Stop()

	perceptualCfg := perceptual.Config{
		MaxBlocks: ttm.PerceptualMaxBlocks, BlockSize: ttm.PerceptualBlockSize,
		SimilarityThreshold: ttm.PerceptualSimilarityThreshold, TopK: ttm.PerceptualTopK,
		ActivationThreshold: ttm.ActivationThreshold,
	}
	perceptualLayer := perceptual.New(perceptualCfg, embedder, vstore, func(ctx context.Context, block *perceptual.Block) {
		if err := pool.Submit(func(ctx context.Context) {
			promoteBlock(ctx, shortStore, block)
		}); err != nil {
			logger.Memory().Warn().Err(err).Str("block", block.ID).Msg("promotion dropped, worker pool saturated")
		}
	})

	if blocks, err := journalStore.LoadPerceptual(); err != nil {
		log.Warn().Err(err).Msg("failed to replay perceptual journal")
	} else {
		for _, b := range blocks {
			perceptualLayer.Restore(b)
		}
	}
	if memories, err := journalStore.LoadShortTerm(); err != nil {
		log.Warn().Err(err).Msg("failed to replay short-term journal")
	} else {
		shortStore.Restore(memories)
	}
	if items, err := journalStore.LoadPromotionQueue(); err != nil {
		log.Warn().Err(err).Msg("failed to replay promotion queue journal")
	} else {
		transferQueue.Restore(items)
	}

	consolidator := longterm.NewConsolidator(longGraph, transferQueue, llm, longCfg, shortStore.ClearPromoting)
	consolidator.Start(ctx)

	retrievalEngine := retrieval.New(retrieval.DefaultConfig(), embedder, llm, perceptualLayer, shortStore, longGraph, vstore)

	streamMgr := stream.NewManager(ttm.PerceptualBlockSize*ttm.PerceptualMaxBlocks, time.Hour, redisCache)

	runtime := bus.NewRuntime(bus.Config{
		InboundQueueDepth: cfg.Bus.InboundQueueDepth,
		DrainTimeout:      time.Duration(cfg.Bus.DrainTimeoutSecs) * time.Second,
	})

	runtime.RegisterBeforeHook(func(env *envelope.MessageEnvelope) error {
		streamMgr.ForEnvelope(env).Append(*env)
		return nil
	})
	runtime.RegisterAfterHook(func(env *envelope.MessageEnvelope) {
		if env.Direction != envelope.Incoming || env.MessageSegment == nil {
			return
		}
		text := env.MessageSegment.TextContent()
		if text == "" {
			return
		}
		if err := pool.Submit(func(ctx context.Context) {
			if _, err := perceptualLayer.AddMessage(ctx, text); err != nil {
				logger.Memory().Warn().Err(err).Msg("perceptual ingestion failed")
			}
		}); err != nil {
			logger.Memory().Warn().Err(err).Msg("perceptual ingestion dropped, worker pool saturated")
		}
	})
	runtime.RegisterErrorHook(func(env *envelope.MessageEnvelope, err error) {
		logger.Bus().Error().Err(err).Str("message_id", env.MessageID).Msg("route error")
	})

	cmdDispatcher := command.New(registry, permPlugin.Checker(), runtime)
	cmdPrivate := envelope.KindPrivate
	runtime.AddRoute("command-dispatcher-private", command.IsCommand, cmdDispatcher.Handler(), &cmdPrivate)
	cmdGroup := envelope.KindGroup
	runtime.AddRoute("command-dispatcher-group", command.IsCommand, cmdDispatcher.Handler(), &cmdGroup)

	replyGen := reply.New(llm, streamMgr, retrievalEngine, runtime)
	conversational := envelope.KindPrivate
	runtime.AddRoute("reply-generator-private", func(env *envelope.MessageEnvelope) bool {
		return env.Direction == envelope.Incoming
	}, replyGen.Handler(), &conversational)
	groupKind := envelope.KindGroup
	runtime.AddRoute("reply-generator-group", func(env *envelope.MessageEnvelope) bool {
		return env.Direction == envelope.Incoming
	}, replyGen.Handler(), &groupKind)

	httpSrv := httpadapter.NewServer(runtime)
	wsHub := wsadapter.NewHub(runtime)
	wsHub.RegisterRoutes(httpSrv.Engine())
	go wsHub.Run(ctx.Done())

	server := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: httpSrv.Engine()}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()
	log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("adapter boundary listening")

	var natsAdapter *natsadapter.Adapter
	if cfg.Nats.URL != "" {
		natsAdapter, err = natsadapter.Connect(natsadapter.Config{
			URL: cfg.Nats.URL, User: cfg.Nats.User, Password: cfg.Nats.Password,
		}, runtime)
		if err != nil {
			log.Warn().Err(err).Msg("nats adapter connect failed")
		} else if natsAdapter.Enabled() {
			for _, platform := range cfg.Nats.Platforms {
				if err := natsAdapter.Subscribe(platform); err != nil {
					log.Warn().Err(err).Str("platform", platform).Msg("nats subscribe failed")
					continue
				}
				runtime.RegisterSink(natsAdapter.Sink(platform))
			}
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	seq := shutdown.New().
		Add("http-server", 5*time.Second, func(ctx context.Context) error { return server.Shutdown(ctx) }).
		Add("drain-bus", time.Duration(cfg.Bus.DrainTimeoutSecs)*time.Second, func(ctx context.Context) error { return runtime.Shutdown(ctx) }).
		Add("stop-scheduler", 5*time.Second, func(ctx context.Context) error { sched.Stop(); return nil }).
		Add("stop-consolidator", 5*time.Second, func(ctx context.Context) error { consolidator.Stop(); return nil }).
		Add("flush-journals", 5*time.Second, func(ctx context.Context) error { return flushJournals(journalStore, perceptualLayer, shortStore, transferQueue) }).
		Add("unload-plugins", 5*time.Second, func(ctx context.Context) error { host.Shutdown(ctx); return nil }).
		Add("close-adapters", 5*time.Second, func(ctx context.Context) error {
			if natsAdapter != nil {
				return natsAdapter.Close()
			}
			return nil
		})

	if err := seq.Run(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown completed with errors")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

// promoteBlock runs the short-term extraction/decision pipeline for a
// closed perceptual block on a worker-pool goroutine, so a slow LLM call
// never blocks the ChatStream serial worker that produced the block.
func promoteBlock(ctx context.Context, shortStore *shortterm.Store, block *perceptual.Block) {
	candidates, err := shortStore.Extract(ctx, block.ID, block.Text())
	if err != nil {
		logger.Memory().Warn().Err(err).Str("block", block.ID).Msg("short-term extraction failed")
		return
	}
	for _, c := range candidates {
		if _, err := shortStore.ProcessCandidate(ctx, c); err != nil {
			logger.Memory().Warn().Err(err).Str("block", block.ID).Msg("short-term candidate processing failed")
		}
	}
}

func flushJournals(j *journal.Store, p *perceptual.Layer, s *shortterm.Store, q *longterm.Queue) error {
	if err := j.SavePerceptual(p.Blocks()); err != nil {
		return err
	}
	if err := j.SaveShortTerm(s.All()); err != nil {
		return err
	}
	return j.SavePromotionQueue(q.Snapshot())
}
