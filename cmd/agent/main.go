package main

// #region imports
import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/promopilot/promopilot/internal/approval"
	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/driver"
	"github.com/promopilot/promopilot/internal/factors"
	"github.com/promopilot/promopilot/internal/feedback"
	"github.com/promopilot/promopilot/internal/httpapi"
	"github.com/promopilot/promopilot/internal/monitor"
	"github.com/promopilot/promopilot/internal/pipeline"
	"github.com/promopilot/promopilot/internal/priors"
	"github.com/promopilot/promopilot/internal/reasoning"
	"github.com/promopilot/promopilot/internal/similar"
	"github.com/promopilot/promopilot/internal/status"
	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region main

const collaboratorTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	targets := target.BuildList(cfg.LocationIDs, cfg.ProductIDs)

	engine, err := reasoning.NewClient(cfg.ReasoningURL, collaboratorTimeout)
	if err != nil {
		log.Fatalf("reasoning client: %v", err)
	}
	costs := reasoning.CostTable{
		Model:       cfg.ReasoningModel,
		InputPer1M:  cfg.InputCostPer1M,
		OutputPer1M: cfg.OutputCostPer1M,
	}

	collector := buildCollector(cfg)

	var recorder *feedback.Recorder
	if cfg.EnableApprovalLearning {
		recorder, err = feedback.NewRecorder(st.DB(), cfg.FeedbackBrokers, cfg.FeedbackTopic)
		if err != nil {
			log.Fatalf("feedback recorder: %v", err)
		}
		defer recorder.Close()
	}

	var priorSvc *priors.Service
	if cfg.EnableDecisionLearning {
		var fb priors.FeedbackSource
		if recorder != nil {
			fb = recorder
		}
		priorSvc, err = priors.New(st, fb, cfg.MinMarginPercent, cfg.MaxDiscountPercent)
		if err != nil {
			log.Fatalf("priors service: %v", err)
		}
	}

	var retriever *similar.Retriever
	if cfg.EnableSimilarity {
		var remote similar.RemoteRetriever
		if cfg.SimilarityURL != "" {
			remote, err = similar.NewHTTPRetriever(cfg.SimilarityURL, collaboratorTimeout)
			if err != nil {
				log.Fatalf("similarity retriever: %v", err)
			}
		}
		retriever = similar.NewRetriever(remote, st, cfg.RetrievalK)
	}

	tracker := status.NewTracker()
	exec := pipeline.New(cfg, pipeline.Deps{
		Store:     st,
		Engine:    engine,
		Costs:     costs,
		Collector: collector,
		Priors:    priorSvc,
		Retriever: retriever,
		Status:    tracker,
	})

	drv, err := driver.New(cfg, st, exec, tracker, targets)
	if err != nil {
		log.Fatalf("driver: %v", err)
	}
	mon := monitor.New(st, cfg.AutoRetractThreshold, cfg.MonitoringInterval)
	gateway := approval.NewGateway(st, recorder)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go drv.Run(ctx)
	go mon.Run(ctx)

	if cfg.AutoStart {
		if err := drv.Start(ctx); err != nil {
			log.Printf("autostart refused: %v", err)
		}
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewServer(drv, st, gateway).Router(),
	}
	go func() {
		log.Printf("[agent] control surface on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	fmt.Printf("PromoPilot agent ready.\n  DB: %s | Targets: %d | Interval: %s\n",
		cfg.DBPath, len(targets), cfg.MonitoringInterval)

	<-ctx.Done()
	log.Printf("[agent] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	drv.Stop(shutdownCtx)
}

// buildCollector wires whichever factor providers are configured. A missing
// URL leaves that factor out; the pipeline degrades gracefully.
func buildCollector(cfg config.Config) *factors.Collector {
	c := &factors.Collector{}
	if cfg.WeatherURL != "" {
		if p, err := factors.NewHTTPProvider(cfg.WeatherURL, collaboratorTimeout); err == nil {
			c.Weather = p
		} else {
			log.Printf("weather provider disabled: %v", err)
		}
	}
	if cfg.CompetitorURL != "" {
		if p, err := factors.NewHTTPProvider(cfg.CompetitorURL, collaboratorTimeout); err == nil {
			c.Competitor = p
		} else {
			log.Printf("competitor provider disabled: %v", err)
		}
	}
	if cfg.SocialURL != "" {
		if p, err := factors.NewHTTPProvider(cfg.SocialURL, collaboratorTimeout); err == nil {
			c.Social = p
		} else {
			log.Printf("social provider disabled: %v", err)
		}
	}
	return c
}

// #endregion
