package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/support-desk/internal/config"
	"github.com/psds-microservice/support-desk/internal/database"
	"github.com/psds-microservice/support-desk/internal/handler"
	"github.com/psds-microservice/support-desk/internal/kafka"
	"github.com/psds-microservice/support-desk/internal/livequery"
	"github.com/psds-microservice/support-desk/internal/router"
	"github.com/psds-microservice/support-desk/internal/service"
)

// API приложение: HTTP сервер (режим api).
type API struct {
	cfg      *config.Config
	httpSrv  *http.Server
	producer *kafka.Producer
}

// NewAPI создаёт приложение для режима api.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	broker := livequery.NewBroker()
	ticketSvc := service.NewTicketService(db, broker)
	producer := kafka.NewProducer(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopic)
	ticketHandler := handler.NewTicketHandler(ticketSvc, producer)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(ticketHandler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout не ставим: SSE-стримы живут дольше любого
		// разумного лимита на запись.
		IdleTimeout: 60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		httpSrv:  httpSrv,
		producer: producer,
	}, nil
}

// Run запускает HTTP сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Swagger spec:  %s/swagger/openapi.json", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Ready:         %s/ready", base)
	log.Printf("  API v1:        %s/api/v1/", base)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.producer.Close(); err != nil {
		log.Printf("kafka: close producer: %v", err)
	}
	return nil
}
