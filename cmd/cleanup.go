package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/support-desk/internal/config"
	"github.com/psds-microservice/support-desk/internal/database"
	"github.com/psds-microservice/support-desk/internal/model"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete resolved/closed tickets older than TICKET_RETENTION_DAYS (with their messages)",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.RetentionDays == 0 {
		log.Println("cleanup: TICKET_RETENTION_DAYS not set, nothing to do")
		return nil
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
	var deleted int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&model.Ticket{}).
			Where("status IN ?", []model.TicketStatus{model.TicketStatusResolved, model.TicketStatusClosed}).
			Where("updated_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("ticket_id IN ?", ids).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.Ticket{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	log.Printf("cleanup: deleted %d tickets older than %d days", deleted, cfg.RetentionDays)
	return nil
}
