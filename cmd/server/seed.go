package main

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/messaging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

var (
	seedCount    int
	seedSessions int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish fake package registrations to the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if seedCount <= 0 {
			return fmt.Errorf("--count must be positive")
		}

		publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQ)
		if err != nil {
			return err
		}
		defer publisher.Close()

		faker := gofakeit.New(0)
		sessions := make([]string, max(seedSessions, 1))
		for i := range sessions {
			sessions[i] = faker.UUID()
		}

		for i := 0; i < seedCount; i++ {
			event := fakeEvent(faker, sessions)
			if err := publisher.Publish(cmd.Context(), event); err != nil {
				return fmt.Errorf("published %d of %d: %w", i, seedCount, err)
			}
		}

		logger.Info("seed events published", "count", seedCount, "queue", cfg.RabbitMQ.Queue)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "number of events to publish")
	seedCmd.Flags().IntVar(&seedSessions, "sessions", 5, "number of distinct session ids")
}

// fakeEvent builds a registration. About one in ten has no type id and one
// in twenty names a type that does not exist.
func fakeEvent(faker *gofakeit.Faker, sessions []string) models.PackageRegisteredEvent {
	event := models.PackageRegisteredEvent{
		Name:            strings.TrimSpace(faker.ProductName()),
		WeightKg:        faker.Float64Range(0.05, 30),
		ContentValueUSD: faker.Float64Range(1, 2000),
	}

	switch roll := faker.Number(1, 20); {
	case roll <= 2:
	case roll == 3:
		typeID := faker.Number(50, 99)
		event.TypeID = &typeID
	default:
		typeID := faker.Number(1, 3)
		event.TypeID = &typeID
	}

	session := sessions[faker.Number(0, len(sessions)-1)]
	event.SessionID = &session

	return event
}
