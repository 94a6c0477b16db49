// Command seed provisions demo accounts and sample tickets for local
// development. Existing rows with the same usernames are left untouched.
package main

import (
	"context"
	"errors"
	"log"

	"go.uber.org/zap"

	"github.com/desk-kit/helpdesk-service/internal/auth"
	"github.com/desk-kit/helpdesk-service/internal/config"
	"github.com/desk-kit/helpdesk-service/internal/domain"
	"github.com/desk-kit/helpdesk-service/internal/observability"
	"github.com/desk-kit/helpdesk-service/internal/persistence"
	"github.com/desk-kit/helpdesk-service/internal/repository"
)

type seedUser struct {
	username string
	password string
	fullName string
	role     domain.Role
}

var seedUsers = []seedUser{
	{"admin", "admin123", "System Administrator", domain.RoleAdmin},
	{"tech1", "tech123", "Ivan Petrov", domain.RoleTechnician},
	{"client1", "client123", "Peter Clark", domain.RoleClient},
	{"client2", "client456", "Anna Usher", domain.RoleClient},
}

type seedTicket struct {
	owner       string
	title       string
	description string
	priority    domain.TicketPriority
}

var seedTickets = []seedTicket{
	{"client1", "Printer not working", "The HP LaserJet in room 204 does not print documents", domain.TicketPriorityHigh},
	{"client2", "Need a new monitor", "The old monitor flickers and distorts colors", domain.TicketPriorityMedium},
}

// sampleTicketsFor builds the sample tickets to insert. A sample is
// skipped when its owner already existed before this run, so reruns do
// not pile up duplicate tickets.
func sampleTicketsFor(owners map[string]*domain.User, created map[string]bool) []*domain.Ticket {
	var result []*domain.Ticket
	for _, sample := range seedTickets {
		owner, ok := owners[sample.owner]
		if !ok || !created[sample.owner] {
			continue
		}
		result = append(result, &domain.Ticket{
			Title:       sample.title,
			Description: sample.description,
			Status:      domain.TicketStatusOpen,
			Priority:    sample.priority,
			ClientID:    owner.ID,
		})
	}
	return result
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	users := repository.NewUserRepository(pg.PoolHandle())
	tickets := repository.NewTicketRepository(pg.PoolHandle())

	byUsername := map[string]*domain.User{}
	created := map[string]bool{}
	for _, seed := range seedUsers {
		hash, err := auth.HashPassword(seed.password, cfg.Auth.BcryptCost)
		if err != nil {
			logger.Fatal("hash password", zap.Error(err))
		}
		user := &domain.User{
			Username:     seed.username,
			PasswordHash: hash,
			FullName:     seed.fullName,
			Role:         seed.role,
		}
		if err := users.Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicateUsername) {
				existing, getErr := users.GetByUsername(ctx, seed.username)
				if getErr != nil {
					logger.Fatal("load existing user", zap.Error(getErr))
				}
				byUsername[seed.username] = existing
				logger.Info("user already present", zap.String("username", seed.username))
				continue
			}
			logger.Fatal("create user", zap.Error(err))
		}
		byUsername[seed.username] = user
		created[seed.username] = true
		logger.Info("created user", zap.String("username", seed.username), zap.String("role", string(seed.role)))
	}

	sampleTickets := sampleTicketsFor(byUsername, created)
	for _, ticket := range sampleTickets {
		if err := tickets.Create(ctx, ticket); err != nil {
			logger.Fatal("create ticket", zap.Error(err))
		}
		logger.Info("created ticket", zap.String("title", ticket.Title))
	}

	logger.Info("seed complete",
		zap.Int("users", len(seedUsers)),
		zap.Int("tickets", len(sampleTickets)))
}
