// Seeds a local database with demo distribution rules and leads so the
// service can be exercised end to end without the lead platform.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lendfield/rcs-dispatch/internal/model"
	"github.com/lendfield/rcs-dispatch/internal/repo"
	"github.com/lendfield/rcs-dispatch/internal/rules"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		log.Fatal("POSTGRES_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := repo.NewPostgres(pool).EnsureSchema(ctx); err != nil {
		log.Fatalf("queue schema: %v", err)
	}

	ruleStore := rules.NewPostgres(pool)
	if err := ruleStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("rules schema: %v", err)
	}

	// The leads table belongs to the lead platform in production. The
	// seeder creates a stand-in so dispatch can resolve leads locally.
	if err := ensureDevLeadsTable(ctx, pool); err != nil {
		log.Fatalf("leads table: %v", err)
	}

	for _, rule := range demoRules() {
		if err := ruleStore.PutRule(ctx, rule); err != nil {
			log.Fatalf("put rule %s: %v", rule.Source, err)
		}
		log.Printf("seeded rule: %s (%d lenders)", rule.Source, len(rule.LenderPriority))
	}

	if err := seedLeads(ctx, pool); err != nil {
		log.Fatalf("seed leads: %v", err)
	}

	log.Println("seeding completed")
}

func ensureDevLeadsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS leads (
			id          TEXT PRIMARY KEY,
			phone       TEXT NOT NULL,
			source      TEXT NOT NULL,
			full_name   TEXT,
			loan_amount BIGINT
		)`)
	return err
}

func demoRules() []model.DistributionRule {
	budapest := model.OperatingHours{
		StartTime: "09:00",
		EndTime:   "20:00",
		Timezone:  "Europe/Budapest",
	}

	return []model.DistributionRule{
		{
			Source:  "personal-loan",
			Enabled: true,
			LenderPriority: []model.LenderPriority{
				{Lender: "magnet_bank", Priority: 1, DelayDays: 0},
				{Lender: "provident", Priority: 2, DelayDays: 1},
				{Lender: "cofidis", Priority: 3, DelayDays: 2},
			},
			Fallback: model.FallbackCampaign{Enabled: true, DelayDays: 2},
			Hours:    budapest,
		},
		{
			Source:  "car-loan",
			Enabled: true,
			LenderPriority: []model.LenderPriority{
				{Lender: "cofidis", Priority: 1, DelayDays: 0},
				{Lender: "magnet_bank", Priority: 2, DelayDays: 1},
			},
			Fallback: model.FallbackCampaign{Enabled: false},
			Hours:    budapest,
		},
	}
}

func seedLeads(ctx context.Context, pool *pgxpool.Pool) error {
	demo := []struct {
		id     string
		phone  string
		source string
		name   string
		amount int
	}{
		{"lead-0001", "+36201234567", "personal-loan", "Kovacs Anna", 500000},
		{"lead-0002", "+36301112233", "personal-loan", "Nagy Peter", 1200000},
		{"lead-0003", "+36709998877", "car-loan", "Szabo Eszter", 3500000},
	}

	for _, l := range demo {
		_, err := pool.Exec(ctx, `
			INSERT INTO leads (id, phone, source, full_name, loan_amount)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				phone = EXCLUDED.phone,
				source = EXCLUDED.source,
				full_name = EXCLUDED.full_name,
				loan_amount = EXCLUDED.loan_amount`,
			l.id, l.phone, l.source, l.name, l.amount,
		)
		if err != nil {
			return err
		}
		log.Printf("seeded lead: %s (%s)", l.id, l.source)
	}
	return nil
}
