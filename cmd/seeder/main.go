//cmd/seeder/main.go
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/audience"
	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/db"
	"github.com/unclebandit/campaign-engine/internal/logger"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

const demoTenant = 1

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DSN(), log)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	recipients := &repository.RecipientRepository{DB: conn}
	campaigns := &repository.CampaignRepository{DB: conn}

	if err := seedRecipients(ctx, recipients); err != nil {
		log.Fatal("failed to seed recipients", zap.Error(err))
	}
	ids, err := seedCampaigns(ctx, campaigns)
	if err != nil {
		log.Fatal("failed to seed campaigns", zap.Error(err))
	}
	log.Info("database seeding completed", zap.Ints("campaign_ids", ids))
}

var cities = []string{"Nairobi", "Mombasa", "Kisumu", "Riyadh"}

func seedRecipients(ctx context.Context, repo *repository.RecipientRepository) error {
	names := []string{"Alice", "Brian", "Chao", "Dina", "Emeka", "Fatma", "George", "Hana", "Ivan", "Joy", "Khalid", "Lulu"}
	for i, name := range names {
		status := "open"
		switch i % 6 {
		case 4:
			status = "won"
		case 5:
			status = "lost"
		}
		locale := "en_KE"
		if cities[i%len(cities)] == "Riyadh" {
			locale = "ar_SA"
		}
		r := &model.Recipient{
			TenantID:  demoTenant,
			FirstName: name,
			LastName:  "Demo",
			Email:     fmt.Sprintf("%s@example.com", name),
			Phone:     fmt.Sprintf("+2547000000%02d", i),
			Status:    status,
			Locale:    locale,
			Fields: map[string]string{
				"city":              cities[i%len(cities)],
				"preferred_product": []string{"Shoes", "Bags", "Phones"}[i%3],
			},
			Consent: map[model.Channel]bool{
				model.ChannelSMS:      i%5 != 0,
				model.ChannelEmail:    true,
				model.ChannelWhatsApp: i%2 == 0,
			},
		}
		if err := repo.Create(ctx, r); err != nil {
			return fmt.Errorf("recipient %s: %w", name, err)
		}
	}
	return nil
}

func seedCampaigns(ctx context.Context, repo *repository.CampaignRepository) ([]int, error) {
	promo := &model.Template{
		TenantID: demoTenant,
		Name:     "promo",
		Body:     "Hi {{first_name|there}}, {{preferred_product|our products}} are on offer{{#if city=Nairobi}} at our Nairobi store{{/if}}!",
	}
	welcome := &model.Template{
		TenantID: demoTenant,
		Name:     "welcome",
		Subject:  "Welcome {{first_name}}",
		Body:     "{{#lang ar}}أهلا {{first_name}}{{/lang}}{{#lang en}}Welcome aboard, {{first_name|friend}}.{{/lang}}",
	}
	followUp := &model.Template{
		TenantID:     demoTenant,
		Name:         "follow-up",
		Body:         "Still looking for {{preferred_product|something}}?",
		MediaURL:     "https://cdn.example.com/{{preferred_product}}.jpg",
		MediaCaption: "Picked for {{first_name}}",
		MediaType:    "image",
	}
	for _, t := range []*model.Template{promo, welcome, followUp} {
		if err := repo.CreateTemplate(ctx, t); err != nil {
			return nil, fmt.Errorf("template %s: %w", t.Name, err)
		}
	}

	kenya := audience.Or(
		audience.Leaf("city", audience.OpEquals, "Nairobi"),
		audience.Leaf("city", audience.OpEquals, "Mombasa"),
	)
	list := []*model.Campaign{
		{
			TenantID:  demoTenant,
			Name:      "Weekend promo",
			Channel:   model.ChannelSMS,
			Kind:      model.KindBroadcast,
			Audience:  &kenya,
			StopRules: model.StopRules{OptOut: true, WonLost: true, Replied: true, FatigueEnabled: true, FatigueThresholdMessages: 3},
			Steps:     []model.Step{{Position: 1, Active: true, TemplateID: promo.ID}},
		},
		{
			TenantID:  demoTenant,
			Name:      "Onboarding",
			Channel:   model.ChannelEmail,
			Kind:      model.KindDrip,
			StopRules: model.StopRules{OptOut: true, Replied: true, FatigueEnabled: true},
			Steps: []model.Step{
				{Position: 1, Active: true, TemplateID: welcome.ID},
				{Position: 2, Active: true, DelayMinutes: 60 * 24, Channel: model.ChannelWhatsApp, TemplateID: followUp.ID},
			},
		},
	}
	ids := make([]int, 0, len(list))
	for _, c := range list {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("campaign %s: %w", c.Name, err)
		}
		if err := repo.Create(ctx, c); err != nil {
			return nil, fmt.Errorf("campaign %s: %w", c.Name, err)
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}
