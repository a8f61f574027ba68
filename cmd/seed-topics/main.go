package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/database"
	"github.com/prepdeck/prepdeck-backend/internal/logger"
)

type seedQuestion struct {
	Title         string
	Options       []string
	CorrectOption string
	Difficulty    string
}

type seedTopic struct {
	Section             string
	Slug                string
	Name                string
	TimeAllottedSeconds int
	Questions           []seedQuestion
}

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	fmt.Println("=== Seeding Demo Catalog ===")

	subjectCode := "GEN"
	subjectName := "General Knowledge"

	var subjectID int
	err = pool.QueryRow(ctx, "SELECT id FROM subjects WHERE code = $1", subjectCode).Scan(&subjectID)
	if err != nil {
		if err == pgx.ErrNoRows {
			fmt.Println("Subject GEN not found. Creating it...")
			err = pool.QueryRow(ctx,
				"INSERT INTO subjects (code, name) VALUES ($1, $2) RETURNING id",
				subjectCode, subjectName,
			).Scan(&subjectID)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create subject")
			}
			fmt.Printf("Created subject with ID: %d\n", subjectID)
		} else {
			log.Fatal().Err(err).Msg("Failed to check existing subject")
		}
	} else {
		fmt.Printf("Found existing subject with ID: %d\n", subjectID)
	}

	topics := []seedTopic{
		{
			Section:             "Basics",
			Slug:                "world-capitals",
			Name:                "World Capitals",
			TimeAllottedSeconds: 300,
			Questions: []seedQuestion{
				{"What is the capital of France?", []string{"Paris", "Lyon", "Marseille", "Nice"}, "Paris", "EASY"},
				{"What is the capital of Japan?", []string{"Osaka", "Kyoto", "Tokyo", "Nagoya"}, "Tokyo", "EASY"},
				{"What is the capital of Australia?", []string{"Sydney", "Melbourne", "Canberra", "Perth"}, "Canberra", "MEDIUM"},
				{"What is the capital of Canada?", []string{"Toronto", "Ottawa", "Vancouver", "Montreal"}, "Ottawa", "MEDIUM"},
				{"What is the capital of Kazakhstan?", []string{"Almaty", "Astana", "Shymkent", "Aktobe"}, "Astana", "HARD"},
			},
		},
		{
			Section:             "Basics",
			Slug:                "mental-math",
			Name:                "Mental Math",
			TimeAllottedSeconds: 180,
			Questions: []seedQuestion{
				{"12 x 12 = ?", []string{"124", "144", "132", "156"}, "144", "EASY"},
				{"What is 15% of 200?", []string{"25", "30", "35", "40"}, "30", "MEDIUM"},
				{"2^10 = ?", []string{"512", "1000", "1024", "2048"}, "1024", "MEDIUM"},
			},
		},
	}

	for _, t := range topics {
		var topicID string
		err = pool.QueryRow(ctx, "SELECT id FROM topics WHERE slug = $1", t.Slug).Scan(&topicID)
		if err == nil {
			fmt.Printf("Topic %q already exists, skipping\n", t.Slug)
			continue
		}
		if err != pgx.ErrNoRows {
			log.Fatal().Err(err).Msg("Failed to check existing topic")
		}

		err = pool.QueryRow(ctx,
			`INSERT INTO topics (subject_id, section, slug, name, time_allotted_seconds)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			subjectID, t.Section, t.Slug, t.Name, t.TimeAllottedSeconds,
		).Scan(&topicID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create topic")
		}

		for i, q := range t.Questions {
			opts, _ := json.Marshal(q.Options)
			_, err = pool.Exec(ctx,
				`INSERT INTO questions (topic_id, title, options, correct_option, difficulty, order_num)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				topicID, q.Title, opts, q.CorrectOption, q.Difficulty, i+1,
			)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create question")
			}
		}

		fmt.Printf("Seeded topic %q with %d questions\n", t.Slug, len(t.Questions))
	}

	fmt.Println("Seeding complete")
}
