package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdeck/prepdeck-backend/internal/model"
)

// CatalogRepository handles subject/topic/question reads. Content authoring
// lives in a separate admin system; this service only consumes it.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ListSubjects returns all subjects ordered by name.
func (r *CatalogRepository) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name FROM subjects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []model.Subject
	for rows.Next() {
		var s model.Subject
		if err := rows.Scan(&s.ID, &s.Code, &s.Name); err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// ListTopics returns topics with question counts, optionally filtered by
// subject code and section.
func (r *CatalogRepository) ListTopics(ctx context.Context, subjectCode, section string) ([]model.Topic, error) {
	query := `
		SELECT t.id, t.subject_id, t.section, t.slug, t.name, t.time_allotted_seconds,
		       (SELECT COUNT(*) FROM questions q WHERE q.topic_id = t.id) AS question_count
		FROM topics t
		JOIN subjects s ON s.id = t.subject_id
		WHERE 1=1
	`
	args := []any{}
	if subjectCode != "" {
		args = append(args, subjectCode)
		query += fmt.Sprintf(" AND s.code = $%d", len(args))
	}
	if section != "" {
		args = append(args, section)
		query += fmt.Sprintf(" AND t.section = $%d", len(args))
	}
	query += " ORDER BY t.section, t.name"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.Section, &t.Slug, &t.Name,
			&t.TimeAllottedSeconds, &t.QuestionCount); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// GetTopicByID retrieves a topic with its question count.
func (r *CatalogRepository) GetTopicByID(ctx context.Context, id uuid.UUID) (*model.Topic, error) {
	t := &model.Topic{}
	err := r.pool.QueryRow(ctx,
		`SELECT t.id, t.subject_id, t.section, t.slug, t.name, t.time_allotted_seconds,
		        (SELECT COUNT(*) FROM questions q WHERE q.topic_id = t.id)
		 FROM topics t WHERE t.id = $1`, id,
	).Scan(&t.ID, &t.SubjectID, &t.Section, &t.Slug, &t.Name, &t.TimeAllottedSeconds, &t.QuestionCount)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListQuestionsByTopic returns a topic's question pool in authored order.
func (r *CatalogRepository) ListQuestionsByTopic(ctx context.Context, topicID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, topic_id, title, options, correct_option, difficulty, order_num
		 FROM questions WHERE topic_id = $1 ORDER BY order_num`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TopicID, &q.Title, &q.Options, &q.CorrectOption, &q.Difficulty, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
