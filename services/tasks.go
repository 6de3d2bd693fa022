package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskRegistry resolves tasks for the claim engine.
type TaskRegistry interface {
	Task(ctx context.Context, id string) (models.Task, error)
}

type TaskService struct {
	DB *gorm.DB
}

func NewTaskService(db *gorm.DB) *TaskService {
	return &TaskService{DB: db}
}

// TaskInput creates a task. Slug is derived from Title when empty.
type TaskInput struct {
	Slug         string  `json:"slug"`
	Title        string  `json:"title"`
	Description  *string `json:"description"`
	URL          *string `json:"url"`
	RewardPoints *int64  `json:"reward_points"`
	Active       *bool   `json:"active"`
}

// TaskPatch is a partial update; nil fields are unchanged.
type TaskPatch struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	URL          *string `json:"url"`
	RewardPoints *int64  `json:"reward_points"`
	Active       *bool   `json:"active"`
}

// TaskView is a task as shown to one account.
type TaskView struct {
	models.Task
	Completed bool `json:"completed"`
}

func (s *TaskService) Task(ctx context.Context, id string) (models.Task, error) {
	var task models.Task
	if _, err := uuid.Parse(id); err != nil {
		return task, ErrTaskNotFound
	}
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return task, ErrTaskNotFound
	}
	if err != nil {
		return task, storageErr("load task", err)
	}
	return task, nil
}

// List returns all tasks, or only active ones.
func (s *TaskService) List(ctx context.Context, activeOnly bool) ([]models.Task, error) {
	q := s.DB.WithContext(ctx).Order("created_at ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, storageErr("list tasks", err)
	}
	return tasks, nil
}

// ListForAccount returns active tasks flagged with whether accountID has
// already completed each one.
func (s *TaskService) ListForAccount(ctx context.Context, accountID string) ([]TaskView, error) {
	tasks, err := s.List(ctx, true)
	if err != nil {
		return nil, err
	}

	var doneIDs []string
	if err := s.DB.WithContext(ctx).
		Model(&models.TaskCompletion{}).
		Where("account_id = ?", accountID).
		Pluck("task_id", &doneIDs).Error; err != nil {
		return nil, storageErr("list completions", err)
	}
	done := make(map[string]bool, len(doneIDs))
	for _, id := range doneIDs {
		done[id] = true
	}

	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, TaskView{Task: t, Completed: done[t.ID]})
	}
	return views, nil
}

func (s *TaskService) Create(ctx context.Context, in TaskInput) (models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Task{}, fmt.Errorf("title is required: %w", ErrInvalidInput)
	}
	if in.RewardPoints != nil && *in.RewardPoints < 0 {
		return models.Task{}, ErrInvalidAmount
	}

	task := models.Task{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  in.Description,
		URL:          in.URL,
		RewardPoints: 50,
		Active:       true,
	}
	if in.RewardPoints != nil {
		task.RewardPoints = *in.RewardPoints
	}
	if in.Active != nil {
		task.Active = *in.Active
	}

	base := in.Slug
	if base == "" {
		base = title
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sl, err := uniqueSlug(tx, base)
		if err != nil {
			return err
		}
		task.Slug = sl
		return tx.Create(&task).Error
	})
	if err != nil {
		return models.Task{}, passThrough("create task", err)
	}

	logging.Logger.Info("[TASKS] task created", zap.String("task_id", task.ID), zap.String("slug", task.Slug))
	return task, nil
}

func (s *TaskService) Update(ctx context.Context, id string, patch TaskPatch) (models.Task, error) {
	task, err := s.Task(ctx, id)
	if err != nil {
		return task, err
	}
	if patch.RewardPoints != nil && *patch.RewardPoints < 0 {
		return task, ErrInvalidAmount
	}

	if patch.Title != nil && strings.TrimSpace(*patch.Title) != "" {
		task.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		task.Description = patch.Description
	}
	if patch.URL != nil {
		task.URL = patch.URL
	}
	if patch.RewardPoints != nil {
		task.RewardPoints = *patch.RewardPoints
	}
	if patch.Active != nil {
		task.Active = *patch.Active
	}

	if err := s.DB.WithContext(ctx).Save(&task).Error; err != nil {
		return task, storageErr("update task", err)
	}
	return task, nil
}

// Deactivate hides a task from listings and stops further completions.
// Completions already recorded are kept.
func (s *TaskService) Deactivate(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrTaskNotFound
	}
	res := s.DB.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return storageErr("deactivate task", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	logging.Logger.Info("[TASKS] task deactivated", zap.String("task_id", id))
	return nil
}

// ExternalTask is a task as published by the upstream registry.
type ExternalTask struct {
	Ref          string    `json:"id"`
	Title        string    `json:"title"`
	Description  *string   `json:"description"`
	URL          *string   `json:"url"`
	RewardPoints int64     `json:"reward_points"`
	Active       bool      `json:"active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpsertExternal inserts or refreshes tasks keyed by their upstream ref.
// Slugs of existing tasks are left untouched.
func (s *TaskService) UpsertExternal(ctx context.Context, batch []ExternalTask) (int, error) {
	count := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ext := range batch {
			if ext.Ref == "" || strings.TrimSpace(ext.Title) == "" {
				continue
			}
			if ext.RewardPoints < 0 {
				logging.Logger.Warn("[TASKS] skipping upstream task with negative reward", zap.String("ref", ext.Ref))
				continue
			}
			ref := ext.Ref

			var existing models.Task
			err := tx.Where("external_ref = ?", ref).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				sl, err := uniqueSlug(tx, ext.Title)
				if err != nil {
					return err
				}
				task := models.Task{
					ID:           uuid.NewString(),
					Slug:         sl,
					Title:        strings.TrimSpace(ext.Title),
					Description:  ext.Description,
					URL:          ext.URL,
					RewardPoints: ext.RewardPoints,
					Active:       ext.Active,
					ExternalRef:  &ref,
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "external_ref"}},
					DoUpdates: clause.AssignmentColumns([]string{"title", "description", "url", "reward_points", "active", "updated_at"}),
				}).Create(&task).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				if err := tx.Model(&existing).Updates(map[string]interface{}{
					"title":         strings.TrimSpace(ext.Title),
					"description":   ext.Description,
					"url":           ext.URL,
					"reward_points": ext.RewardPoints,
					"active":        ext.Active,
				}).Error; err != nil {
					return err
				}
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("upsert external tasks", err)
	}
	return count, nil
}

// uniqueSlug slugifies base and appends -2, -3... until it is free.
func uniqueSlug(tx *gorm.DB, base string) (string, error) {
	root := slug.Make(base)
	if root == "" {
		root = "task"
	}
	candidate := root
	for i := 2; ; i++ {
		var n int64
		if err := tx.Model(&models.Task{}).Where("slug = ?", candidate).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", root, i)
	}
}
