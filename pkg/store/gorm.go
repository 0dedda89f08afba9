package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"lynus-agent/pkg/model"
)

// stepAllocRetries bounds retries when two writers race for the same step number.
const stepAllocRetries = 3

// GormStore persists everything through gorm (MySQL or SQLite).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.User{}).
			Where("email = ? OR username = ?", u.Email, u.Username).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}
		return tx.Create(&u).Error
	})
	if isDuplicate(err) {
		return model.User{}, ErrConflict
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return model.User{}, notFound(err)
	}
	return u, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return model.User{}, notFound(err)
	}
	return u, nil
}

func (s *GormStore) UserExists(ctx context.Context, email, username string) (bool, bool, error) {
	db := s.db.WithContext(ctx)
	var emailCount, nameCount int64
	if email != "" {
		if err := db.Model(&model.User{}).Where("email = ?", email).Count(&emailCount).Error; err != nil {
			return false, false, err
		}
	}
	if username != "" {
		if err := db.Model(&model.User{}).Where("username = ?", username).Count(&nameCount).Error; err != nil {
			return false, false, err
		}
	}
	return emailCount > 0, nameCount > 0, nil
}

func (s *GormStore) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	if t.TaskType == "" {
		t.TaskType = model.TaskTypeGeneral
	}
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *GormStore) GetTask(ctx context.Context, id uint) (model.Task, error) {
	var t model.Task
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return model.Task{}, notFound(err)
	}
	return t, nil
}

func (s *GormStore) ListTasks(ctx context.Context, f TaskFilter) ([]model.Task, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Task{}).Scopes(taskFilter(f)).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q := s.db.WithContext(ctx).Scopes(taskFilter(f)).Order("created_at DESC").Order("id DESC")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	tasks := []model.Task{}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func taskFilter(f TaskFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.UserID != 0 {
			db = db.Where("user_id = ?", f.UserID)
		}
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		if f.TaskType != "" {
			db = db.Where("task_type = ?", f.TaskType)
		}
		return db
	}
}

func (s *GormStore) UpdateTask(ctx context.Context, id uint, u TaskUpdate) (model.Task, error) {
	var t model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, id).Error; err != nil {
			return notFound(err)
		}
		fields := map[string]any{}
		if u.Progress != nil {
			fields["progress"] = *u.Progress
		}
		if u.Status != nil {
			fields["status"] = *u.Status
		}
		if u.ResultData != nil {
			fields["result_data"] = *u.ResultData
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&t).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&t, id).Error
	})
	if err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *GormStore) DeleteTask(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&model.TaskStep{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Task{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) CountTasks(ctx context.Context, userID uint) (TaskStats, error) {
	stats := newTaskStats()
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&model.Task{})
		if userID != 0 {
			db = db.Where("user_id = ?", userID)
		}
		return db
	}

	var byStatus []struct {
		Status model.TaskStatus
		N      int64
	}
	if err := s.db.WithContext(ctx).Scopes(scope).
		Select("status, COUNT(*) AS n").Group("status").Scan(&byStatus).Error; err != nil {
		return stats, err
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.N
		stats.Total += row.N
	}

	var byType []struct {
		TaskType model.TaskType
		N        int64
	}
	if err := s.db.WithContext(ctx).Scopes(scope).
		Select("task_type, COUNT(*) AS n").Group("task_type").Scan(&byType).Error; err != nil {
		return stats, err
	}
	for _, row := range byType {
		stats.ByType[row.TaskType] = row.N
	}
	return stats, nil
}

func (s *GormStore) AppendStep(ctx context.Context, taskID uint, stepType model.StepType, content string) (model.TaskStep, error) {
	var step model.TaskStep
	var err error
	for attempt := 0; attempt < stepAllocRetries; attempt++ {
		step, err = s.appendStep(ctx, taskID, stepType, content)
		if !isDuplicate(err) {
			break
		}
	}
	return step, err
}

func (s *GormStore) appendStep(ctx context.Context, taskID uint, stepType model.StepType, content string) (model.TaskStep, error) {
	step := model.TaskStep{TaskID: taskID, StepType: stepType, Content: content}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Task{}).Where("id = ?", taskID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		last, err := maxStep(tx, taskID)
		if err != nil {
			return err
		}
		step.StepNumber = last + 1
		return tx.Create(&step).Error
	})
	if err != nil {
		return model.TaskStep{}, err
	}
	return step, nil
}

func (s *GormStore) ListSteps(ctx context.Context, taskID uint) ([]model.TaskStep, error) {
	steps := []model.TaskStep{}
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("step_number ASC").Find(&steps).Error
	return steps, err
}

func (s *GormStore) MaxStepNumber(ctx context.Context, taskID uint) (int, error) {
	return maxStep(s.db.WithContext(ctx), taskID)
}

func maxStep(db *gorm.DB, taskID uint) (int, error) {
	var last int
	err := db.Model(&model.TaskStep{}).
		Where("task_id = ?", taskID).
		Select("COALESCE(MAX(step_number), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("max step number: %w", err)
	}
	return last, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// isDuplicate reports a unique-constraint violation. gorm translates MySQL's;
// the modernc SQLite driver's error has to be matched by code.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
