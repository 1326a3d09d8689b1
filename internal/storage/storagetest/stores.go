package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// FakeScheduleStorage is an in-memory interfaces.ScheduleStorage.
type FakeScheduleStorage struct {
	mu        sync.Mutex
	schedules map[string]*models.Schedule
}

func NewFakeScheduleStorage() *FakeScheduleStorage {
	return &FakeScheduleStorage{schedules: make(map[string]*models.Schedule)}
}

func (f *FakeScheduleStorage) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	if schedule.Config == nil {
		schedule.Config = models.JSONMap{}
	}
	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	clone := *schedule
	f.schedules[schedule.ID] = &clone
	return nil
}

func (f *FakeScheduleStorage) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	schedule, ok := f.schedules[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	clone := *schedule
	return &clone, nil
}

func (f *FakeScheduleStorage) ListSchedules(ctx context.Context) ([]*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Schedule, 0, len(f.schedules))
	for _, schedule := range f.schedules {
		clone := *schedule
		out = append(out, &clone)
	}
	return out, nil
}

func (f *FakeScheduleStorage) ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Schedule
	for _, schedule := range f.schedules {
		if schedule.Active {
			clone := *schedule
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *FakeScheduleStorage) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[schedule.ID]; !ok {
		return interfaces.ErrNotFound
	}
	schedule.UpdatedAt = time.Now()
	clone := *schedule
	f.schedules[schedule.ID] = &clone
	return nil
}

func (f *FakeScheduleStorage) SetRepeatKey(ctx context.Context, id string, repeatKey *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	schedule, ok := f.schedules[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	schedule.RepeatKey = repeatKey
	schedule.UpdatedAt = time.Now()
	return nil
}

func (f *FakeScheduleStorage) DeleteSchedule(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(f.schedules, id)
	return nil
}

// FakeSourceStorage is an in-memory interfaces.SourceStorage.
type FakeSourceStorage struct {
	mu      sync.Mutex
	sources map[string]*models.Source
}

func NewFakeSourceStorage() *FakeSourceStorage {
	return &FakeSourceStorage{sources: make(map[string]*models.Source)}
}

func (f *FakeSourceStorage) CreateSource(ctx context.Context, source *models.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if source.ID == "" {
		source.ID = uuid.New().String()
	}
	now := time.Now()
	source.CreatedAt = now
	source.UpdatedAt = now
	clone := *source
	f.sources[source.ID] = &clone
	return nil
}

func (f *FakeSourceStorage) GetSource(ctx context.Context, id string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[id]
	if !ok || source.DeletedAt != nil {
		return nil, interfaces.ErrNotFound
	}
	clone := *source
	return &clone, nil
}

func (f *FakeSourceStorage) GetSourceByModuleKey(ctx context.Context, moduleKey string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, source := range f.sources {
		if source.ModuleKey == moduleKey && source.DeletedAt == nil {
			clone := *source
			return &clone, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *FakeSourceStorage) ListSources(ctx context.Context, activeOnly bool) ([]*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Source
	for _, source := range f.sources {
		if source.DeletedAt != nil {
			continue
		}
		if activeOnly && !source.Active {
			continue
		}
		clone := *source
		out = append(out, &clone)
	}
	return out, nil
}

func (f *FakeSourceStorage) UpdateSource(ctx context.Context, source *models.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[source.ID]; !ok {
		return interfaces.ErrNotFound
	}
	source.UpdatedAt = time.Now()
	clone := *source
	f.sources[source.ID] = &clone
	return nil
}

func (f *FakeSourceStorage) DeleteSource(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[id]
	if !ok || source.DeletedAt != nil {
		return interfaces.ErrNotFound
	}
	now := time.Now()
	source.DeletedAt = &now
	return nil
}

// FakeInstagramStorage is an in-memory interfaces.InstagramStorage.
type FakeInstagramStorage struct {
	mu       sync.Mutex
	accounts map[string]*models.InstagramAccount
}

func NewFakeInstagramStorage() *FakeInstagramStorage {
	return &FakeInstagramStorage{accounts: make(map[string]*models.InstagramAccount)}
}

func (f *FakeInstagramStorage) CreateAccount(ctx context.Context, account *models.InstagramAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now()
	clone := *account
	f.accounts[account.ID] = &clone
	return nil
}

func (f *FakeInstagramStorage) GetAccount(ctx context.Context, id string) (*models.InstagramAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	clone := *account
	return &clone, nil
}

func (f *FakeInstagramStorage) GetAccountByUsername(ctx context.Context, username string) (*models.InstagramAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.accounts {
		if account.Username == username {
			clone := *account
			return &clone, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *FakeInstagramStorage) ListAccounts(ctx context.Context, activeOnly bool) ([]*models.InstagramAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.InstagramAccount
	for _, account := range f.accounts {
		if activeOnly && !account.Active {
			continue
		}
		clone := *account
		out = append(out, &clone)
	}
	// Deterministic ordering by username, matching the real store.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Username > out[j].Username; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

func (f *FakeInstagramStorage) UpdateAccount(ctx context.Context, account *models.InstagramAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[account.ID]; !ok {
		return interfaces.ErrNotFound
	}
	clone := *account
	f.accounts[account.ID] = &clone
	return nil
}

func (f *FakeInstagramStorage) TouchLastScraped(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	account.LastScrapedAt = &at
	return nil
}

func (f *FakeInstagramStorage) DeleteAccount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(f.accounts, id)
	return nil
}

// FakeWordPressStorage is an in-memory interfaces.WordPressStorage.
type FakeWordPressStorage struct {
	mu       sync.Mutex
	settings map[string]*models.WordPressSettings
	exports  map[string]*models.WordPressExport
}

func NewFakeWordPressStorage() *FakeWordPressStorage {
	return &FakeWordPressStorage{
		settings: make(map[string]*models.WordPressSettings),
		exports:  make(map[string]*models.WordPressExport),
	}
}

// AddSettings seeds a settings row for tests.
func (f *FakeWordPressStorage) AddSettings(settings *models.WordPressSettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if settings.ID == "" {
		settings.ID = uuid.New().String()
	}
	clone := *settings
	f.settings[settings.ID] = &clone
}

func (f *FakeWordPressStorage) GetSettings(ctx context.Context, id string) (*models.WordPressSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	settings, ok := f.settings[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	clone := *settings
	return &clone, nil
}

func (f *FakeWordPressStorage) ListSettings(ctx context.Context) ([]*models.WordPressSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.WordPressSettings, 0, len(f.settings))
	for _, settings := range f.settings {
		clone := *settings
		out = append(out, &clone)
	}
	return out, nil
}

func (f *FakeWordPressStorage) CreateExport(ctx context.Context, export *models.WordPressExport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if export.ID == "" {
		export.ID = uuid.New().String()
	}
	if export.Status == "" {
		export.Status = models.ExportStatusProcessing
	}
	export.CreatedAt = time.Now()
	clone := *export
	f.exports[export.ID] = &clone
	return nil
}

func (f *FakeWordPressStorage) UpdateExportStatus(ctx context.Context, id string, status string, errorMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	export, ok := f.exports[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	export.Status = status
	export.Error = errorMsg
	if status == models.ExportStatusCompleted || status == models.ExportStatusFailed {
		if export.FinishedAt == nil {
			now := time.Now()
			export.FinishedAt = &now
		}
	}
	return nil
}

func (f *FakeWordPressStorage) ListExports(ctx context.Context, settingsID string, limit int) ([]*models.WordPressExport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WordPressExport
	for _, export := range f.exports {
		if export.SettingsID == settingsID {
			clone := *export
			out = append(out, &clone)
		}
	}
	return out, nil
}
