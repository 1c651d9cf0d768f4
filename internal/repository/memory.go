package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prospectia/enrichment-back/internal/domain"
)

// MemoryRepository backs local development and tests. It implements every
// repository contract over process memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	prospects map[string]*domain.Prospect
	settings  map[string]string
	overrides map[string]string
	usage     map[string]int
	analyses  map[string]*domain.AnalysisResult
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		prospects: make(map[string]*domain.Prospect),
		settings:  make(map[string]string),
		overrides: make(map[string]string),
		usage:     make(map[string]int),
		analyses:  make(map[string]*domain.AnalysisResult),
	}
}

func (r *MemoryRepository) GetProspect(_ context.Context, prospectID string) (*domain.Prospect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prospect, ok := r.prospects[prospectID]
	if !ok {
		return nil, fmt.Errorf("%w: prospect %s", ErrNotFound, prospectID)
	}
	clone := *prospect
	clone.Reviews = append([]string(nil), prospect.Reviews...)
	return &clone, nil
}

func (r *MemoryRepository) PutProspect(prospect *domain.Prospect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *prospect
	clone.Reviews = append([]string(nil), prospect.Reviews...)
	r.prospects[prospect.ID] = &clone
}

func (r *MemoryRepository) GetSetting(_ context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.settings[key]
	if !ok {
		return "", fmt.Errorf("%w: setting %s", ErrNotFound, key)
	}
	return value, nil
}

func (r *MemoryRepository) SetSetting(_ context.Context, key, value, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
	return nil
}

func (r *MemoryRepository) GetActiveOverride(_ context.Context, category string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	text, ok := r.overrides[category]
	if !ok {
		return "", fmt.Errorf("%w: override %s", ErrNotFound, category)
	}
	return text, nil
}

func (r *MemoryRepository) SetActiveOverride(category, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[category] = text
}

func (r *MemoryRepository) UpdateProspectAnalysis(
	_ context.Context,
	prospectID, userID string,
	analysis *domain.AnalysisResult,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *analysis
	r.analyses[prospectID] = &clone
	if prospect, ok := r.prospects[prospectID]; ok {
		prospect.Processed = true
	}
	r.usage[usageKey(userID, time.Now().UTC())]++
	return nil
}

// UsageCount reports the per-user counter for a calendar day.
func (r *MemoryRepository) UsageCount(userID string, day time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usage[usageKey(userID, day)]
}

// Analysis returns the last committed analysis for a prospect.
func (r *MemoryRepository) Analysis(prospectID string) (*domain.AnalysisResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	analysis, ok := r.analyses[prospectID]
	if !ok {
		return nil, false
	}
	clone := *analysis
	return &clone, true
}

func usageKey(userID string, day time.Time) string {
	return userID + "|" + day.UTC().Format("2006-01-02")
}
