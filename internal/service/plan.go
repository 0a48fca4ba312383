package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joeblew999/plat-siteplan/internal/plan"
)

// PlanService stores plan documents as YAML files, one per plan.
type PlanService struct {
	plansDir string
	mu       sync.RWMutex
}

// NewPlanService creates a new plan service.
func NewPlanService(dataDir string) *PlanService {
	return &PlanService{plansDir: filepath.Join(dataDir, "plans")}
}

// List returns every stored plan, sorted by id. Files that fail to parse
// are skipped.
func (s *PlanService) List() ([]PlanSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.plansDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []PlanSummary{}, nil
		}
		return nil, err
	}
	plans := []PlanSummary{}
	for _, entry := range entries {
		if entry.IsDir() || !isPlanFile(entry.Name()) {
			continue
		}
		p, err := plan.Load(filepath.Join(s.plansDir, entry.Name()))
		if err != nil {
			continue
		}
		plans = append(plans, PlanSummary{
			ID:      strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Title:   p.Title,
			Layers:  len(p.Layers),
			Objects: len(p.Objects),
		})
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}

// Get loads a plan by id.
func (s *PlanService) Get(id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, ok := s.find(id)
	if !ok {
		return nil, fmt.Errorf("plan %q: %w", id, ErrNotFound)
	}
	p, err := plan.Load(path)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

// Put creates or replaces a plan.
func (s *PlanService) Put(id string, p *plan.Plan) error {
	if err := validName(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.plansDir, 0755); err != nil {
		return err
	}
	p.ID = id
	path, ok := s.find(id)
	if !ok {
		path = filepath.Join(s.plansDir, id+".yaml")
	}
	return plan.Save(path, p)
}

// Delete removes a plan.
func (s *PlanService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.find(id)
	if !ok {
		return fmt.Errorf("plan %q: %w", id, ErrNotFound)
	}
	return os.Remove(path)
}

// PlansDir returns the path to the plans directory.
func (s *PlanService) PlansDir() string {
	return s.plansDir
}

func (s *PlanService) find(id string) (string, bool) {
	if validName(id) != nil {
		return "", false
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(s.plansDir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func isPlanFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
