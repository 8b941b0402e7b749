package router

import (
	"context"
	"sync"

	"llmgate/internal/models"
	"llmgate/internal/storage"
	"llmgate/internal/utils"
)

// Catalog is the in-memory view of the deployment table: model groups,
// access-group expansion and the global alias map. Reloaded periodically;
// reads are lock-cheap snapshots.
type Catalog struct {
	repo          *storage.DeploymentRepository
	globalAliases map[string]string
	logger        *utils.Logger

	mu           sync.RWMutex
	groups       map[string][]models.Deployment
	byID         map[string]models.Deployment
	accessGroups map[string][]string // group name -> model names
}

// NewCatalog creates a catalog. globalAliases may be nil.
func NewCatalog(repo *storage.DeploymentRepository, globalAliases map[string]string) *Catalog {
	if globalAliases == nil {
		globalAliases = map[string]string{}
	}
	return &Catalog{
		repo:          repo,
		globalAliases: globalAliases,
		logger:        utils.NewLogger("catalog"),
		groups:        map[string][]models.Deployment{},
		byID:          map[string]models.Deployment{},
		accessGroups:  map[string][]string{},
	}
}

// Reload replaces the in-memory view from the store.
func (c *Catalog) Reload(ctx context.Context) error {
	deployments, err := c.repo.ListActive(ctx)
	if err != nil {
		return err
	}

	groups := make(map[string][]models.Deployment)
	byID := make(map[string]models.Deployment)
	accessGroups := make(map[string][]string)
	for _, d := range deployments {
		groups[d.ModelName] = append(groups[d.ModelName], d)
		byID[d.ID] = d
		for _, g := range d.AccessGroups {
			accessGroups[g] = appendUnique(accessGroups[g], d.ModelName)
		}
	}

	c.mu.Lock()
	c.groups = groups
	c.byID = byID
	c.accessGroups = accessGroups
	c.mu.Unlock()

	c.logger.Info("deployment catalog reloaded",
		"deployments", len(deployments), "model_groups", len(groups))
	return nil
}

// ResolveAlias maps a model name through the global alias table. Key/team
// aliases are resolved by the caller first and take precedence.
func (c *Catalog) ResolveAlias(model string) string {
	if target, ok := c.globalAliases[model]; ok {
		return target
	}
	return model
}

// Group returns the deployments serving a model name.
func (c *Catalog) Group(model string) []models.Deployment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groups[model]
}

// ByID returns the deployment with the given id, when configured.
func (c *Catalog) ByID(id string) (models.Deployment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	return d, ok
}

// GrantsModel reports whether any entry of an allowed-model list is an
// access-group name whose group covers the model.
func (c *Catalog) GrantsModel(allowedModels []string, model string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entry := range allowedModels {
		for _, name := range c.accessGroups[entry] {
			if name == model {
				return true
			}
		}
	}
	return false
}

// KnownModel reports whether any deployment serves the model name.
func (c *Catalog) KnownModel(model string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.groups[model]) > 0
}

// ModelNames returns every configured model group name.
func (c *Catalog) ModelNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	return names
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
