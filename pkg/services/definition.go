// Package services provides the application services that sit in front
// of the runtime: definition lifecycle management and the task surface
// used by human actors.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/persistence"
)

// graphSchema is the JSON shape every workflow graph must satisfy
// before structural validation runs.
var graphSchema = map[string]any{
	"type":     "object",
	"required": []any{"nodes"},
	"properties": map[string]any{
		"nodes": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "type"},
				"properties": map[string]any{
					"id":     map[string]any{"type": "string", "minLength": 1},
					"type":   map[string]any{"type": "string", "minLength": 1},
					"name":   map[string]any{"type": "string"},
					"config": map[string]any{"type": "object"},
				},
			},
		},
		"edges": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "source", "target"},
				"properties": map[string]any{
					"id":     map[string]any{"type": "string", "minLength": 1},
					"source": map[string]any{"type": "string", "minLength": 1},
					"target": map[string]any{"type": "string", "minLength": 1},
					"label":  map[string]any{"type": "string"},
				},
			},
		},
	},
}

// DefinitionService manages the draft/publish/version lifecycle of
// workflow definitions. Published versions are immutable: every edit
// path goes through a new draft version.
type DefinitionService struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewDefinitionService(store persistence.Persistence, logger *slog.Logger) *DefinitionService {
	return &DefinitionService{
		persistence: store,
		validator:   validator.New(),
		logger:      logger.With("module", "definition_service"),
	}
}

// CreateDefinition creates version 1 of a new definition as a draft.
func (s *DefinitionService) CreateDefinition(ctx context.Context, tenantID, name, description string, graph models.Graph) (*models.WorkflowDefinition, error) {
	now := time.Now().UTC()

	definition := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		Version:     1,
		Status:      models.DefinitionStatusDraft,
		Graph:       graph,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.validator.Struct(definition); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	if err := s.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Created workflow definition",
		"tenant_id", tenantID,
		"definition_id", definition.ID,
		"name", name)

	return definition, nil
}

// UpdateDraft replaces the graph of a draft version. Published and
// archived versions reject edits.
func (s *DefinitionService) UpdateDraft(ctx context.Context, tenantID, definitionID string, graph models.Graph) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}

	if definition.Status != models.DefinitionStatusDraft {
		return nil, fmt.Errorf("definition %s version %d is %s and cannot be edited", definitionID, definition.Version, definition.Status)
	}

	definition.Graph = graph
	definition.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

// Publish validates the draft graph and freezes it as executable.
func (s *DefinitionService) Publish(ctx context.Context, tenantID, definitionID, publishedBy string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}

	if definition.IsPublished() {
		return definition, nil
	}

	if definition.Status != models.DefinitionStatusDraft {
		return nil, fmt.Errorf("definition %s version %d is %s and cannot be published", definitionID, definition.Version, definition.Status)
	}

	if err := s.validator.Struct(definition); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	if err := s.ValidateGraph(&definition.Graph); err != nil {
		return nil, fmt.Errorf("definition %s failed validation: %w", definitionID, err)
	}

	now := time.Now().UTC()
	definition.Status = models.DefinitionStatusPublished
	definition.PublishedAt = &now
	definition.PublishedBy = publishedBy
	definition.UpdatedAt = now

	if err := s.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Published workflow definition",
		"tenant_id", tenantID,
		"definition_id", definitionID,
		"version", definition.Version,
		"published_by", publishedBy)

	return definition, nil
}

// NewVersion clones the latest version of a definition into a fresh
// draft with a bumped version number.
func (s *DefinitionService) NewVersion(ctx context.Context, tenantID, definitionID string) (*models.WorkflowDefinition, error) {
	latest, err := s.persistence.Definitions().GetByID(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	draft := &models.WorkflowDefinition{
		ID:          latest.ID,
		TenantID:    latest.TenantID,
		Name:        latest.Name,
		Description: latest.Description,
		Version:     latest.Version + 1,
		Status:      models.DefinitionStatusDraft,
		Graph:       latest.Graph,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.persistence.Definitions().Save(ctx, draft); err != nil {
		return nil, err
	}

	return draft, nil
}

// Archive retires a published version. Running instances keep executing
// their pinned version.
func (s *DefinitionService) Archive(ctx context.Context, tenantID, definitionID string) error {
	definition, err := s.persistence.Definitions().GetByID(ctx, tenantID, definitionID)
	if err != nil {
		return err
	}

	definition.Status = models.DefinitionStatusArchived
	definition.UpdatedAt = time.Now().UTC()

	return s.persistence.Definitions().Save(ctx, definition)
}

// ValidateGraph checks the graph against the JSON schema and the
// structural rules an executable workflow must satisfy.
func (s *DefinitionService) ValidateGraph(graph *models.Graph) error {
	raw, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}

	var document map[string]any
	if err := json.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("failed to decode graph: %w", err)
	}

	schemaLoader := gojsonschema.NewGoLoader(graphSchema)
	dataLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("graph schema validation failed: %s", strings.Join(problems, "; "))
	}

	return validateStructure(graph)
}

func validateStructure(graph *models.Graph) error {
	starts := 0
	ends := 0
	nodeIDs := make(map[string]bool, len(graph.Nodes))

	for _, node := range graph.Nodes {
		if nodeIDs[node.ID] {
			return fmt.Errorf("duplicate node id %q", node.ID)
		}

		nodeIDs[node.ID] = true

		switch node.Type {
		case models.NodeTypeStart:
			starts++
		case models.NodeTypeEnd:
			ends++
		}
	}

	if starts != 1 {
		return fmt.Errorf("graph must contain exactly one start node, found %d", starts)
	}

	if ends == 0 {
		return fmt.Errorf("graph must contain at least one end node")
	}

	edgeIDs := make(map[string]bool, len(graph.Edges))

	for _, edge := range graph.Edges {
		if edgeIDs[edge.ID] {
			return fmt.Errorf("duplicate edge id %q", edge.ID)
		}

		edgeIDs[edge.ID] = true

		if !nodeIDs[edge.Source] {
			return fmt.Errorf("edge %q references unknown source node %q", edge.ID, edge.Source)
		}

		if !nodeIDs[edge.Target] {
			return fmt.Errorf("edge %q references unknown target node %q", edge.ID, edge.Target)
		}
	}

	return nil
}
