package activity

import (
	"strings"
	"time"
)

// ScopeContext captures scope metadata attached to parameter events.
type ScopeContext struct {
	Name       string
	Label      string
	Precedence int
	FileID     string
}

// EventInput describes the common fields for configuration lifecycle events.
type EventInput struct {
	ActorID    string
	TenantID   string
	ObjectID   string
	Channel    string
	Version    string
	Checksum   string
	Order      []string
	Scope      ScopeContext
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildConfigurationPublishedEvent records a draft version being frozen.
func BuildConfigurationPublishedEvent(input EventInput) Event {
	return buildEvent("configuration.published", "configuration.version", input)
}

// BuildConfigurationArchivedEvent records a published version leaving
// latest-resolution.
func BuildConfigurationArchivedEvent(input EventInput) Event {
	return buildEvent("configuration.archived", "configuration.version", input)
}

// BuildCompositePublishedEvent records a composite version being frozen.
func BuildCompositePublishedEvent(input EventInput) Event {
	return buildEvent("composite.published", "composite.version", input)
}

// BuildCompositeArchivedEvent records a composite version leaving
// latest-resolution.
func BuildCompositeArchivedEvent(input EventInput) Event {
	return buildEvent("composite.archived", "composite.version", input)
}

// BuildScopeReorderedEvent records an atomic precedence rewrite.
func BuildScopeReorderedEvent(input EventInput) Event {
	return buildEvent("scope.reordered", "scope.set", input)
}

// BuildParametersActivatedEvent records a parameter file revision becoming
// the active one for its (scope, configuration) pair.
func BuildParametersActivatedEvent(input EventInput) Event {
	return buildEvent("parameters.activated", "parameter.file", input)
}

func buildEvent(verb, objectType string, input EventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Version != "" {
		metadata = ensureMetadata(metadata)
		metadata["version"] = input.Version
	}
	if input.Checksum != "" {
		metadata = ensureMetadata(metadata)
		metadata["checksum"] = input.Checksum
	}
	if len(input.Order) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["order"] = append([]string{}, input.Order...)
	}
	if input.Scope.Name != "" {
		metadata = ensureMetadata(metadata)
		metadata["scope_name"] = input.Scope.Name
		metadata["scope_precedence"] = input.Scope.Precedence
		if input.Scope.Label != "" {
			metadata["scope_label"] = input.Scope.Label
		}
		if input.Scope.FileID != "" {
			metadata["parameter_file_id"] = input.Scope.FileID
		}
	}

	objectID := strings.TrimSpace(input.ObjectID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.Scope.FileID)
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
