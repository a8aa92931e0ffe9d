package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"workopilot/internal/domain"
)

// Document is one legacy per-task JSON file with its embedded subtasks.
type Document struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Status        domain.TaskStatus  `json:"status"`
	Complexity    *domain.Complexity `json:"complexity"`
	Initialized   bool               `json:"initialized"`
	SchemaVersion int                `json:"schema_version"`
	Context       domain.TaskContext `json:"context"`
	AIMetadata    json.RawMessage    `json:"ai_metadata"`
	Timestamps    struct {
		CreatedAt   *string `json:"created_at"`
		StartedAt   *string `json:"started_at"`
		CompletedAt *string `json:"completed_at"`
	} `json:"timestamps"`
	ModifiedAt *string            `json:"modified_at"`
	ModifiedBy *domain.ModifiedBy `json:"modified_by"`
	Subtasks   []LegacySubtask    `json:"subtasks"`
}

type LegacySubtask struct {
	ID                 string               `json:"id"`
	Title              string               `json:"title"`
	Status             domain.SubtaskStatus `json:"status"`
	Order              int                  `json:"order"`
	Description        *string              `json:"description"`
	AcceptanceCriteria []string             `json:"acceptance_criteria"`
	TechnicalNotes     *string              `json:"technical_notes"`
	PromptContext      *string              `json:"prompt_context"`
	CompletedAt        *string              `json:"completed_at"`
}

// ParseDocument decodes a legacy document and checks the fields the
// reconciler cannot work without.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse legacy document: %w", err)
	}
	if strings.TrimSpace(doc.ID) == "" {
		return doc, errors.New("legacy document has no id")
	}
	if doc.Status == "" {
		doc.Status = domain.TaskPending
	}
	if !doc.Status.Valid() {
		return doc, fmt.Errorf("legacy document %s has unknown status %q", doc.ID, doc.Status)
	}
	if doc.Complexity != nil && !doc.Complexity.Valid() {
		return doc, fmt.Errorf("legacy document %s has unknown complexity %q", doc.ID, *doc.Complexity)
	}
	if err := checkAIMetadata(doc.AIMetadata); err != nil {
		return doc, fmt.Errorf("legacy document %s: %w", doc.ID, err)
	}
	for i, st := range doc.Subtasks {
		if strings.TrimSpace(st.ID) == "" {
			return doc, fmt.Errorf("legacy document %s: subtask %d has no id", doc.ID, i)
		}
		if st.Status == "" {
			doc.Subtasks[i].Status = domain.SubtaskPending
		} else if !st.Status.Valid() {
			return doc, fmt.Errorf("legacy document %s: subtask %s has unknown status %q", doc.ID, st.ID, st.Status)
		}
	}
	return doc, nil
}

// checkAIMetadata rejects ai_metadata that the store could not read back.
// The raw bytes are kept as imported once they decode.
func checkAIMetadata(raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	var meta domain.AIMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("invalid ai_metadata: %w", err)
	}
	return nil
}

func (s LegacySubtask) toDomain(id, taskID string) domain.Subtask {
	return domain.Subtask{
		ID:                 id,
		TaskID:             taskID,
		Title:              s.Title,
		Status:             s.Status,
		Order:              s.Order,
		Description:        deref(s.Description),
		AcceptanceCriteria: s.AcceptanceCriteria,
		TechnicalNotes:     deref(s.TechnicalNotes),
		PromptContext:      deref(s.PromptContext),
		CompletedAt:        s.CompletedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
