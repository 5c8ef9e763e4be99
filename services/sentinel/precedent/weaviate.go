// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package precedent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// ClassName is the Weaviate class holding precedents.
const ClassName = "SentinelPrecedent"

// WeaviateConfig locates the Weaviate instance.
type WeaviateConfig struct {
	Host       string `yaml:"host"`
	Scheme     string `yaml:"scheme"`
	Vectorizer string `yaml:"vectorizer"`
	Limit      int    `yaml:"limit"`
}

// Weaviate is a semantic precedent source: cases are matched by the meaning
// of "<topic> at <location>: <summary>", not by exact location.
type Weaviate struct {
	client     *weaviate.Client
	limit      int
	vectorizer string
	logger     *slog.Logger
}

// NewWeaviate connects to Weaviate. Limit defaults to 5, vectorizer to
// text2vec-transformers.
func NewWeaviate(cfg WeaviateConfig, logger *slog.Logger) (*Weaviate, error) {
	if cfg.Host == "" {
		return nil, errors.New("weaviate host is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Vectorizer == "" {
		cfg.Vectorizer = "text2vec-transformers"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Weaviate{client: client, limit: cfg.Limit, vectorizer: cfg.Vectorizer, logger: logger}, nil
}

// Schema returns the class definition for precedents.
func Schema(vectorizer string) *models.Class {
	filterable := true
	return &models.Class{
		Class:       ClassName,
		Description: "A past disruption and the action taken for it.",
		Vectorizer:  vectorizer,
		Properties: []*models.Property{
			{Name: "eventId", DataType: []string{"text"}, IndexFilterable: &filterable, Tokenization: "field"},
			{Name: "content", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "location", DataType: []string{"text"}, IndexFilterable: &filterable},
			{Name: "eventType", DataType: []string{"text"}, IndexFilterable: &filterable},
			{Name: "actionTaken", DataType: []string{"text"}, IndexFilterable: &filterable},
			{Name: "daysSaved", DataType: []string{"number"}},
			{Name: "timestamp", DataType: []string{"number"}, IndexFilterable: &filterable},
		},
	}
}

// EnsureSchema creates the class when it does not exist.
func (w *Weaviate) EnsureSchema(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(ClassName).Do(ctx)
	if err != nil {
		return fmt.Errorf("check precedent class: %w", err)
	}
	if exists {
		return nil
	}
	if err := w.client.Schema().ClassCreator().WithClass(Schema(w.vectorizer)).Do(ctx); err != nil {
		return fmt.Errorf("create precedent class: %w", err)
	}
	w.logger.Info("Created Weaviate class", slog.String("class", ClassName))
	return nil
}

func concept(topic, location, summary string) string {
	return fmt.Sprintf("%s at %s: %s", topic, location, summary)
}

// Lookup implements Source.
func (w *Weaviate) Lookup(ctx context.Context, event model.DisruptionEvent) (Summary, error) {
	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{concept(event.Topic, event.Location, event.Summary)})

	result, err := w.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(
			graphql.Field{Name: "eventId"},
			graphql.Field{Name: "location"},
			graphql.Field{Name: "eventType"},
			graphql.Field{Name: "actionTaken"},
			graphql.Field{Name: "daysSaved"},
			graphql.Field{Name: "timestamp"},
		).
		WithNearText(nearText).
		WithLimit(w.limit + 1).
		Do(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("precedent search: %w", err)
	}
	if len(result.Errors) > 0 {
		return Summary{}, fmt.Errorf("precedent search error: %s", result.Errors[0].Message)
	}

	cases := parseCases(result, event.EventID)
	if len(cases) > w.limit {
		cases = cases[:w.limit]
	}
	return Summarize(cases, w.limit), nil
}

// Record implements Recorder.
func (w *Weaviate) Record(ctx context.Context, ev model.StoredEvent) error {
	_, err := w.client.Data().Creator().
		WithClassName(ClassName).
		WithProperties(map[string]interface{}{
			"eventId":     ev.EventID,
			"content":     concept(ev.EventType, ev.Location, string(ev.ActionTaken)),
			"location":    ev.Location,
			"eventType":   ev.EventType,
			"actionTaken": string(ev.ActionTaken),
			"daysSaved":   ev.DaysSaved,
			"timestamp":   ev.Timestamp,
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("store precedent %s: %w", ev.EventID, err)
	}
	return nil
}

// parseCases reads Get.<ClassName> objects in relevance order, dropping the
// event being evaluated.
func parseCases(result *models.GraphQLResponse, skipID string) []Case {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[ClassName].([]interface{})
	if !ok {
		return nil
	}
	cases := make([]Case, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		c := Case{
			EventID:     str(m["eventId"]),
			Location:    str(m["location"]),
			EventType:   str(m["eventType"]),
			ActionTaken: model.ActionKind(str(m["actionTaken"])),
			DaysSaved:   num(m["daysSaved"]),
			Timestamp:   num(m["timestamp"]),
		}
		if c.EventID == skipID {
			continue
		}
		cases = append(cases, c)
	}
	return cases
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

var (
	_ Source   = (*Weaviate)(nil)
	_ Recorder = (*Weaviate)(nil)
)
