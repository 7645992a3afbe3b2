package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/rcliao/contextai/internal/aierr"
	"github.com/rcliao/contextai/internal/model"
)

// DefaultWeaviateClass is the class holding customer message vectors.
const DefaultWeaviateClass = "CustomerMessage"

// WeaviateIndex stores vectors in a Weaviate class, filtered by customer_id.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateIndex connects to host (e.g. "localhost:8080") over scheme.
func NewWeaviateIndex(host, scheme, class string) (*WeaviateIndex, error) {
	if scheme == "" {
		scheme = "http"
	}
	if class == "" {
		class = DefaultWeaviateClass
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	return &WeaviateIndex{client: client, class: class}, nil
}

// ClassSchema returns the class definition the index expects.
func ClassSchema(class string) *models.Class {
	filterable := new(bool)
	*filterable = true
	text := func(name, desc, tokenization string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     desc,
			IndexFilterable: filterable,
			Tokenization:    tokenization,
		}
	}
	return &models.Class{
		Class:       class,
		Description: "A customer chat message and its embedding.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			text("customer_id", "Owning customer; every query is scoped to it.", "field"),
			text("document", "Message text.", "word"),
			text("message_id", "Source message id.", "field"),
			text("session_id", "Source session id.", "field"),
			text("sender_type", "customer or agent.", "field"),
			text("intent", "Intent detected for the message.", "field"),
			text("timestamp", "RFC3339 send time.", "field"),
		},
	}
}

// EnsureSchema creates the class when it does not exist yet.
func (x *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	if _, err := x.client.Schema().ClassGetter().WithClassName(x.class).Do(ctx); err == nil {
		return nil
	}
	if err := x.client.Schema().ClassCreator().WithClass(ClassSchema(x.class)).Do(ctx); err != nil {
		return aierr.Wrap(aierr.KindVectorSearch, "create class", err)
	}
	return nil
}

// Add stores doc with its vector.
func (x *WeaviateIndex) Add(ctx context.Context, doc Document) error {
	props := map[string]interface{}{
		"customer_id": doc.CustomerID,
		"document":    doc.Text,
		"message_id":  doc.Metadata.MessageID,
		"session_id":  doc.Metadata.SessionID,
		"sender_type": doc.Metadata.SenderType,
		"intent":      doc.Metadata.Intent,
		"timestamp":   doc.Metadata.Timestamp,
	}
	_, err := x.client.Data().Creator().
		WithClassName(x.class).
		WithProperties(props).
		WithVector(doc.Embedding).
		Do(ctx)
	if err != nil {
		return aierr.Wrap(aierr.KindVectorSearch, "weaviate add", err)
	}
	return nil
}

// Query runs a NearVector search scoped to one customer.
func (x *WeaviateIndex) Query(ctx context.Context, customerID string, vec []float32, topK int, f *Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}

	where := filters.Where().
		WithPath([]string{"customer_id"}).
		WithOperator(filters.Equal).
		WithValueString(customerID)
	if f != nil && f.Intent != "" {
		intent := filters.Where().
			WithPath([]string{"intent"}).
			WithOperator(filters.Equal).
			WithValueString(f.Intent)
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{where, intent})
	}

	fields := []graphql.Field{
		{Name: "document"},
		{Name: "message_id"},
		{Name: "session_id"},
		{Name: "sender_type"},
		{Name: "intent"},
		{Name: "timestamp"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	result, err := x.client.GraphQL().Get().
		WithClassName(x.class).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(x.client.GraphQL().NearVectorArgBuilder().WithVector(vec)).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, aierr.Wrap(aierr.KindVectorSearch, "weaviate query", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, aierr.Wrap(aierr.KindVectorSearch, "weaviate query", errors.New(strings.Join(msgs, "; ")))
	}

	return parseMatches(result.Data, x.class), nil
}

func parseMatches(data map[string]models.JSONObject, class string) []Match {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := get[class].([]interface{})
	if !ok {
		return nil
	}

	matches := make([]Match, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		str := func(k string) string {
			s, _ := obj[k].(string)
			return s
		}
		m := Match{
			Text: str("document"),
			Metadata: model.RecordMeta{
				MessageID:  str("message_id"),
				SessionID:  str("session_id"),
				SenderType: str("sender_type"),
				Intent:     str("intent"),
				Timestamp:  str("timestamp"),
			},
			Distance: 1,
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := add["distance"].(float64); ok {
				m.Distance = d
			}
			if id, ok := add["id"].(string); ok {
				m.ID = id
			}
		}
		matches = append(matches, m)
	}
	return matches
}
