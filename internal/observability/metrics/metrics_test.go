package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tenant_id", "ten_123"),
		attribute.String("user_id", "usr_456"),
		attribute.String("tier", "FREE"),
		attribute.String("agent", "finance"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "tenant_id" || attr.Key == "user_id" {
			t.Fatalf("expected identifier label %s to be dropped", attr.Key)
		}
	}
}
