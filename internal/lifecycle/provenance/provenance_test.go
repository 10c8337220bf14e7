package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldSpec_Label(t *testing.T) {
	tests := []struct {
		spec     FieldSpec
		expected string
	}{
		{DB(), "db"},
		{Alias("businessName"), "alias(businessName)"},
		{Computed("owner_first_name + owner_last_name"), "computed(owner_first_name + owner_last_name)"},
		{FallbackNull("no submitted value"), "fallback_null(no submitted value)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.spec.Label())
		})
	}
}

func TestTag(t *testing.T) {
	record := map[string]interface{}{
		"business_name":  "Acme",
		"owner_phone":    "555-0100",
		"owner_email":    nil,
		"document_count": 3,
		"stage":          "in_review",
	}
	specs := map[string]FieldSpec{
		"business_name":  DB(),
		"owner_phone":    Alias("mobile"),
		"owner_email":    DB().OrElse(FallbackNull("not submitted")),
		"document_count": Computed("active documents"),
		"credit_score":   DB().OrElse(Alias("fico").OrElse(FallbackNull("not submitted"))),
	}

	tagged := Tag(record, specs)

	assert.Equal(t, map[string]string{
		"business_name":  "db",
		"owner_phone":    "alias(mobile)",
		"owner_email":    "fallback_null(not submitted)",
		"document_count": "computed(active documents)",
		"credit_score":   "fallback_null(not submitted)",
	}, tagged.Provenance)
	assert.Equal(t, record, tagged.Record)
	assert.NotContains(t, tagged.Provenance, "stage")
}

func TestTag_DoesNotMutateInput(t *testing.T) {
	record := map[string]interface{}{"business_name": "Acme"}

	tagged := Tag(record, map[string]FieldSpec{"business_name": DB()})
	tagged.Record["business_name"] = "changed"
	tagged.Record["extra"] = true

	assert.Equal(t, map[string]interface{}{"business_name": "Acme"}, record)
}

func TestTag_IfNullOnlyAppliesToNull(t *testing.T) {
	spec := DB().OrElse(FallbackNull("missing"))

	present := Tag(map[string]interface{}{"ein": "12-3456789"}, map[string]FieldSpec{"ein": spec})
	missing := Tag(map[string]interface{}{}, map[string]FieldSpec{"ein": spec})

	assert.Equal(t, "db", present.Provenance["ein"])
	assert.Equal(t, "fallback_null(missing)", missing.Provenance["ein"])
}
