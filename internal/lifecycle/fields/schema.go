package fields

// Canonical field names.
const (
	BusinessName         = "business_name"
	EIN                  = "ein"
	EntityType           = "entity_type"
	Industry             = "industry"
	RequestedAmount      = "requested_amount"
	AnnualRevenue        = "annual_revenue"
	TimeInBusinessMonths = "time_in_business_months"
	UseOfFunds           = "use_of_funds"
	CreditScore          = "credit_score"
	BusinessAddress      = "business_address"
	BusinessState        = "business_state"
	BusinessZip          = "business_zip"
	OwnerFirstName       = "owner_first_name"
	OwnerLastName        = "owner_last_name"
	OwnerEmail           = "owner_email"
	OwnerPhone           = "owner_phone"
)

// Field maps one canonical name to the ordered raw keys that may carry it.
// The canonical name itself is always tried first.
type Field struct {
	Name    string
	Aliases []string
}

// Candidates returns the lookup order for a field.
func (f Field) Candidates() []string {
	out := make([]string, 0, len(f.Aliases)+1)
	out = append(out, f.Name)
	for _, a := range f.Aliases {
		if a != f.Name {
			out = append(out, a)
		}
	}
	return out
}

// Schema is an ordered list of canonical fields.
type Schema struct {
	fields []Field
	owner  map[string]string // raw key -> canonical name
}

// NewSchema indexes fields. A raw key claimed by two fields stays with the
// first one declared.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{
		fields: fields,
		owner:  make(map[string]string),
	}
	for _, f := range fields {
		for _, key := range f.Candidates() {
			if _, taken := s.owner[key]; !taken {
				s.owner[key] = f.Name
			}
		}
	}
	return s
}

func (s *Schema) Fields() []Field {
	return s.fields
}

// Owner reports which canonical field a raw key belongs to.
func (s *Schema) Owner(rawKey string) (string, bool) {
	name, ok := s.owner[rawKey]
	return name, ok
}

// Lookup returns the field definition for a canonical name.
func (s *Schema) Lookup(name string) (Field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DefaultSchema is the current submission schema. Aliases cover the legacy
// web form (camelCase), the partner API and the broker CSV import.
func DefaultSchema() *Schema {
	return NewSchema(
		Field{Name: BusinessName, Aliases: []string{"businessName", "company_name", "companyName", "legal_name", "legalBusinessName", "dba"}},
		Field{Name: EIN, Aliases: []string{"taxId", "tax_id", "federal_ein", "fein", "federalTaxId"}},
		Field{Name: EntityType, Aliases: []string{"entityType", "business_type", "businessStructure", "legal_entity"}},
		Field{Name: Industry, Aliases: []string{"industryType", "naics_description", "business_industry"}},
		Field{Name: RequestedAmount, Aliases: []string{"loanAmount", "amount_requested", "requestedAmount", "loan_amount", "amount"}},
		Field{Name: AnnualRevenue, Aliases: []string{"annualRevenue", "revenue", "yearly_revenue", "grossAnnualRevenue", "gross_sales"}},
		Field{Name: TimeInBusinessMonths, Aliases: []string{"monthsInBusiness", "time_in_business", "timeInBusiness", "months_in_business"}},
		Field{Name: UseOfFunds, Aliases: []string{"useOfFunds", "loanPurpose", "purpose", "loan_purpose"}},
		Field{Name: CreditScore, Aliases: []string{"creditScore", "fico", "ficoScore", "fico_score"}},
		Field{Name: BusinessAddress, Aliases: []string{"businessAddress", "address", "street_address", "address1"}},
		Field{Name: BusinessState, Aliases: []string{"businessState", "state"}},
		Field{Name: BusinessZip, Aliases: []string{"businessZip", "zip", "zipCode", "postal_code"}},
		Field{Name: OwnerFirstName, Aliases: []string{"firstName", "first_name", "ownerFirstName", "fname"}},
		Field{Name: OwnerLastName, Aliases: []string{"lastName", "last_name", "ownerLastName", "lname"}},
		Field{Name: OwnerEmail, Aliases: []string{"email", "ownerEmail", "contactEmail", "contact_email"}},
		Field{Name: OwnerPhone, Aliases: []string{"phone", "ownerPhone", "mobile", "contact_phone", "phoneNumber"}},
	)
}
