package metadata

// KeyType is the role of a key-schema attribute.
type KeyType string

const (
	KeyTypeHash  KeyType = "HASH"
	KeyTypeRange KeyType = "RANGE"
)

// ScalarType restricts a key attribute to one of the three scalar
// attribute-value kinds, per spec §3.
type ScalarType string

const (
	ScalarS ScalarType = "S"
	ScalarN ScalarType = "N"
	ScalarB ScalarType = "B"
)

// KeySchemaElement names one key-schema attribute.
type KeySchemaElement struct {
	AttributeName string
	KeyType       KeyType
}

// AttributeDefinition fixes the scalar type of a key attribute.
type AttributeDefinition struct {
	AttributeName string
	Type          ScalarType
}

// Schema is a table definition: its name, a key schema of one or two
// entries (HASH required, RANGE optional), and the scalar types of those
// key attributes.
type Schema struct {
	TableName            string
	KeySchema            []KeySchemaElement
	AttributeDefinitions []AttributeDefinition
}

// PartitionKeyName returns the HASH attribute name.
func (s Schema) PartitionKeyName() string {
	for _, k := range s.KeySchema {
		if k.KeyType == KeyTypeHash {
			return k.AttributeName
		}
	}
	return ""
}

// SortKeyName returns the RANGE attribute name, or "" if the table has
// none.
func (s Schema) SortKeyName() string {
	for _, k := range s.KeySchema {
		if k.KeyType == KeyTypeRange {
			return k.AttributeName
		}
	}
	return ""
}

// HasSortKey reports whether the table has a RANGE key.
func (s Schema) HasSortKey() bool {
	return s.SortKeyName() != ""
}

// AttributeType returns the scalar type declared for name, if any.
func (s Schema) AttributeType(name string) (ScalarType, bool) {
	for _, a := range s.AttributeDefinitions {
		if a.AttributeName == name {
			return a.Type, true
		}
	}
	return "", false
}
