package aras

// Kind identifies the logical PLM action an Operation performs.
type Kind string

const (
	KindGet                Kind = "get"
	KindCreate             Kind = "create"
	KindUpdate             Kind = "update"
	KindUpsertMerge        Kind = "upsert"
	KindUpdateProperty     Kind = "update_property"
	KindDelete             Kind = "delete"
	KindDeleteRelationship Kind = "delete_relationship"
	KindClearProperty      Kind = "clear_property"
	KindCallMethod         Kind = "call_method"
	KindGetList            Kind = "get_list"
)

// Kinds lists every supported operation kind.
var Kinds = []Kind{
	KindGet,
	KindCreate,
	KindUpdate,
	KindUpsertMerge,
	KindUpdateProperty,
	KindDelete,
	KindDeleteRelationship,
	KindClearProperty,
	KindCallMethod,
	KindGetList,
}

// Operation describes one PLM action. Which fields are required depends on
// Kind; Build reports a ValidationError for anything missing.
type Operation struct {
	Kind       Kind
	EntityType string

	// Identifier is the item id. For GetList it is the list id.
	Identifier string

	// Query options for Get (Expand is also honoured by GetList).
	Filter   string
	Select   string
	Expand   string
	OrderBy  string
	Top      int
	Skip     int
	PageSize int

	Properties map[string]interface{}

	MethodName string

	RelationshipName  string
	RelatedIdentifier string

	// PropertyName is used by ClearProperty and UpdateProperty.
	PropertyName string
	// Value is the new value for UpdateProperty.
	Value interface{}

	// Action sets the @aras.action annotation on Update ("update", "lock",
	// "unlock"). Empty or "edit" sends no annotation.
	Action string
	// Purge deletes a single version instead of every generation.
	Purge bool
	// ReturnMinimal asks the server for 204 No Content on writes.
	ReturnMinimal bool
}
