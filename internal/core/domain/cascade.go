package domain

// CascadeStep identifies the rows of one table matching a key column.
type CascadeStep struct {
	Table  string
	Column string
}

// CascadeSpec lists the dependent tables of an entity in deletion order,
// followed by the parent table itself.
type CascadeSpec struct {
	Entity   string
	Children []CascadeStep
	Parent   CascadeStep
}

var (
	ProductCascade = CascadeSpec{
		Entity:   "product",
		Children: []CascadeStep{{Table: "movements", Column: "product_id"}},
		Parent:   CascadeStep{Table: "products", Column: "id"},
	}

	UserCascade = CascadeSpec{
		Entity: "user",
		Children: []CascadeStep{
			{Table: "sessions", Column: "user_id"},
			{Table: "accounts", Column: "user_id"},
		},
		Parent: CascadeStep{Table: "users", Column: "id"},
	}
)
