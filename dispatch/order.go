package dispatch

// Order is a signed priority used to sort handler descriptors within one
// context type. Lower values run first; ties are broken by registration
// index. Built-in endpoint handlers are centralized around OrderDefault so
// host-registered plug-in handlers can bracket them without needing to know
// the exact built-in values, per the "large static handler catalogs -> data,
// not code" design note: OrderDefault-500 to run before a built-in, and
// OrderDefault+1000 to run after the whole built-in chain.
type Order int

const (
	OrderDefault Order = 0

	// OrderEarly and OrderLate are convenience brackets for host handlers
	// that must run strictly before or after the built-in chain.
	OrderEarly Order = OrderDefault - 500
	OrderLate  Order = OrderDefault + 1000
)
