package sessiongen

// Labels is the fixed set of event descriptions. Order matters for
// seeded reproducibility: a draw of index i always maps to Labels[i].
var Labels = [...]string{
	"Login",
	"View Product",
	"Add to Cart",
	"Search",
	"Logout",
	"Register",
	"Place Order",
	"Checkout",
	"Payment",
	"Confirmation",
}

var labelSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Labels))
	for _, l := range Labels {
		m[l] = struct{}{}
	}
	return m
}()

// IsLabel reports whether s is one of the fixed event descriptions.
func IsLabel(s string) bool {
	_, ok := labelSet[s]
	return ok
}
