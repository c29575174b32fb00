package seed

// exampleContact は連絡先が1件もないユーザーに作成するサンプル。
var exampleContact = map[string]any{
	"name":    "Example Contact",
	"email":   "example.contact@example.com",
	"phone":   "+1 (555) 123-4567",
	"company": "Example Company",
}

// exampleCompany は会社が1件もないユーザーに作成するサンプル。
var exampleCompany = map[string]any{
	"name":     "Example Company",
	"industry": "Technology",
	"size":     "Medium",
	"website":  "https://www.example.com",
}

type customer struct {
	Name       string
	Email      string
	Type       string
	Orders     int
	TotalSpent string
}

var sampleCustomers = []customer{
	{"John Smith", "john.smith@example.com", "VIP", 15, "2,450.00"},
	{"Emma Wilson", "emma.w@example.com", "Regular", 8, "1,280.00"},
	{"Michael Brown", "m.brown@example.com", "New", 2, "350.00"},
	{"Sarah Davis", "sarah.d@example.com", "Regular", 6, "890.00"},
	{"James Johnson", "j.johnson@example.com", "VIP", 12, "1,890.00"},
	{"Lisa Anderson", "l.anderson@example.com", "Regular", 4, "620.00"},
	{"David Miller", "d.miller@example.com", "VIP", 20, "3,150.00"},
	{"Emily Clark", "e.clark@example.com", "New", 1, "150.00"},
	{"Robert Wilson", "r.wilson@example.com", "Regular", 7, "980.00"},
	{"Jennifer Lee", "j.lee@example.com", "VIP", 18, "2,890.00"},
}

func (c customer) fields() map[string]any {
	return map[string]any{
		"name":       c.Name,
		"email":      c.Email,
		"type":       c.Type,
		"orders":     c.Orders,
		"totalSpent": c.TotalSpent,
	}
}

type order struct {
	OrderID        string
	CustomerID     string
	TotalPrice     string
	DeliveryStatus string
}

var sampleOrders = []order{
	{"67cd7773002fd0789226", "CUST001", "299.99", "Delivered"},
	{"89ef9995004fd0791234", "CUST002", "159.99", "Pending"},
	{"45ab3331006fd0795678", "CUST003", "499.99", "Shipped"},
	{"12cd4442008fd0799012", "CUST004", "89.99", "Delivered"},
	{"34ef5553010fd0792345", "CUST005", "199.99", "Cancelled"},
	{"78gh8864012fd0795678", "CUST006", "399.99", "Shipped"},
	{"90ij9975014fd0791234", "CUST007", "129.99", "Delivered"},
	{"23kl2286016fd0797890", "CUST008", "749.99", "Pending"},
	{"56mn5597018fd0793456", "CUST009", "279.99", "Shipped"},
	{"89op8808020fd0799012", "CUST010", "189.99", "Delivered"},
	{"12qr1119022fd0794567", "CUST001", "459.99", "Pending"},
	{"34st3330024fd0790123", "CUST002", "679.99", "Shipped"},
	{"67uv6641026fd0795678", "CUST003", "899.99", "Delivered"},
	{"89wx8852028fd0791234", "CUST004", "229.99", "Cancelled"},
	{"12yz1163030fd0796789", "CUST005", "319.99", "Shipped"},
}

func (o order) fields() map[string]any {
	return map[string]any{
		"orderId":        o.OrderID,
		"customerId":     o.CustomerID,
		"totalPrice":     o.TotalPrice,
		"deliveryStatus": o.DeliveryStatus,
	}
}
